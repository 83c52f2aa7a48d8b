package cmd

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/backend/history"
)

func newHistoryStore(client redis.Cmdable) *history.Store {
	return history.NewStore(client)
}

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage stored conversation history",
	}

	cmd.AddCommand(newHistoryClearCmd())

	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored conversation for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := os.Getenv("REDIS_ADDR")
			if addr == "" {
				return fmt.Errorf("REDIS_ADDR is not set")
			}

			store := newHistoryStore(redis.NewClient(&redis.Options{Addr: addr}))
			removed, err := store.Delete(cmd.Context(), user)
			if err != nil {
				return err
			}

			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "History cleared for %q\n", user)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No stored history for %q\n", user)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", chat.DefaultUserID, "user id whose history is cleared")

	return cmd
}
