package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/backend/model"
	"github.com/mkade/sage/backend/search"
	"github.com/mkade/sage/backend/toolbox"
	"github.com/mkade/sage/frontend/cli/pkg/terminal"
)

const searchToolName = "exa_web_search"

type researchOptions struct {
	model     string
	user      string
	noHistory bool
	toolsDir  string
	window    int
	maxStored int
}

func NewResearchCmd() *cobra.Command {
	options := &researchOptions{}

	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Ask a research question, answered with web search when needed",
		Long: `Ask a research question, answered with web search when needed.

Examples:
  # One-shot query
  sage research "What changed in Go 1.24?"

  # Interactive session with persistent history
  sage research --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, toolNames, err := buildOrchestrator(options)
			if err != nil {
				return err
			}

			completionOpts := chat.CompletionOptions{
				Model:  options.model,
				Tools:  toolNames,
				UserID: options.user,
				History: chat.HistoryOptions{
					AppendedMessages: &options.window,
					MaxLength:        options.maxStored,
					TTL:              7 * 24 * time.Hour,
				},
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, terminal.Banner("🔍 Sage Research Assistant", "Powered by Exa web search"))

			if len(args) > 0 {
				return runQuery(cmd, orchestrator, strings.Join(args, " "), completionOpts)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, terminal.Prompt("\nEnter your research query (empty to quit):"))
				if !scanner.Scan() {
					return scanner.Err()
				}
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					return nil
				}
				if err := runQuery(cmd, orchestrator, query, completionOpts); err != nil {
					return err
				}
			}
		},
	}

	cmd.Flags().StringVar(&options.model, "model", envOr("SAGE_MODEL", "gpt-4o"), "model used for completions")
	cmd.Flags().StringVar(&options.user, "user", "", "user id scoping the conversation history")
	cmd.Flags().BoolVar(&options.noHistory, "no-history", false, "disable loading and persisting history")
	cmd.Flags().StringVar(&options.toolsDir, "tools-dir", os.Getenv("SAGE_TOOLS_DIR"), "directory of script tool modules to load")
	cmd.Flags().IntVar(&options.window, "window", 20, "number of stored messages sent as context")
	cmd.Flags().IntVar(&options.maxStored, "max-stored", 50, "cap on stored history length per user")

	return cmd
}

func buildOrchestrator(options *researchOptions) (*chat.Orchestrator, []string, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	provider, err := model.NewOpenAIProvider(apiKey)
	if err != nil {
		return nil, nil, err
	}

	registry := toolbox.NewRegistry()
	if options.toolsDir != "" {
		if err := registry.Load(options.toolsDir); err != nil {
			return nil, nil, err
		}
	}

	var toolNames []string
	if exaKey := os.Getenv("EXA_API_KEY"); exaKey != "" {
		exa, err := search.NewExaClient(exaKey)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(exa.Tool()); err != nil {
			return nil, nil, err
		}
		toolNames = append(toolNames, searchToolName)
	} else {
		slog.Warn("EXA_API_KEY is not set, web search is disabled")
	}

	orchestratorOpts := []chat.OrchestratorOption{
		chat.WithTools(registry),
		chat.WithDefaults(chat.CompletionOptions{
			Instruction: researchInstruction(),
		}),
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" && !options.noHistory {
		client := redis.NewClient(&redis.Options{Addr: addr})
		orchestratorOpts = append(orchestratorOpts, chat.WithHistory(newHistoryStore(client)))
	} else if !options.noHistory {
		slog.Warn("REDIS_ADDR is not set, conversation history is disabled")
	}

	orchestrator, err := chat.NewOrchestrator(provider, orchestratorOpts...)
	if err != nil {
		return nil, nil, err
	}

	return orchestrator, toolNames, nil
}

func runQuery(cmd *cobra.Command, orchestrator *chat.Orchestrator, query string, opts chat.CompletionOptions) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, terminal.Status("Researching: "+terminal.Truncate(query, 60)))

	requestID := uuid.NewString()
	slog.Debug("running research query", "request_id", requestID, "user", opts.UserID)

	result, err := orchestrator.Complete(cmd.Context(), query, opts)
	if err != nil {
		slog.Error("research query failed", "request_id", requestID, "error", err)
		return err
	}

	fmt.Fprintln(out, terminal.ResultPanel("Research Results", result.Choices[0], 100))
	fmt.Fprintln(out, terminal.Usage(result.TotalUsage.PromptTokens, result.TotalUsage.CompletionTokens, result.TotalUsage.TotalTokens))
	return nil
}

func researchInstruction() string {
	return fmt.Sprintf("You are a helpful research assistant that can search the web for "+
		"information using the %s tool when needed. "+
		"After reviewing initial results, decide on follow-up searches to gather "+
		"more information. Provide comprehensive, well-structured responses in markdown. "+
		"Current date and time: %s", searchToolName, time.Now().Format("2006-01-02 15:04"))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
