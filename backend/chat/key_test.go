package chat

import (
	"strings"
	"testing"

	"github.com/mkade/sage/shared"
)

func TestUserKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		userID  string
		want    string
		wantErr bool
	}{
		{name: "empty id maps to default", userID: "", want: "chat:default"},
		{name: "simple id", userID: "alice", want: "chat:alice"},
		{name: "underscores and dashes", userID: "alice_b-2", want: "chat:alice_b-2"},
		{name: "64 characters accepted", userID: strings.Repeat("a", 64), want: "chat:" + strings.Repeat("a", 64)},
		{name: "65 characters rejected", userID: strings.Repeat("a", 65), wantErr: true},
		{name: "space rejected", userID: "bad id!", wantErr: true},
		{name: "colon rejected", userID: "a:b", wantErr: true},
		{name: "unicode rejected", userID: "usér", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := UserKey(tt.userID)
			if tt.wantErr {
				if !shared.IsKind(err, shared.ErrKindRedisKeyValidation) {
					t.Fatalf("expected redis key validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UserKey failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("UserKey(%q) = %q, want %q", tt.userID, got, tt.want)
			}
		})
	}
}
