package chat

import (
	"regexp"

	"github.com/mkade/sage/shared"
)

const (
	// DefaultUserID is used when no user identifier is supplied.
	DefaultUserID = "default"

	keyPrefix = "chat:"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UserKey derives the storage key for a user identifier. An empty id maps
// to DefaultUserID; anything failing the pattern or length check is
// rejected before any store access, never truncated.
func UserKey(userID string) (string, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	if !userIDPattern.MatchString(userID) {
		return "", shared.Errorf(shared.ErrKindRedisKeyValidation, "user id %q must match [A-Za-z0-9_-]{1,64}", userID)
	}
	return keyPrefix + userID, nil
}
