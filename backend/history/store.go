package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/shared"
)

// defaultWindow bounds the stored list when no explicit MaxLength is set.
const defaultWindow = 100

// Store persists a user's message list in a Redis list keyed by
// "chat:" + userID, most-recently-pushed-first. Every read path reverses
// before returning so callers always see chronological order.
type Store struct {
	client redis.Cmdable
}

// NewStore wraps a Redis command surface. Cmdable keeps the store testable
// against miniredis and usable with both single clients and clusters.
func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Save appends a turn's messages for a user. A leading system message is
// never persisted. RemoveToolMessages drops tool round-trips before
// writing. The trim and the pushes run as one transactional pipeline so a
// concurrent reader never observes a half-applied turn.
func (s *Store) Save(ctx context.Context, messages []chat.Message, userID string, opts chat.HistoryOptions) error {
	key, err := chat.UserKey(userID)
	if err != nil {
		return err
	}

	if len(messages) > 0 && messages[0].Role == chat.RoleSystem {
		messages = messages[1:]
	}
	if opts.RemoveToolMessages {
		messages = chat.StripToolMessages(messages)
	}
	if len(messages) == 0 {
		// A turn may filter down to nothing (e.g. tool-only messages under
		// RemoveToolMessages); the expiry refresh still applies.
		return s.expire(ctx, key, opts.TTL)
	}

	serialized := make([]any, 0, len(messages))
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return shared.Wrap(shared.ErrKindMessageValidation, err, "failed to serialize message for %q", key)
		}
		serialized = append(serialized, string(data))
	}

	storedLen, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return shared.Wrap(shared.ErrKindStorage, err, "failed to read length of %q", key)
	}

	incoming := int64(len(messages))
	boundary := int64(defaultWindow) - incoming - 1
	if opts.MaxLength > 0 && storedLen+incoming > int64(opts.MaxLength) {
		boundary = int64(opts.MaxLength) - incoming - 1
	}
	if boundary < 0 {
		boundary = 0
	}

	pipe := s.client.TxPipeline()
	pipe.LTrim(ctx, key, 0, boundary)
	// Chronological push order keeps the newest message at the head.
	for _, entry := range serialized {
		pipe.LPush(ctx, key, entry)
	}
	if opts.MaxLength > 0 {
		// An incoming batch larger than MaxLength would overflow the window
		// even after the pre-trim.
		pipe.LTrim(ctx, key, 0, int64(opts.MaxLength)-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.Wrap(shared.ErrKindStorage, err, "failed to persist %d messages to %q", len(messages), key)
	}

	return s.expire(ctx, key, opts.TTL)
}

func (s *Store) expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return shared.Wrap(shared.ErrKindStorage, err, "failed to set expiry on %q", key)
	}
	return nil
}

// Load returns a user's stored messages in chronological order. An
// AppendedMessages of exactly zero short-circuits to an empty result
// without a store round-trip. Exactly one post-filter applies, in priority
// order: tool-message stripping, orphan pruning (when MaxLength is set), or
// none.
func (s *Store) Load(ctx context.Context, userID string, opts chat.HistoryOptions) ([]chat.Message, error) {
	key, err := chat.UserKey(userID)
	if err != nil {
		return nil, err
	}

	if opts.AppendedMessages != nil && *opts.AppendedMessages == 0 {
		return []chat.Message{}, nil
	}

	end := int64(-1)
	if opts.AppendedMessages != nil {
		end = int64(*opts.AppendedMessages) - 1
	}

	entries, err := s.client.LRange(ctx, key, 0, end).Result()
	if err != nil {
		return nil, shared.Wrap(shared.ErrKindStorage, err, "failed to read %q", key)
	}

	messages := make([]chat.Message, 0, len(entries))
	// Stored order is newest-first, so walk backwards.
	for i := len(entries) - 1; i >= 0; i-- {
		var msg chat.Message
		if err := json.Unmarshal([]byte(entries[i]), &msg); err != nil {
			return nil, shared.Wrap(shared.ErrKindMessageValidation, err, "failed to deserialize message from %q", key)
		}
		messages = append(messages, msg)
	}

	switch {
	case opts.RemoveToolMessages || (opts.SendToolMessages != nil && !*opts.SendToolMessages):
		return chat.StripToolMessages(messages), nil
	case opts.MaxLength > 0:
		return chat.PruneOrphanedToolMessages(messages), nil
	default:
		return messages, nil
	}
}

// Delete removes a user's history and reports whether a key was actually
// removed.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, shared.Errorf(shared.ErrKindValidation, "user id is required")
	}
	key, err := chat.UserKey(userID)
	if err != nil {
		return false, err
	}

	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, shared.Wrap(shared.ErrKindStorage, err, "failed to delete %q", key)
	}
	return removed > 0, nil
}
