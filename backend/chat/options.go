package chat

import "time"

// HistoryOptions governs both what is read back for context and what is
// retained in storage. Retention ignores AppendedMessages and
// SendToolMessages; reads ignore TTL. Pointer fields distinguish "unset"
// from an explicit zero.
type HistoryOptions struct {
	// AppendedMessages limits how many stored entries are read back as
	// context. Zero reads nothing, nil reads the full list.
	AppendedMessages *int
	// SendToolMessages set to false strips tool messages from read context
	// only.
	SendToolMessages *bool
	// RemoveToolMessages strips tool messages on both the read and the
	// write path.
	RemoveToolMessages bool
	// TTL sets a key expiry on write.
	TTL time.Duration
	// MaxLength caps the stored window and enables orphan pruning on read.
	MaxLength int
}

// Merge returns a new record with the override's set fields applied on top
// of o. Neither input is mutated.
func (o HistoryOptions) Merge(override HistoryOptions) HistoryOptions {
	merged := o
	if override.AppendedMessages != nil {
		merged.AppendedMessages = override.AppendedMessages
	}
	if override.SendToolMessages != nil {
		merged.SendToolMessages = override.SendToolMessages
	}
	if override.RemoveToolMessages {
		merged.RemoveToolMessages = true
	}
	if override.TTL != 0 {
		merged.TTL = override.TTL
	}
	if override.MaxLength != 0 {
		merged.MaxLength = override.MaxLength
	}
	return merged
}

// CompletionOptions are the per-call knobs of a single turn. Zero values
// mean "use the orchestrator default".
type CompletionOptions struct {
	Model       string
	Instruction string
	// Tools lists tool names to resolve and attach to the request.
	Tools []string
	// N requests multiple completion choices.
	N           int
	Temperature *float64
	MaxTokens   int64
	UserID      string
	History     HistoryOptions
}

func (o CompletionOptions) merge(override CompletionOptions) CompletionOptions {
	merged := o
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Instruction != "" {
		merged.Instruction = override.Instruction
	}
	if len(override.Tools) > 0 {
		merged.Tools = override.Tools
	}
	if override.N != 0 {
		merged.N = override.N
	}
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		merged.MaxTokens = override.MaxTokens
	}
	if override.UserID != "" {
		merged.UserID = override.UserID
	}
	merged.History = o.History.Merge(override.History)
	return merged
}
