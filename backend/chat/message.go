package chat

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/mkade/sage/shared"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation, in chronological order within a
// turn. A tool message always carries ToolCallID; an assistant message
// carries ToolCalls only when the model requested function execution.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// IsToolRelated reports whether the message belongs to a tool round-trip:
// either a tool result or an assistant message requesting tool execution.
func (m Message) IsToolRelated() bool {
	return m.Role == RoleTool || (m.Role == RoleAssistant && len(m.ToolCalls) > 0)
}

// ToolCall is a model-issued request to execute a named function with raw
// JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ToolDefinition declares a callable tool to the model. Immutable once
// validated.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

func (d ToolDefinition) Validate() error {
	if d.Name == "" || len(d.Name) > 64 || !toolNamePattern.MatchString(d.Name) {
		return shared.Errorf(shared.ErrKindInvalidTool, "tool name %q must match [A-Za-z0-9_-]{1,64}", d.Name)
	}
	return nil
}

// ToolFunction executes a tool call with its raw JSON argument payload and
// returns the result text fed back to the model. The tool name is the join
// key between a ToolDefinition and its ToolFunction.
type ToolFunction func(ctx context.Context, args json.RawMessage) (string, error)

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Request is the single provider call the orchestrator issues: model id,
// full message context and optional tool declarations plus scalar
// generation parameters.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	N           int
	Temperature *float64
	MaxTokens   int64
}

type Choice struct {
	Message Message `json:"message"`
}

// Completion is one raw provider response.
type Completion struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// CompletionResult aggregates a full turn: the answer text per choice,
// token usage summed across every provider call of the turn, the new
// messages produced by the turn and the raw provider responses.
type CompletionResult struct {
	Choices            []string
	TotalUsage         Usage
	CompletionMessages []Message
	Completions        []*Completion
}
