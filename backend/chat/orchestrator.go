package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/mkade/sage/shared"
)

// NoContentPlaceholder is returned as the single choice when the model
// produced no content.
const NoContentPlaceholder = "<no content>"

// Provider is the narrow completion capability the orchestrator depends
// on: submit one request, get one response. Retries, rate limiting and
// transport concerns live behind this interface.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// HistoryStore persists and retrieves a user's conversation, chronological
// order on the way out.
type HistoryStore interface {
	Save(ctx context.Context, messages []Message, userID string, opts HistoryOptions) error
	Load(ctx context.Context, userID string, opts HistoryOptions) ([]Message, error)
}

// ToolResolver maps requested tool names to declarations and
// implementations.
type ToolResolver interface {
	Resolve(names []string) ([]ToolDefinition, error)
	Lookup(name string) (ToolFunction, bool)
}

type OrchestratorOption func(*Orchestrator)

// WithHistory attaches a history store. Without one, turns are not
// persisted and no context is loaded.
func WithHistory(store HistoryStore) OrchestratorOption {
	return func(o *Orchestrator) {
		o.history = store
	}
}

// WithTools attaches a tool resolver for turns that request tools.
func WithTools(resolver ToolResolver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tools = resolver
	}
}

// WithDefaults seeds the per-call options every turn starts from. Per-call
// overrides win field by field.
func WithDefaults(defaults CompletionOptions) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaults = defaults
	}
}

// WithDefaultMessages seeds messages placed before any loaded history.
func WithDefaultMessages(messages ...Message) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultMessages = messages
	}
}

// Orchestrator turns a single user message into a finished conversational
// turn: context assembly, completion call, tool round-trip when requested
// by the model, and persistence.
type Orchestrator struct {
	provider        Provider
	history         HistoryStore
	tools           ToolResolver
	defaults        CompletionOptions
	defaultMessages []Message
}

func NewOrchestrator(provider Provider, opts ...OrchestratorOption) (*Orchestrator, error) {
	if provider == nil {
		return nil, shared.Errorf(shared.ErrKindValidation, "completion provider is required")
	}

	orchestrator := &Orchestrator{provider: provider}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator, nil
}

// Complete runs one turn. The caller receives either a fully formed result
// or a single typed error; a turn that fails to persist does not return a
// result even though the model produced one.
func (o *Orchestrator) Complete(ctx context.Context, message string, opts CompletionOptions) (*CompletionResult, error) {
	merged := o.defaults.merge(opts)
	if merged.Model == "" {
		return nil, shared.Errorf(shared.ErrKindValidation, "model is required")
	}
	if message == "" {
		return nil, shared.Errorf(shared.ErrKindValidation, "message is required")
	}

	contextMessages, err := o.gatherContext(ctx, merged)
	if err != nil {
		return nil, err
	}

	userMessage := NewUserMessage(message)
	contextMessages = append(contextMessages, userMessage)

	var definitions []ToolDefinition
	if len(merged.Tools) > 0 {
		if o.tools == nil {
			return nil, shared.Errorf(shared.ErrKindValidation, "tools requested but no registry configured")
		}
		definitions, err = o.tools.Resolve(merged.Tools)
		if err != nil {
			return nil, err
		}
	}

	request := &Request{
		Model:       merged.Model,
		Messages:    contextMessages,
		Tools:       definitions,
		N:           merged.N,
		Temperature: merged.Temperature,
		MaxTokens:   merged.MaxTokens,
	}

	first, err := o.provider.Complete(ctx, request)
	if err != nil {
		return nil, wrapUntyped(err, shared.ErrKindChatCompletion, "completion request failed")
	}
	if len(first.Choices) == 0 {
		return nil, shared.Errorf(shared.ErrKindChatCompletion, "provider returned no choices")
	}

	completions := []*Completion{first}
	newMessages := []Message{userMessage}

	assistant := first.Choices[0].Message
	if len(assistant.ToolCalls) > 0 {
		newMessages = append(newMessages, assistant)

		toolResults, err := o.executeToolCalls(ctx, assistant.ToolCalls, &newMessages)
		if err != nil {
			return nil, err
		}

		followUp := &Request{
			Model:       merged.Model,
			Messages:    append(append(append([]Message{}, contextMessages...), assistant), toolResults...),
			Tools:       definitions,
			N:           merged.N,
			Temperature: merged.Temperature,
			MaxTokens:   merged.MaxTokens,
		}

		second, err := o.provider.Complete(ctx, followUp)
		if err != nil {
			return nil, wrapUntyped(err, shared.ErrKindToolCompletion, "follow-up completion after tool execution failed")
		}
		if len(second.Choices) == 0 {
			return nil, shared.Errorf(shared.ErrKindToolCompletion, "provider returned no choices after tool execution")
		}
		completions = append(completions, second)
	}

	final := completions[len(completions)-1]
	for _, choice := range final.Choices {
		newMessages = append(newMessages, choice.Message)
	}

	if o.history != nil {
		if err := o.history.Save(ctx, newMessages, merged.UserID, merged.History); err != nil {
			return nil, wrapUntyped(err, shared.ErrKindStorage, "failed to persist turn")
		}
	}

	return buildResult(merged, completions, newMessages), nil
}

// gatherContext merges seeded default messages with stored history and
// resolves the system instruction.
func (o *Orchestrator) gatherContext(ctx context.Context, merged CompletionOptions) ([]Message, error) {
	contextMessages := slices.Clone(o.defaultMessages)

	if o.history != nil {
		stored, err := o.history.Load(ctx, merged.UserID, merged.History)
		if err != nil {
			return nil, err
		}
		contextMessages = append(contextMessages, stored...)
	}

	// A truncated window can split a tool call from its result; prune
	// before the model sees the context.
	if len(merged.Tools) > 0 && merged.History.AppendedMessages != nil {
		contextMessages = PruneOrphanedToolMessages(contextMessages)
	}

	if merged.Instruction != "" {
		system := NewSystemMessage(merged.Instruction)
		if len(contextMessages) > 0 && contextMessages[0].Role == RoleSystem {
			contextMessages[0] = system
		} else {
			contextMessages = slices.Insert(contextMessages, 0, system)
		}
	}

	return contextMessages, nil
}

// executeToolCalls runs the batch sequentially, in request order. The
// first failure aborts the remaining calls, but is still recorded as a
// tool-result message carrying a serialized error payload so the failure
// stays visible in the transcript.
func (o *Orchestrator) executeToolCalls(ctx context.Context, calls []ToolCall, transcript *[]Message) ([]Message, error) {
	if o.tools == nil {
		return nil, shared.Errorf(shared.ErrKindFunctionCall, "model requested tools but no registry is configured")
	}

	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		result, err := o.executeToolCall(ctx, call)
		if err != nil {
			payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
			if marshalErr != nil {
				payload = []byte(`{"error":"tool execution failed"}`)
			}
			*transcript = append(*transcript, NewToolMessage(call.ID, string(payload)))

			slog.Error("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
			return nil, err
		}

		resultMessage := NewToolMessage(call.ID, result)
		results = append(results, resultMessage)
		*transcript = append(*transcript, resultMessage)
	}

	return results, nil
}

func (o *Orchestrator) executeToolCall(ctx context.Context, call ToolCall) (string, error) {
	fn, ok := o.tools.Lookup(call.Name)
	if !ok {
		return "", shared.Wrap(shared.ErrKindFunctionCall,
			shared.Errorf(shared.ErrKindToolNotFound, "tool %q is not registered", call.Name),
			"cannot execute tool call %q", call.ID)
	}

	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return "", shared.Errorf(shared.ErrKindFunctionCall, "tool %q received unparsable arguments", call.Name)
	}

	result, err := fn(ctx, call.Arguments)
	if err != nil {
		if shared.IsKind(err, shared.ErrKindFunctionCall) {
			return "", err
		}
		return "", shared.Wrap(shared.ErrKindFunctionCall, err, "tool %q failed", call.Name)
	}

	return result, nil
}

func buildResult(merged CompletionOptions, completions []*Completion, newMessages []Message) *CompletionResult {
	final := completions[len(completions)-1]

	var choices []string
	if merged.N > 1 {
		for _, choice := range final.Choices {
			if choice.Message.Content != "" {
				choices = append(choices, choice.Message.Content)
			}
		}
	}
	if len(choices) == 0 {
		content := final.Choices[0].Message.Content
		if content == "" {
			content = NoContentPlaceholder
		}
		choices = []string{content}
	}

	var total Usage
	for _, completion := range completions {
		total = total.Add(completion.Usage)
	}

	return &CompletionResult{
		Choices:            choices,
		TotalUsage:         total,
		CompletionMessages: newMessages,
		Completions:        completions,
	}
}

// wrapUntyped re-raises known typed errors unchanged and wraps anything
// else into the most specific applicable kind.
func wrapUntyped(err error, kind shared.ErrorKind, message string) error {
	var typed *shared.Error
	if errors.As(err, &typed) {
		return err
	}
	return shared.Wrap(kind, err, "%s", message)
}
