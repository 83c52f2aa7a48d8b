package model

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/shared"
	"github.com/mkade/sage/shared/resilience"
)

// OpenAIProvider implements chat.Provider against the OpenAI
// chat-completions API (or any compatible endpoint via WithURL). Retries
// and circuit breaking live here so the orchestrator never sees transient
// transport failures.
type OpenAIProvider struct {
	client         openai.Client
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	metrics        *providerMetrics
}

func NewOpenAIProvider(apiKey string, opts ...ProviderOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, shared.Errorf(shared.ErrKindValidation, "openai API key is required")
	}

	providerOptions := DefaultProviderOptions("openai")
	for _, opt := range opts {
		opt(providerOptions)
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if providerOptions.URL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(providerOptions.URL))
	}

	return &OpenAIProvider{
		client:         openai.NewClient(clientOptions...),
		retryConfig:    providerOptions.RetryConfig,
		circuitBreaker: providerOptions.CircuitBreaker,
		metrics:        newProviderMetrics("openai", providerOptions.Metrics),
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *chat.Request) (*chat.Completion, error) {
	if req.Model == "" {
		return nil, shared.Errorf(shared.ErrKindValidation, "model is required")
	}
	if len(req.Messages) == 0 {
		return nil, shared.Errorf(shared.ErrKindValidation, "at least one message is required")
	}

	if p.circuitBreaker != nil && !p.circuitBreaker.Allow() {
		return nil, shared.Errorf(shared.ErrKindChatCompletion, "openai circuit breaker is open")
	}

	params := toCompletionParams(req)

	resp, err := retry.DoWithData(func() (*openai.ChatCompletion, error) {
		return p.client.Chat.Completions.New(ctx, params)
	},
		retry.Attempts(p.retryConfig.MaxAttempts),
		retry.DelayType(func(attempt uint, _ error, _ *retry.Config) time.Duration {
			return p.retryConfig.Delay(attempt)
		}),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Warn("retrying openai completion", "attempt", attempt+1, "error", err)
		}),
	)

	if p.circuitBreaker != nil {
		p.circuitBreaker.RecordResult(err)
	}
	if err != nil {
		p.metrics.recordResult(err, 0, 0)
		return nil, shared.Wrap(shared.ErrKindChatCompletion, err, "openai completion request failed")
	}
	p.metrics.recordResult(nil, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return fromChatCompletion(resp), nil
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	// Transport-level failures without a status are worth retrying.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func toCompletionParams(req *chat.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case chat.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case chat.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case chat.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.N > 1 {
		params.N = openai.Int(int64(req.N))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	for _, def := range req.Tools {
		fn := openai.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		if def.Parameters != nil {
			fn.Parameters = openai.FunctionParameters(def.Parameters)
		}
		if def.Strict {
			fn.Strict = openai.Bool(true)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}

	return params
}

func fromChatCompletion(resp *openai.ChatCompletion) *chat.Completion {
	completion := &chat.Completion{
		Usage: chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, choice := range resp.Choices {
		msg := chat.Message{
			Role:    chat.RoleAssistant,
			Content: choice.Message.Content,
		}
		for _, call := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
		completion.Choices = append(completion.Choices, chat.Choice{Message: msg})
	}

	return completion
}
