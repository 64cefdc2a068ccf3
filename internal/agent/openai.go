package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"CalChat/internal/schema"
	"CalChat/internal/session"
	"CalChat/internal/telemetry"
	"CalChat/internal/tools"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultModel     = "gpt-4-turbo"
	DefaultMaxRounds = 8
)

// Options configure the OpenAI runner.
type Options struct {
	APIKey     string
	BaseURL    string // any OpenAI-compatible endpoint
	Model      string
	MaxRounds  int
	HTTPClient *http.Client
	Tracer     trace.Tracer
	Meter      metric.Meter
	Now        func() time.Time // for the dates in the system prompt
}

// OpenAI drives a chat-completions tool-calling loop.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxRounds int
	now       func() time.Time
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	tokens    metric.Int64Counter
}

// NewOpenAI creates a runner for an OpenAI-compatible API.
func NewOpenAI(opts Options) (*OpenAI, error) {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	rounds := opts.MaxRounds
	if rounds <= 0 {
		rounds = DefaultMaxRounds
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	meter := telemetry.Meter(opts.Meter)
	duration, err := meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Chat completion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	tokens, err := meter.Int64Counter(
		"llm.usage.tokens",
		metric.WithDescription("Tokens consumed by chat completions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxRounds: rounds,
		now:       now,
		tracer:    telemetry.Tracer(opts.Tracer),
		duration:  duration,
		tokens:    tokens,
	}, nil
}

// Run sends the system prompt, the history and the new input, then satisfies
// tool calls until the model answers in plain text.
func (o *OpenAI) Run(ctx context.Context, history []session.Message, input string, box Toolbox) (string, error) {
	ctx, span := o.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("history.length", len(history)),
	))
	defer span.End()

	logger := telemetry.Logger(ctx)
	logger.Info("Invoking agent", "user_message", input, "history_length", len(history))

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(o.now()),
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == session.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})

	defs := toolDefinitions(box.Tools())

	for round := 1; round <= o.maxRounds; round++ {
		reply, err := o.complete(ctx, messages, defs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		if len(reply.ToolCalls) == 0 {
			span.SetAttributes(attribute.Int("agent.rounds", round))
			if strings.TrimSpace(reply.Content) == "" {
				return FallbackAnswer, nil
			}
			return reply.Content, nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			out, err := o.invoke(ctx, box, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}

	span.SetStatus(codes.Error, ErrTooManyRounds.Error())
	return "", fmt.Errorf("%w: limit is %d", ErrTooManyRounds, o.maxRounds)
}

func (o *OpenAI) complete(ctx context.Context, messages []openai.ChatCompletionMessage, defs []openai.Tool) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		// zero would be dropped by omitempty and the API default used instead
		Temperature: math.SmallestNonzeroFloat32,
	}
	if len(defs) > 0 {
		req.Tools = defs
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	o.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("model", o.model)))
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("no response from OpenAI")
	}

	o.tokens.Add(ctx, int64(resp.Usage.PromptTokens), metric.WithAttributes(attribute.String("kind", "prompt")))
	o.tokens.Add(ctx, int64(resp.Usage.CompletionTokens), metric.WithAttributes(attribute.String("kind", "completion")))
	return resp.Choices[0].Message, nil
}

// invoke runs one requested tool call. Malformed or invalid arguments go back
// to the model as an error string so it can retry; anything else ends the turn.
func (o *OpenAI) invoke(ctx context.Context, box Toolbox, call openai.ToolCall) (string, error) {
	logger := telemetry.Logger(ctx)
	name := call.Function.Name

	var args map[string]any
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			logger.Warn("Agent sent malformed tool arguments", "tool_name", name, "arguments", raw, "error", err)
			return "Error: arguments must be a JSON object: " + err.Error(), nil
		}
	}

	out, err := box.Invoke(ctx, name, args)
	var invalid *schema.ValidationError
	if errors.As(err, &invalid) {
		logger.Warn("Agent sent invalid tool arguments", "tool_name", name, "error", invalid)
		return "Error: " + invalid.Error(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to run tool %s: %w", name, err)
	}
	return out, nil
}

func toolDefinitions(list []tools.Tool) []openai.Tool {
	defs := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema.Definition(),
			},
		})
	}
	return defs
}
