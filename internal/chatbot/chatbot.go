// Package chatbot owns the chat sessions and routes agent tool calls, by name,
// to the registered booking tools.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CalChat/internal/agent"
	"CalChat/internal/audit"
	"CalChat/internal/schema"
	"CalChat/internal/session"
	"CalChat/internal/telemetry"
	"CalChat/internal/tools"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Recorder stores an audit entry per dispatched tool call.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Options configure a ChatBot. Agent and Tools are required.
type Options struct {
	Agent       agent.Runner
	Tools       *tools.Registry
	Sessions    *session.Store
	Recorder    Recorder // optional
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
	TurnTimeout time.Duration // zero means no limit beyond the caller's context
}

// ChatBot represents the main application
type ChatBot struct {
	agent       agent.Runner
	tools       *tools.Registry
	sessions    *session.Store
	recorder    Recorder
	logger      *slog.Logger
	tracer      trace.Tracer
	turnTimeout time.Duration

	toolCalls    metric.Int64Counter
	turnDuration metric.Float64Histogram
}

// New creates a ChatBot.
func New(opts Options) (*ChatBot, error) {
	if opts.Agent == nil {
		return nil, errors.New("chatbot: agent is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("chatbot: tool registry is required")
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meter := telemetry.Meter(opts.Meter)
	toolCalls, err := meter.Int64Counter(
		"chat.tool.calls",
		metric.WithDescription("Tool calls dispatched on behalf of the agent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool call counter: %w", err)
	}
	turnDuration, err := meter.Float64Histogram(
		"chat.turn.duration",
		metric.WithDescription("Chat turn duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	return &ChatBot{
		agent:        opts.Agent,
		tools:        opts.Tools,
		sessions:     sessions,
		recorder:     opts.Recorder,
		logger:       logger,
		tracer:       telemetry.Tracer(opts.Tracer),
		turnTimeout:  opts.TurnTimeout,
		toolCalls:    toolCalls,
		turnDuration: turnDuration,
	}, nil
}

// Tools returns the tools the agent may call.
func (cb *ChatBot) Tools() []tools.Tool {
	return cb.tools.Tools()
}

// loggerFor prefers the request-scoped logger over the bot's own.
func (cb *ChatBot) loggerFor(ctx context.Context) *slog.Logger {
	if telemetry.RequestID(ctx) != "" || telemetry.SessionID(ctx) != "" {
		return telemetry.Logger(ctx)
	}
	return cb.logger
}

// Open returns the history of a session, creating it on first reference.
func (cb *ChatBot) Open(ctx context.Context, sessionID string) []session.Message {
	history, created := cb.sessions.Open(sessionID)
	if created {
		cb.loggerFor(ctx).Info("Creating new session", "session_id", sessionID)
	}
	return history
}

// History returns the history of an existing session without creating one.
func (cb *ChatBot) History(_ context.Context, sessionID string) ([]session.Message, bool) {
	return cb.sessions.Get(sessionID)
}

// Close removes a session. Closing an absent session is a no-op.
func (cb *ChatBot) Close(ctx context.Context, sessionID string) {
	if cb.sessions.Close(sessionID) {
		cb.loggerFor(ctx).Info("Closed session", "session_id", sessionID)
	}
}

// Respond runs one exchange on a session and returns the agent's answer.
// Messages on the same session are answered one at a time. History only
// changes when the agent succeeds.
func (cb *ChatBot) Respond(ctx context.Context, sessionID, message string) (string, error) {
	ctx = telemetry.WithSessionID(telemetry.WithLogger(ctx, cb.loggerFor(ctx)), sessionID)
	ctx, span := cb.tracer.Start(ctx, "chat.respond", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	start := time.Now()
	cb.Open(ctx, sessionID)

	lease, err := cb.sessions.Acquire(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to acquire session %s: %w", sessionID, err)
	}
	defer lease.Release()

	turnCtx := ctx
	if cb.turnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, cb.turnTimeout)
		defer cancel()
	}

	answer, err := cb.agent.Run(turnCtx, lease.History(), message, toolbox{cb})
	cb.turnDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to get response for session %s: %w", sessionID, err)
	}

	lease.Append(message, answer)
	return answer, nil
}

// Dispatch runs a tool by name with raw agent arguments and returns its result
// as two-space indented JSON. Invalid arguments yield a *schema.ValidationError
// before anything is called. An unknown name wraps tools.ErrUnknownTool.
func (cb *ChatBot) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	logger := telemetry.Logger(ctx)
	logger.Debug("Agent dispatching tool", "tool_name", name, "args", args)

	start := time.Now()
	tool, err := cb.tools.Lookup(name)
	if err != nil {
		cb.finish(ctx, name, args, audit.OutcomeError, err.Error(), start)
		return "", fmt.Errorf("failed to dispatch: %w", err)
	}

	parsed, err := tool.Schema.Validate(args)
	if err != nil {
		cb.finish(ctx, name, args, audit.OutcomeInvalid, err.Error(), start)
		return "", err
	}

	ctx, span := cb.tracer.Start(ctx, "tool "+name, trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	result, err := tool.Handler(ctx, parsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cb.finish(ctx, name, args, audit.OutcomeError, err.Error(), start)
		return "", fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	out, err := prettyJSON(result)
	if err != nil {
		cb.finish(ctx, name, args, audit.OutcomeError, err.Error(), start)
		return "", fmt.Errorf("failed to encode result of tool %s: %w", name, err)
	}

	outcome, detail := audit.OutcomeSuccess, ""
	if f, ok := result.(interface{ Failed() bool }); ok && f.Failed() {
		outcome, detail = audit.OutcomeFailure, out
		span.SetStatus(codes.Error, "upstream failure")
	}
	cb.finish(ctx, name, args, outcome, detail, start)
	return out, nil
}

// finish counts the call and writes its audit entry. Audit failures never fail a call.
func (cb *ChatBot) finish(ctx context.Context, name string, args map[string]any, outcome audit.Outcome, detail string, start time.Time) {
	elapsed := time.Since(start)
	cb.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("outcome", string(outcome)),
	))

	logger := telemetry.Logger(ctx)
	logger.Info("Tool call finished", "tool_name", name, "outcome", outcome, "duration_ms", elapsed.Milliseconds())

	if cb.recorder == nil {
		return
	}
	err := cb.recorder.Record(ctx, audit.Entry{
		RequestID: telemetry.RequestID(ctx),
		SessionID: telemetry.SessionID(ctx),
		Tool:      name,
		Arguments: args,
		Outcome:   outcome,
		Detail:    detail,
		Duration:  elapsed,
	})
	if err != nil {
		logger.Warn("failed to record tool call", "tool_name", name, "error", err)
	}
}

func prettyJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// toolbox hands the registry to the agent; every invocation goes through Dispatch.
type toolbox struct {
	cb *ChatBot
}

func (t toolbox) Tools() []tools.Tool {
	return t.cb.tools.Tools()
}

func (t toolbox) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return t.cb.Dispatch(ctx, name, args)
}

var _ agent.Toolbox = toolbox{}

// IsInvalidArguments reports whether err came from argument validation.
func IsInvalidArguments(err error) bool {
	var invalid *schema.ValidationError
	return errors.As(err, &invalid)
}
