// Package mcp exposes the booking tools over the Model Context Protocol
// (streamable HTTP), so MCP clients can call them directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"CalChat/internal/schema"
	"CalChat/internal/telemetry"
	"CalChat/internal/tools"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Dispatcher runs tools by name. chatbot.ChatBot satisfies it.
type Dispatcher interface {
	Tools() []tools.Tool
	Dispatch(ctx context.Context, name string, args map[string]any) (string, error)
}

// errInternal is all a client learns about a failed call; details are logged.
var errInternal = errors.New("Internal server error")

// NewServer registers every dispatcher tool on an MCP server. Input schemas
// come from the tool argument schemas. Names outside the registry are
// rejected by the server with an invalid-params error before any dispatch.
func NewServer(dispatcher Dispatcher, version string, logger *slog.Logger) (*server.MCPServer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, _ any, req *gomcp.InitializeRequest, _ *gomcp.InitializeResult) {
		loggerFor(ctx, logger).Info("MCP client initialized",
			"client", req.Params.ClientInfo.Name,
			"client_version", req.Params.ClientInfo.Version,
		)
	})

	s := server.NewMCPServer(telemetry.ServiceName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	for _, t := range dispatcher.Tools() {
		def, err := json.Marshal(t.Schema.Definition())
		if err != nil {
			return nil, fmt.Errorf("failed to encode input schema of tool %s: %w", t.Name(), err)
		}
		s.AddTool(gomcp.NewToolWithRawSchema(t.Name(), t.Description(), def), callTool(dispatcher, t.Name(), logger))
	}
	return s, nil
}

// NewHandler serves the tools over streamable HTTP. Every POST stands alone,
// so no MCP session state is kept between requests.
func NewHandler(dispatcher Dispatcher, version string, logger *slog.Logger) (http.Handler, error) {
	s, err := NewServer(dispatcher, version, logger)
	if err != nil {
		return nil, err
	}
	return server.NewStreamableHTTPServer(s, server.WithStateLess(true)), nil
}

// callTool maps dispatch outcomes onto MCP: invalid arguments come back as
// error content the client can act on, anything else as an internal error.
func callTool(dispatcher Dispatcher, name string, fallback *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		out, err := dispatcher.Dispatch(ctx, name, req.GetArguments())

		var invalid *schema.ValidationError
		switch {
		case err == nil:
			return gomcp.NewToolResultText(out), nil
		case errors.As(err, &invalid):
			return gomcp.NewToolResultError("Error: " + invalid.Error()), nil
		default:
			loggerFor(ctx, fallback).Error("MCP tool call failed", "tool_name", name, "error", err)
			return nil, errInternal
		}
	}
}

func loggerFor(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if telemetry.RequestID(ctx) != "" {
		return telemetry.Logger(ctx)
	}
	return fallback
}
