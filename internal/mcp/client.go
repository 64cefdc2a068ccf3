package mcp

import (
	"context"
	"fmt"

	"CalChat/internal/telemetry"

	"github.com/mark3labs/mcp-go/client"
	gomcp "github.com/mark3labs/mcp-go/mcp"
)

// Client is an initialized MCP session with a remote endpoint, such as a
// running calchat's /mcp.
type Client struct {
	rpc    *client.Client
	Server gomcp.Implementation
}

// Dial connects over streamable HTTP and performs the initialize handshake.
func Dial(ctx context.Context, url string) (*Client, error) {
	rpc, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := rpc.Start(ctx); err != nil {
		_ = rpc.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	req := gomcp.InitializeRequest{}
	req.Params.ProtocolVersion = gomcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = gomcp.Implementation{Name: telemetry.ServiceName + "-cli", Version: "1.0.0"}
	info, err := rpc.Initialize(ctx, req)
	if err != nil {
		_ = rpc.Close()
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	return &Client{rpc: rpc, Server: info.ServerInfo}, nil
}

// ListTools returns the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]gomcp.Tool, error) {
	result, err := c.rpc.ListTools(ctx, gomcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools failed: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool. A tool-level error comes back with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*gomcp.CallToolResult, error) {
	req := gomcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.rpc.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call tool %s failed: %w", name, err)
	}
	return result, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}

// Texts returns the text items of a tool result in order.
func Texts(result *gomcp.CallToolResult) []string {
	var out []string
	for _, content := range result.Content {
		if text, ok := gomcp.AsTextContent(content); ok {
			out = append(out, text.Text)
		}
	}
	return out
}
