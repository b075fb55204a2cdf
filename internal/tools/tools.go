// Package tools aggregates tool definitions offered to the model. Server
// operators can point the process at MCP servers; the definitions discovered
// there are merged with whatever definitions a client supplies per request.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/logger"
)

var emptyObjectSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// Registry holds the server-configured tool definitions.
type Registry struct {
	defs  []openai.Tool
	names map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a definition. The first registration of a name wins.
func (r *Registry) Register(t openai.Tool) {
	if t.Function == nil || t.Function.Name == "" {
		return
	}
	if r.names[t.Function.Name] {
		logger.L.Warn("tool already registered, skipping", "tool", t.Function.Name)
		return
	}
	r.names[t.Function.Name] = true
	r.defs = append(r.defs, t)
}

// List returns the registered definitions.
func (r *Registry) List() []openai.Tool {
	return r.defs
}

// Merge combines the registry's definitions with client-supplied ones.
// Client definitions win on a name collision.
func (r *Registry) Merge(clientDefs []openai.Tool) []openai.Tool {
	if r == nil || len(r.defs) == 0 {
		return clientDefs
	}
	taken := make(map[string]bool, len(clientDefs))
	for _, t := range clientDefs {
		if t.Function != nil {
			taken[t.Function.Name] = true
		}
	}
	out := make([]openai.Tool, 0, len(clientDefs)+len(r.defs))
	out = append(out, clientDefs...)
	for _, t := range r.defs {
		if !taken[t.Function.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Discover connects to each configured MCP server, lists its tools and
// registers their definitions. Servers that cannot be reached are logged
// and skipped; the clients are closed once listing is done since tools are
// executed by the chat client, not by this process.
func (r *Registry) Discover(ctx context.Context, servers []config.MCPServerConfig) {
	for _, serverCfg := range servers {
		mcpC, err := newMCPClient(serverCfg)
		if err != nil {
			logger.L.Error("failed to create MCP client", "name", serverCfg.Name, "error", err)
			continue
		}

		if serverCfg.Type != config.ClientTypeStdio {
			if err := mcpC.Start(ctx); err != nil {
				logger.L.Error("failed to start MCP client transport", "name", serverCfg.Name, "error", err)
				closeClient(mcpC, serverCfg.Name)
				continue
			}
		}
		if _, err := mcpC.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
			logger.L.Error("failed to initialize MCP client", "name", serverCfg.Name, "error", err)
			closeClient(mcpC, serverCfg.Name)
			continue
		}

		serverTools, err := mcpC.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			logger.L.Warn("failed to list tools", "name", serverCfg.Name, "error", err)
			closeClient(mcpC, serverCfg.Name)
			continue
		}
		for _, mcpTool := range serverTools.Tools {
			r.Register(convertTool(mcpTool))
			logger.L.Info("registered tool from MCP server", "tool", mcpTool.Name, "name", serverCfg.Name)
		}
		closeClient(mcpC, serverCfg.Name)
	}
}

func newMCPClient(serverCfg config.MCPServerConfig) (*client.Client, error) {
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(serverCfg.Headers))
		}
		return client.NewSSEMCPClient(serverCfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		return client.NewStreamableHttpClient(serverCfg.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q", serverCfg.Type)
	}
}

func closeClient(c *client.Client, name string) {
	if err := c.Close(); err != nil {
		logger.L.Warn("MCP client close error", "name", name, "error", err)
	}
}

// convertTool maps an MCP tool definition onto the provider's tool shape.
// Tools with an unusable input schema get an empty object schema so the
// model can still see them.
func convertTool(mcpTool mcp.Tool) openai.Tool {
	var paramsSchema json.RawMessage
	if len(mcpTool.RawInputSchema) > 0 && string(mcpTool.RawInputSchema) != "null" {
		paramsSchema = mcpTool.RawInputSchema
	} else if mcpTool.InputSchema.Type != "" {
		if schemaBytes, err := json.Marshal(mcpTool.InputSchema); err == nil {
			paramsSchema = schemaBytes
		}
	}
	if len(paramsSchema) == 0 || string(paramsSchema) == "null" || string(paramsSchema) == "{}" {
		paramsSchema = emptyObjectSchema
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			Parameters:  paramsSchema,
		},
	}
}
