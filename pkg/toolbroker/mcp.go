package toolbroker

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/corvidlabs/symborc/pkg/events"
)

// MCPSource adapts tools discovered from a Model Context Protocol server
// into Broker handlers, letting an external MCP server supply additional
// tools the editor bridge doesn't implement (SPEC_FULL.md §10).
type MCPSource struct {
	name   string
	client *mcpclient.Client
}

// NewMCPSource connects to an MCP server over SSE and initializes the
// session. The caller is responsible for calling DiscoverAndRegister
// before the source's tools are dispatchable.
func NewMCPSource(ctx context.Context, name, url string) (*MCPSource, error) {
	c, err := mcpclient.NewSSEMCPClient(url)
	if err != nil {
		return nil, fmt.Errorf("mcp source %s: connect: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp source %s: start: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "symborc", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp source %s: initialize: %w", name, err)
	}

	return &MCPSource{name: name, client: c}, nil
}

// DiscoverAndRegister lists tools exposed by the MCP server and registers
// one Broker handler per tool, named `mcp:<source>:<tool>` to avoid
// colliding with the built-in editor-bridge/LLM-backed tool names.
func (s *MCPSource) DiscoverAndRegister(ctx context.Context, broker *Broker) error {
	listResp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp source %s: list tools: %w", s.name, err)
	}

	for _, tool := range listResp.Tools {
		name := Kind(fmt.Sprintf("mcp:%s:%s", s.name, tool.Name))
		if err := broker.Register(name, s.handlerFor(tool.Name)); err != nil {
			return fmt.Errorf("mcp source %s: register %s: %w", s.name, tool.Name, err)
		}
	}
	return nil
}

// handlerFor builds a Handler that round-trips through the MCP server's
// call_tool RPC. MCP tool inputs/outputs don't fit the broker's typed
// Input/Output variants, so the input travels as the CodeSymbolSearch
// slot's query string and the output as the ProbeQuestion slot's answer
// string — the editor-facing tools stay strongly typed,
// only this escape hatch is stringly typed.
func (s *MCPSource) handlerFor(toolName string) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if props.Cancelled() {
			return Output{}, context.Canceled
		}

		var args map[string]interface{}
		if input.CodeSymbolSearch != nil {
			args = map[string]interface{}{"query": input.CodeSymbolSearch.Query}
		}

		callReq := mcp.CallToolRequest{}
		callReq.Params.Name = toolName
		callReq.Params.Arguments = args

		result, err := s.client.CallTool(ctx, callReq)
		if err != nil {
			return Output{}, errCommunicatingWithEditor(Kind(toolName), err)
		}
		if result.IsError {
			return Output{}, &Error{Tool: Kind(toolName), Category: CategoryDomain, Message: "mcp tool reported error"}
		}

		// MCP results are free-form text; extracting typed symbols from them
		// is out of scope, so the raw text rides in the output's Answer-
		// shaped ProbeQuestion slot, the only free-text carrier in Output.
		text := extractMCPText(result)
		return Output{
			Kind:          KindProbeQuestion,
			ProbeQuestion: &ProbeQuestionOutput{Answer: text},
		}, nil
	}
}

func extractMCPText(result *mcp.CallToolResult) string {
	var out []byte
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out = append(out, tc.Text...)
		}
	}
	if len(out) == 0 {
		b, _ := json.Marshal(result.Content)
		return string(b)
	}
	return string(out)
}
