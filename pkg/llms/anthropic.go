package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corvidlabs/symborc/pkg/httpclient"
)

// AnthropicClient implements Client against the Anthropic Messages API,
// using the canonical SSE event sequence: message_start, content_block_
// start, content_block_delta, content_block_stop, message_delta,
// message_stop (SPEC_FULL.md §4.1).
type AnthropicClient struct {
	apiKey     string
	model      string
	host       string
	httpClient *httpclient.Client
}

// NewAnthropicClient builds an AnthropicClient. host defaults to the
// public API when empty.
func NewAnthropicClient(apiKey, model, host string) *AnthropicClient {
	if host == "" {
		host = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		apiKey: apiKey,
		model:  model,
		host:   host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
		),
	}
}

func (c *AnthropicClient) ModelName() string { return c.model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string                  `json:"type"`
	Text      string                  `json:"text,omitempty"`
	ID        string                  `json:"id,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Input     *map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                  `json:"tool_use_id,omitempty"`
	Content   string                  `json:"content,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Usage        *anthropicUsage   `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

func (c *AnthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	var system string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Content
			} else {
				system = system + "\n\n" + m.Content
			}
		case "tool":
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{
					{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
				},
			})
		case "assistant":
			contents := []anthropicContent{}
			if m.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = make(map[string]interface{})
				}
				contents = append(contents, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: &args})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: contents})
		default:
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}

	if req.Structured != nil && req.Structured.Schema != nil {
		schemaJSON, err := json.MarshalIndent(req.Structured.Schema, "", "  ")
		if err == nil {
			instructions := "You must respond with valid JSON matching this exact schema:\n\n" +
				string(schemaJSON) + "\n\nOutput ONLY valid JSON, no other text."
			if system == "" {
				system = instructions
			} else {
				system = system + "\n\n" + instructions
			}
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	anReq := anthropicRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
		System:      system,
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropicTool, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
		}
		anReq.Tools = tools
	}

	return anReq
}

func (c *AnthropicClient) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	return httpReq, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	anReq := c.buildRequest(req, false)

	body, err := json.Marshal(anReq)
	if err != nil {
		return Response{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("anthropic API returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	var anResp anthropicResponse
	if err := json.Unmarshal(data, &anResp); err != nil {
		return Response{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	if anResp.Error != nil {
		return Response{}, fmt.Errorf("anthropic API error: %s", anResp.Error.Message)
	}

	var text string
	var toolCalls []ToolCall
	for _, block := range anResp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			var args map[string]interface{}
			if block.Input != nil {
				args = *block.Input
			}
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	return Response{
		Text:      text,
		ToolCalls: toolCalls,
		Tokens:    anResp.Usage.InputTokens + anResp.Usage.OutputTokens,
	}, nil
}

func (c *AnthropicClient) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	anReq := c.buildRequest(req, true)

	body, err := json.Marshal(anReq)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic API returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		if err := streamAnthropicEvents(resp.Body, out); err != nil {
			out <- StreamChunk{Type: "error", Error: err}
		}
	}()
	return out, nil
}

func streamAnthropicEvents(body io.Reader, out chan<- StreamChunk) error {
	type pendingTool struct {
		call   ToolCall
		jsonBuf strings.Builder
	}
	pending := make(map[int]*pendingTool)
	var totalTokens int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w, data: %s", err, payload)
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &pendingTool{call: ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}}
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Text != "" {
				out <- StreamChunk{Type: "text", Text: ev.Delta.Text}
			}
			if ev.Delta.Type == "input_json_delta" && ev.Delta.PartialJSON != "" {
				if p, ok := pending[ev.Index]; ok {
					p.jsonBuf.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if p, ok := pending[ev.Index]; ok {
				if p.jsonBuf.Len() > 0 {
					var args map[string]interface{}
					if err := json.Unmarshal([]byte(p.jsonBuf.String()), &args); err == nil {
						p.call.Arguments = args
					}
				}
				out <- StreamChunk{Type: "tool_call", ToolCall: &p.call}
			}
		case "message_delta":
			if ev.Usage != nil {
				totalTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			out <- StreamChunk{Type: "done", Tokens: totalTokens}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
