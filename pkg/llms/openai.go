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

// OpenAIClient implements Client against the OpenAI-shape chat
// completions API: Authorization: Bearer, SSE terminated by a literal
// "data: [DONE]" line (SPEC_FULL.md §4.1.a).
type OpenAIClient struct {
	apiKey     string
	model      string
	host       string
	httpClient *httpclient.Client
}

const openAIDefaultHost = "https://api.openai.com/v1"

// NewOpenAIClient builds an OpenAIClient. host defaults to the public
// API when empty, allowing OpenAI-compatible endpoints to be targeted.
func NewOpenAIClient(apiKey, model, host string) *OpenAIClient {
	if host == "" {
		host = openAIDefaultHost
	}
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		host:   host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}
}

func (c *OpenAIClient) ModelName() string { return c.model }

type openAIMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []openAIToolCallWire `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type openAIToolCallWire struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Tools          []openAITool          `json:"tools,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature,omitempty"`
	Stream         bool                  `json:"stream"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	Delta        openAIMessage `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
}

func (c *OpenAIClient) buildRequest(req Request, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}

	oaReq := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}

	if len(req.Tools) > 0 {
		tools := make([]openAITool, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openAITool{Type: "function", Function: openAIFunction{
				Name: t.Name, Description: t.Description, Parameters: t.Parameters,
			}}
		}
		oaReq.Tools = tools
	}

	if req.Structured != nil && req.Structured.Schema != nil {
		schemaJSON, err := json.Marshal(req.Structured.Schema)
		if err == nil {
			oaReq.ResponseFormat = &openAIResponseFormat{Type: "json_schema", JSONSchema: schemaJSON}
		}
	}

	return oaReq
}

func (c *OpenAIClient) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	oaReq := c.buildRequest(req, false)

	body, err := json.Marshal(oaReq)
	if err != nil {
		return Response{}, fmt.Errorf("marshal openai request: %w", err)
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
		return Response{}, fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("openai API returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	var oaResp openAIResponse
	if err := json.Unmarshal(data, &oaResp); err != nil {
		return Response{}, fmt.Errorf("decode openai response: %w", err)
	}
	if oaResp.Error != nil {
		return Response{}, fmt.Errorf("openai API error: %s", oaResp.Error.Message)
	}
	if len(oaResp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai response had no choices")
	}

	msg := oaResp.Choices[0].Message
	toolCalls := make([]ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args, RawArgs: tc.Function.Arguments})
	}

	return Response{Text: msg.Content, ToolCalls: toolCalls, Tokens: oaResp.Usage.TotalTokens}, nil
}

func (c *OpenAIClient) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	oaReq := c.buildRequest(req, true)

	body, err := json.Marshal(oaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
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
		return nil, fmt.Errorf("openai API returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		if err := streamOpenAIEvents(resp.Body, out); err != nil {
			out <- StreamChunk{Type: "error", Error: err}
		}
	}()
	return out, nil
}

func streamOpenAIEvents(body io.Reader, out chan<- StreamChunk) error {
	type pendingCall struct {
		id, name string
		args     strings.Builder
	}
	pending := make(map[int]*pendingCall)
	var totalTokens int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			for _, p := range pending {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(p.args.String()), &args)
				out <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{ID: p.id, Name: p.name, Arguments: args, RawArgs: p.args.String()}}
			}
			out <- StreamChunk{Type: "done", Tokens: totalTokens}
			return nil
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w, data: %s", err, payload)
		}
		if chunk.Usage.TotalTokens > 0 {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			out <- StreamChunk{Type: "text", Text: delta.Content}
		}
		for i, tc := range delta.ToolCalls {
			idx := i
			p, ok := pending[idx]
			if !ok {
				p = &pendingCall{}
				pending[idx] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
