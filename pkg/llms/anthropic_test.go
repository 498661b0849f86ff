package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-sonnet", req.Model)

		resp := anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "hello there"}},
			Usage:   anthropicUsage{InputTokens: 10, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient("sk-ant-test", "claude-3-5-sonnet", server.URL)
	resp, err := client.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, 15, resp.Tokens)
}

func TestAnthropicClientGenerateToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		input := map[string]interface{}{"path": "foo.go"}
		resp := anthropicResponse{
			Content: []anthropicContent{{Type: "tool_use", ID: "call_1", Name: "open_file", Input: &input}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient("key", "claude-3-5-sonnet", server.URL)
	resp, err := client.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "open foo.go"}},
		Tools:    []ToolDefinition{{Name: "open_file"}},
	})

	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "open_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "foo.go", resp.ToolCalls[0].Arguments["path"])
}

func TestAnthropicClientGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{Error: &anthropicError{Type: "overloaded_error", Message: "overloaded"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient("key", "claude-3-5-sonnet", server.URL)
	_, err := client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.ErrorContains(t, err, "overloaded")
}

func TestAnthropicClientGenerateStreamingTextAndDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","usage":{"output_tokens":7}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			w.Write([]byte("data: " + e + "\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client := NewAnthropicClient("key", "claude-3-5-sonnet", server.URL)
	chunks, err := client.GenerateStreaming(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var done bool
	for c := range chunks {
		require.NoError(t, c.Error)
		switch c.Type {
		case "text":
			text += c.Text
		case "done":
			done = true
			assert.Equal(t, 7, c.Tokens)
		}
	}

	assert.True(t, done)
	assert.Equal(t, "hi there", text)
}
