package toolbroker

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/symborc/pkg/llms"
)

// recordingClient captures every prompt it was asked to generate from, and
// always returns a fixed, well-formed response.
type recordingClient struct {
	prompts  []string
	response string
}

func (c *recordingClient) ModelName() string { return "stub-model" }
func (c *recordingClient) Generate(ctx context.Context, req llms.Request) (llms.Response, error) {
	c.prompts = append(c.prompts, req.Messages[0].Content)
	return llms.Response{Text: c.response}, nil
}
func (c *recordingClient) GenerateStreaming(ctx context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func TestImportantSymbolsHandlerTrimsWorkspaceFilesToFitBudget(t *testing.T) {
	files := make([]string, 2000)
	for i := range files {
		files[i] = "/repo/pkg/file" + strconv.Itoa(i) + ".go"
	}
	resp, err := json.Marshal(importantSymbolsWire{})
	require.NoError(t, err)

	client := &recordingClient{response: string(resp)}
	handler := importantSymbolsHandler(client, Configuration{FailOverLLM: 1})

	out, err := handler(context.Background(), newTestProps(), Input{
		Kind:             KindImportantSymbols,
		ImportantSymbols: &ImportantSymbolsInput{Query: "where is auth handled", WorkspaceFiles: files},
	})

	require.NoError(t, err)
	assert.NotNil(t, out.ImportantSymbols)
	require.Len(t, client.prompts, 1)
	assert.LessOrEqual(t, EstimateTokens(client.prompts[0]), MaxPromptTokens)
}

func TestImportantSymbolsHandlerLeavesSmallPromptsUntouched(t *testing.T) {
	resp, err := json.Marshal(importantSymbolsWire{})
	require.NoError(t, err)

	client := &recordingClient{response: string(resp)}
	handler := importantSymbolsHandler(client, Configuration{FailOverLLM: 1})

	files := []string{"/repo/a.go", "/repo/b.go"}
	_, err = handler(context.Background(), newTestProps(), Input{
		Kind:             KindImportantSymbols,
		ImportantSymbols: &ImportantSymbolsInput{Query: "q", WorkspaceFiles: files},
	})

	require.NoError(t, err)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "/repo/a.go")
	assert.Contains(t, client.prompts[0], "/repo/b.go")
}
