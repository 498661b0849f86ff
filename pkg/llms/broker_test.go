package llms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ name string }

func (s *stubClient) ModelName() string { return s.name }
func (s *stubClient) Generate(ctx context.Context, req Request) (Response, error) {
	return Response{Text: "stub:" + s.name}, nil
}
func (s *stubClient) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func TestBrokerResolvesRegisteredClient(t *testing.T) {
	broker := NewBroker()
	require.NoError(t, broker.Register("anthropic:claude", &stubClient{name: "claude"}))

	client, err := broker.Client("anthropic:claude")
	require.NoError(t, err)
	resp, err := client.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "stub:claude", resp.Text)
}

func TestBrokerUnsupportedModel(t *testing.T) {
	broker := NewBroker()
	_, err := broker.Client("nope")

	var unsupported *UnsupportedModelError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, LLMType("nope"), unsupported.Type)
}

func TestBrokerRegisteredModelsListsNames(t *testing.T) {
	broker := NewBroker()
	require.NoError(t, broker.Register("a", &stubClient{name: "a"}))
	require.NoError(t, broker.Register("b", &stubClient{name: "b"}))

	assert.ElementsMatch(t, []string{"a", "b"}, broker.RegisteredModels())
}
