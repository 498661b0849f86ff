package llms

import "context"

// Client is the common surface every LLM provider implements. The Tool
// Broker's LLM-backed handlers and the Symbol Worker's planning step
// talk to a Client, never to a provider-specific type.
type Client interface {
	// Generate performs a non-streaming completion.
	Generate(ctx context.Context, req Request) (Response, error)

	// GenerateStreaming performs a streaming completion. The returned
	// channel is closed when the stream ends: after a "done" chunk when the
	// provider signals completion, after an "error" chunk when reading or
	// decoding fails, and with no final chunk when the body ends before
	// the provider's completion marker.
	GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ModelName reports the model this client was configured for, used
	// in log lines and error messages.
	ModelName() string
}
