// Package events defines the uniform event protocol the symbol workers,
// the scratch-pad reactor, and the symbol manager communicate through:
// tagged event variants, a reply-channel envelope, and the properties that
// ride along with every request.
package events

import (
	"context"

	"github.com/google/uuid"
)

// ModelConfig names the (vendor, model) pair a request should use. Kept
// deliberately thin — the LLM broker resolves it to a concrete Client.
type ModelConfig struct {
	Provider string
	Model    string
}

// UISink receives UI-facing notifications (streamed text deltas, applied
// edits, state changes) for a request. The concrete implementation (e.g. a
// websocket to the editor) is outside this module's scope; we only specify
// the contract.
type UISink interface {
	// Notify delivers one UI event. Implementations must not block
	// indefinitely — the engine does not retry a dropped notification.
	Notify(event UIEvent)
}

// UIEvent is one notification pushed to a UISink.
type UIEvent struct {
	RequestID string
	Kind      string // "stream_delta", "partial_stream", "parse_error", "cancelled", "edit_applied", "state_change", ...
	Payload   any
}

// StreamDelta is the payload of a "stream_delta"/"partial_stream"/
// "parse_error"/"cancelled" UIEvent: the UI receives the cumulative text
// monotonically alongside the latest delta, per spec.md §4.1/§5.
type StreamDelta struct {
	CumulativeText string
	Delta          string
	Model          string
}

// NoopUISink discards every event. Used where no UI is attached (batch
// CLI runs, tests).
type NoopUISink struct{}

func (NoopUISink) Notify(UIEvent) {}

// MessageProperties is propagated unchanged through every downstream call
// of a request, so UI events and cancellation scope carry across async
// boundaries without being threaded through every function signature by
// hand.
type MessageProperties struct {
	RequestID         string
	SessionID         string
	UISink            UISink
	EditorURL         string
	CancellationToken context.Context
	Cancel            context.CancelFunc
	ModelConfig       ModelConfig
}

// NewMessageProperties derives a child cancellation context from parent and
// fills in a fresh request ID.
func NewMessageProperties(parent context.Context, sessionID, editorURL string, model ModelConfig, sink UISink) MessageProperties {
	if sink == nil {
		sink = NoopUISink{}
	}
	ctx, cancel := context.WithCancel(parent)
	return MessageProperties{
		RequestID:         uuid.NewString(),
		SessionID:         sessionID,
		UISink:            sink,
		EditorURL:         editorURL,
		CancellationToken: ctx,
		Cancel:            cancel,
		ModelConfig:       model,
	}
}

// Child derives a new MessageProperties for a sub-request (e.g. a spawned
// probe) that shares this request's cancellation token by reference: firing
// the parent's Cancel must terminate the child too. Per Open Question (a)
// in SPEC_FULL.md, cancelling a probe cancels its already-spawned children —
// sharing the same ctx (not deriving a fresh one) is what gives us that.
func (p MessageProperties) Child() MessageProperties {
	child := p
	child.RequestID = uuid.NewString()
	return child
}

// Cancelled reports whether this request's cancellation token has fired.
func (p MessageProperties) Cancelled() bool {
	select {
	case <-p.CancellationToken.Done():
		return true
	default:
		return false
	}
}
