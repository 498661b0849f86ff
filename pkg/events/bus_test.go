package events

import (
	"context"
	"testing"
	"time"

	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversExactlyOneReply(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	props := NewMessageProperties(context.Background(), "sess-1", "http://editor", ModelConfig{}, nil)
	reply := NewReplySink()
	sym := symbolid.New("Foo", "lib.rs", nil)

	bus.Post(SymbolEventMessage{
		Event:      NewInitialRequestEvent(InitialRequest{Symbol: sym, Query: "add a method"}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case msg := <-bus.Messages():
		require.Equal(t, KindInitialRequest, msg.Event.Kind)
		msg.Reply.Resolve(SymbolEventResponse{Symbol: sym, Kind: KindInitialRequest})
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case result := <-reply:
		require.NoError(t, result.Err)
		require.NotNil(t, result.Response)
		require.True(t, sym.Equal(result.Response.Symbol))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestBusPostAfterCloseFailsReply(t *testing.T) {
	bus := NewBus()
	bus.Close()

	reply := NewReplySink()
	bus.Post(SymbolEventMessage{
		Event: NewOutlineEvent(OutlineRequest{Symbol: symbolid.New("Foo", "lib.rs", nil)}),
		Reply: reply,
	})

	result := <-reply
	require.ErrorIs(t, result.Err, ErrBusClosed)
}

func TestMessagePropertiesChildSharesCancellation(t *testing.T) {
	parent := NewMessageProperties(context.Background(), "sess-1", "http://editor", ModelConfig{}, nil)
	child := parent.Child()

	require.NotEqual(t, parent.RequestID, child.RequestID)
	parent.Cancel()
	require.True(t, child.Cancelled(), "child must observe parent cancellation: shared token, not a derived one")
}
