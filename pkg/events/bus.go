package events

import (
	"sync"
)

// Bus is the Symbol Event Bus: an unbounded multi-producer / single-logical
// -consumer channel of SymbolEventMessages. "Unbounded" is approximated with
// a large buffer (defaultBusCapacity) rather than an actually-infinite
// channel, matching how the teacher's workflow executor sizes its queues —
// producers never block on a slow consumer within the buffer's depth.
type Bus struct {
	messages chan SymbolEventMessage
	closed   chan struct{}
	once     sync.Once
}

// defaultBusCapacity is generous enough that the manager's K=100 concurrent
// edit fan-out (SPEC_FULL.md §5) never backs up producers under normal
// operation.
const defaultBusCapacity = 4096

// NewBus creates a Symbol Event Bus ready to receive messages.
func NewBus() *Bus {
	return &Bus{
		messages: make(chan SymbolEventMessage, defaultBusCapacity),
		closed:   make(chan struct{}),
	}
}

// Post enqueues a message. Post never blocks the caller on a slow consumer
// beyond the buffer depth; if the bus has been closed, Post fails the
// message's reply immediately with ErrBusClosed instead of panicking on a
// send to a closed channel.
func (b *Bus) Post(msg SymbolEventMessage) {
	select {
	case <-b.closed:
		msg.Reply.Fail(ErrBusClosed)
		return
	default:
	}

	select {
	case b.messages <- msg:
	case <-b.closed:
		msg.Reply.Fail(ErrBusClosed)
	}
}

// Messages exposes the receive side for the single logical consumer. No
// code in this module outside the bus's own tests drains it; the Symbol
// Manager routes messages to workers through Manager.Dispatch instead.
// Receiving from more than one goroutine is allowed, but each message then
// goes to whichever receiver takes it first.
func (b *Bus) Messages() <-chan SymbolEventMessage {
	return b.messages
}

// Close stops accepting new messages. Already-enqueued messages remain
// available to drain from Messages(). Safe to call more than once.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.closed) })
}

// ErrBusClosed is returned (via a message's reply channel) for any message
// posted after Close.
var ErrBusClosed = busClosedError{}

type busClosedError struct{}

func (busClosedError) Error() string { return "symbol event bus: closed" }
