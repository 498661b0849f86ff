package toolbroker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/registry"
)

// Handler executes one registered tool.
type Handler func(ctx context.Context, props events.MessageProperties, input Input) (Output, error)

// MetricsSink is the subset of metrics.Metrics this package depends on,
// kept as a local interface so toolbroker never imports pkg/metrics
// directly.
type MetricsSink interface {
	RecordToolCall(kind string, seconds float64, err error)
}

// Broker is the Tool Broker: a registry of named tools, dispatching a
// typed tool input to its registered handler and returning a typed output
// (spec.md §4.2).
type Broker struct {
	handlers *registry.BaseRegistry[Handler]
	config   Configuration
	metrics  MetricsSink
	tracer   trace.Tracer
}

// New creates an empty Broker. Call RegisterEditorHandlers /
// RegisterLLMHandlers, or construct an MCPSource and call its
// DiscoverAndRegister, to populate it.
func New(config Configuration) *Broker {
	return &Broker{
		handlers: registry.NewBaseRegistry[Handler](),
		config:   config,
	}
}

// WithMetrics attaches a metrics sink every Invoke call reports its
// latency and error outcome to. Optional.
func (b *Broker) WithMetrics(m MetricsSink) *Broker {
	b.metrics = m
	return b
}

// WithTracer attaches a tracer every Invoke call wraps itself in a span
// under. Optional.
func (b *Broker) WithTracer(t trace.Tracer) *Broker {
	b.tracer = t
	return b
}

// Register adds a handler under name, failing if one is already registered
// — tool names must be unique across every source (editor bridge, LLM-
// backed, MCP).
func (b *Broker) Register(name Kind, h Handler) error {
	return b.handlers.Register(string(name), h)
}

// Invoke dispatches input to its registered handler. Cancellation is
// checked before the call, matching the "observed before each tool call"
// contract in spec.md §5.
func (b *Broker) Invoke(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
	if props.Cancelled() {
		return Output{}, context.Canceled
	}

	handler, ok := b.handlers.Get(string(input.Kind))
	if !ok {
		return Output{}, errToolNotFound(input.Kind)
	}

	var span trace.Span
	if b.tracer != nil {
		ctx, span = b.tracer.Start(ctx, "toolbroker.invoke",
			trace.WithAttributes(attribute.String("tool.kind", string(input.Kind))))
	}

	start := time.Now()
	output, err := handler(ctx, props, input)

	if b.metrics != nil {
		b.metrics.RecordToolCall(string(input.Kind), time.Since(start).Seconds(), err)
	}
	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}

	return output, err
}

// Configuration returns the broker's configuration.
func (b *Broker) Configuration() Configuration {
	return b.config
}

// RegisteredTools lists every tool name currently dispatchable.
func (b *Broker) RegisteredTools() []string {
	return b.handlers.Names()
}
