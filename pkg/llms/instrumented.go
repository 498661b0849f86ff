package llms

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsSink is the subset of metrics.Metrics this package depends on,
// kept as a local interface so llms never imports pkg/metrics directly.
type MetricsSink interface {
	RecordLLMCall(provider, outcome string, seconds float64)
	RecordLLMChunk(provider string)
}

// Instrument wraps client so every call records latency/outcome on
// metrics and runs inside an OpenTelemetry span from tracer. Either
// dependency may be nil; passing both nil returns client unwrapped.
func Instrument(client Client, provider string, metrics MetricsSink, tracer trace.Tracer) Client {
	if metrics == nil && tracer == nil {
		return client
	}
	return &instrumentedClient{Client: client, provider: provider, metrics: metrics, tracer: tracer}
}

type instrumentedClient struct {
	Client
	provider string
	metrics  MetricsSink
	tracer   trace.Tracer
}

func (c *instrumentedClient) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, span := c.startSpan(ctx, "llm.generate")
	start := time.Now()

	resp, err := c.Client.Generate(ctx, req)

	c.recordCall(start, err)
	endSpan(span, err)
	return resp, err
}

func (c *instrumentedClient) GenerateStreaming(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ctx, span := c.startSpan(ctx, "llm.generate_streaming")
	start := time.Now()

	chunks, err := c.Client.GenerateStreaming(ctx, req)
	if err != nil {
		c.recordCall(start, err)
		endSpan(span, err)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var streamErr error
		for chunk := range chunks {
			if c.metrics != nil {
				c.metrics.RecordLLMChunk(c.provider)
			}
			if chunk.Type == "error" {
				streamErr = chunk.Error
			}
			out <- chunk
		}
		c.recordCall(start, streamErr)
		endSpan(span, streamErr)
	}()
	return out, nil
}

func (c *instrumentedClient) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", c.ModelName()),
	))
}

func (c *instrumentedClient) recordCall(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.RecordLLMCall(c.provider, outcome, time.Since(start).Seconds())
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
