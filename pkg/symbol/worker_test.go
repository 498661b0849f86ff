package symbol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// stubLLM returns a fixed streamed response on every call, regardless of
// prompt, so worker tests can pin the edit it produces.
type stubLLM struct {
	text string
}

func (s *stubLLM) ModelName() string { return "stub-model" }

func (s *stubLLM) Generate(ctx context.Context, req llms.Request) (llms.Response, error) {
	return llms.Response{Text: s.text}, nil
}

func (s *stubLLM) GenerateStreaming(ctx context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Type: "text", Text: s.text}
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func newTestBroker(t *testing.T, outline symbolid.Outline, applied bool, diagnostics []events.Diagnostic) *toolbroker.Broker {
	t.Helper()
	broker := toolbroker.New(toolbroker.Configuration{FailOverLLM: 1, ApplyEditsDirectly: true})

	require.NoError(t, broker.Register(toolbroker.KindGetOutlineNodes, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindGetOutlineNodes, GetOutlineNodes: &toolbroker.GetOutlineNodesOutput{Outline: outline}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindApplyEdits, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindApplyEdits, ApplyEdits: &toolbroker.ApplyEditsOutput{Applied: applied}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindDiagnostics, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindDiagnostics, Diagnostics: &toolbroker.DiagnosticsOutput{Diagnostics: diagnostics}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindProbeQuestion, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindProbeQuestion, ProbeQuestion: &toolbroker.ProbeQuestionOutput{ShouldFollow: false, Answer: "it's a plain function"}}, nil
	}))

	return broker
}

func testSymbol() symbolid.Identifier {
	return symbolid.New("Handle", "/repo/main.go", &symbolid.Range{StartLine: 10, EndLine: 20})
}

func TestWorkerInitialRequestResolvesCleanlyWhenNoDiagnosticsRemain(t *testing.T) {
	outline := symbolid.Outline{Name: "Handle", Kind: symbolid.OutlineFunction, FilePath: "/repo/main.go", Range: symbolid.Range{StartLine: 10, EndLine: 20}}
	broker := newTestBroker(t, outline, true, nil)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{"start_line":10,"end_line":20,"new_text":"func Handle() {}"}`}

	worker := NewWorker(testSymbol().Key(), toolbox, llm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, noopSender{})

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	reply := events.NewReplySink()
	worker.Post(events.SymbolEventMessage{
		Event:      events.NewInitialRequestEvent(events.InitialRequest{Symbol: testSymbol(), Query: "add nil check"}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case result := <-reply:
		require.NoError(t, result.Err)
		assert.True(t, result.Response.Applied)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resolve in time")
	}
}

func TestWorkerRetriesOnDiagnosticsThenFails(t *testing.T) {
	outline := symbolid.Outline{Name: "Handle", Kind: symbolid.OutlineFunction, FilePath: "/repo/main.go", Range: symbolid.Range{StartLine: 10, EndLine: 20}}
	diagnostics := []events.Diagnostic{{FilePath: "/repo/main.go", Line: 11, Message: "undefined: x", Severity: "error"}}
	broker := newTestBroker(t, outline, true, diagnostics)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{"start_line":10,"end_line":20,"new_text":"func Handle() {}"}`}

	worker := NewWorker(testSymbol().Key(), toolbox, llm)
	worker.maxRetry = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, noopSender{})

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	reply := events.NewReplySink()
	worker.Post(events.SymbolEventMessage{
		Event:      events.NewInitialRequestEvent(events.InitialRequest{Symbol: testSymbol(), Query: "add nil check"}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case result := <-reply:
		require.Error(t, result.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resolve in time")
	}
}

func TestWorkerCancelledBeforeProcessingFailsImmediately(t *testing.T) {
	outline := symbolid.Outline{}
	broker := newTestBroker(t, outline, true, nil)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{}`}

	worker := NewWorker(testSymbol().Key(), toolbox, llm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, noopSender{})

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	props.Cancel()
	reply := events.NewReplySink()
	worker.Post(events.SymbolEventMessage{
		Event:      events.NewInitialRequestEvent(events.InitialRequest{Symbol: testSymbol(), Query: "add nil check"}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case result := <-reply:
		assert.ErrorIs(t, result.Err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resolve in time")
	}
}

func TestWorkerProbeAnswersWithoutFollowingWhenModelDeclines(t *testing.T) {
	outline := symbolid.Outline{Name: "Handle", Kind: symbolid.OutlineFunction, FilePath: "/repo/main.go", Range: symbolid.Range{StartLine: 10, EndLine: 20}}
	broker := newTestBroker(t, outline, true, nil)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{}`}

	worker := NewWorker(testSymbol().Key(), toolbox, llm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, noopSender{})

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	reply := events.NewReplySink()
	worker.Post(events.SymbolEventMessage{
		Event:      events.NewProbeEvent(events.ProbeRequest{Symbol: testSymbol(), Question: "what does this do", Depth: DefaultProbeDepth}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case result := <-reply:
		require.NoError(t, result.Err)
		assert.Contains(t, result.Response.Summary, "plain function")
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resolve in time")
	}
}

// noopSender discards posted events — sufficient for tests that don't
// exercise probe fan-out.
type noopSender struct{}

func (noopSender) Post(events.SymbolEventMessage) {}
