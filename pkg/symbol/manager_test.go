package symbol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

func newFanoutBroker(t *testing.T, symbols []symbolid.Identifier) *toolbroker.Broker {
	t.Helper()
	broker := toolbroker.New(toolbroker.Configuration{FailOverLLM: 1, ApplyEditsDirectly: true})

	require.NoError(t, broker.Register(toolbroker.KindImportantSymbols, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindImportantSymbols, ImportantSymbols: &toolbroker.ImportantSymbolsOutput{Symbols: symbols}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindGetOutlineNodes, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		outline := symbolid.Outline{Name: input.GetOutlineNodes.FilePath, Kind: symbolid.OutlineFunction, Range: symbolid.Range{StartLine: 1, EndLine: 2}}
		return toolbroker.Output{Kind: toolbroker.KindGetOutlineNodes, GetOutlineNodes: &toolbroker.GetOutlineNodesOutput{Outline: outline}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindApplyEdits, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindApplyEdits, ApplyEdits: &toolbroker.ApplyEditsOutput{Applied: true}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindDiagnostics, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindDiagnostics, Diagnostics: &toolbroker.DiagnosticsOutput{}}, nil
	}))

	return broker
}

func TestManagerFanOutEditsAppliesEverySymbol(t *testing.T) {
	symbols := []symbolid.Identifier{
		symbolid.New("Alpha", "/repo/a.go", nil),
		symbolid.New("Beta", "/repo/b.go", nil),
		symbolid.New("Gamma", "/repo/c.go", nil),
	}
	broker := newFanoutBroker(t, symbols)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{"start_line":1,"end_line":2,"new_text":"x"}`}

	manager := NewManager(toolbox, llm)
	defer manager.Shutdown()

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	results := manager.FanOutEdits(context.Background(), props, "fix bug", "", symbols)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.True(t, r.Applied)
	}
}

func TestManagerPlanSortsAndDedupesImportantSymbols(t *testing.T) {
	symbols := []symbolid.Identifier{
		symbolid.New("Beta", "/repo/b.go", nil),
		symbolid.New("Alpha", "/repo/a.go", nil),
		symbolid.New("Alpha", "/repo/a.go", nil), // duplicate
	}
	broker := newFanoutBroker(t, symbols)
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{"start_line":1,"end_line":2,"new_text":"x"}`}

	manager := NewManager(toolbox, llm)
	defer manager.Shutdown()

	props := events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
	change, err := manager.Plan(context.Background(), props, "fix bug", []string{"/repo/a.go", "/repo/b.go"})

	require.NoError(t, err)
	require.Len(t, change.EditsDone, 2)
	assert.Contains(t, change.EditsDone[0], "/repo/a.go")
	assert.Contains(t, change.EditsDone[1], "/repo/b.go")
	assert.Equal(t, "fix bug", change.UserQuery)
}

func TestManagerLazilySpawnsOneWorkerPerSymbol(t *testing.T) {
	sym := symbolid.New("Handle", "/repo/main.go", nil)
	broker := newFanoutBroker(t, []symbolid.Identifier{sym})
	toolbox := toolbroker.NewToolbox(broker)
	llm := &stubLLM{text: `{"start_line":1,"end_line":2,"new_text":"x"}`}

	manager := NewManager(toolbox, llm)
	defer manager.Shutdown()

	ctx := context.Background()
	props := events.NewMessageProperties(ctx, "sess", "http://editor", events.ModelConfig{}, nil)
	reply := events.NewReplySink()
	manager.Dispatch(ctx, events.SymbolEventMessage{
		Event:      events.NewInitialRequestEvent(events.InitialRequest{Symbol: sym, Query: "fix"}),
		Properties: props,
		Reply:      reply,
	})

	select {
	case result := <-reply:
		require.NoError(t, result.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resolve in time")
	}

	manager.mu.Lock()
	count := len(manager.workers)
	manager.mu.Unlock()
	assert.Equal(t, 1, count)
}
