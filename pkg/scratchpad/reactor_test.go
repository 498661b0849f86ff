package scratchpad

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

type stubLLM struct{ text string }

func (s *stubLLM) ModelName() string { return "stub-model" }
func (s *stubLLM) Generate(ctx context.Context, req llms.Request) (llms.Response, error) {
	return llms.Response{Text: s.text}, nil
}
func (s *stubLLM) GenerateStreaming(ctx context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

// resolvingPoster immediately resolves every posted message as a
// successfully applied edit, recording what it saw.
type resolvingPoster struct {
	mu    sync.Mutex
	posts []events.SymbolEventMessage
}

func newResolvingPoster() *resolvingPoster {
	return &resolvingPoster{}
}

func (p *resolvingPoster) Post(msg events.SymbolEventMessage) {
	p.mu.Lock()
	p.posts = append(p.posts, msg)
	p.mu.Unlock()
	msg.Reply.Resolve(events.SymbolEventResponse{
		Symbol:  msg.Event.Symbol(),
		Kind:    msg.Event.Kind,
		Summary: "applied",
		Applied: true,
	})
}

func newTestToolbox(t *testing.T, fileContents map[string]string) *toolbroker.Toolbox {
	t.Helper()
	broker := toolbroker.New(toolbroker.Configuration{FailOverLLM: 1})
	require.NoError(t, broker.Register(toolbroker.KindOpenFile, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindOpenFile, OpenFile: &toolbroker.OpenFileOutput{Contents: fileContents[input.OpenFile.FilePath]}}, nil
	}))
	require.NoError(t, broker.Register(toolbroker.KindCreateFile, func(ctx context.Context, props events.MessageProperties, input toolbroker.Input) (toolbroker.Output, error) {
		return toolbroker.Output{Kind: toolbroker.KindCreateFile, CreateFile: &toolbroker.CreateFileOutput{Created: true}}, nil
	}))
	return toolbroker.NewToolbox(broker)
}

func testProps() events.MessageProperties {
	return events.NewMessageProperties(context.Background(), "sess", "http://editor", events.ModelConfig{}, nil)
}

func TestReactorAnchorAndEditDrivesOneEditPerAnchor(t *testing.T) {
	symbols := []symbolid.Identifier{
		symbolid.New("Alpha", "/repo/a.go", nil),
		symbolid.New("Beta", "/repo/b.go", nil),
	}
	toolbox := newTestToolbox(t, map[string]string{"/repo/a.go": "package a", "/repo/b.go": "package b"})
	poster := newResolvingPoster()
	props := testProps()

	reactor := New("/repo/.scratch", toolbox, &stubLLM{text: "notes"}, poster, props)

	reactor.anchorAndEdit(context.Background(), events.HumanMessage{
		Kind:    events.HumanAnchor,
		Anchors: symbols,
		Text:    "fix both",
	})

	assert.Len(t, poster.posts, 2)

	select {
	case event := <-reactor.reactions:
		require.Equal(t, events.EnvEditorStateChange, event.Kind)
		assert.Len(t, event.EditorStateChange.EditsDone, 2)
	case <-time.After(time.Second):
		t.Fatal("expected an EditorStateChange to be queued")
	}
}

func TestReactorRefreshFilesContextCapsAtMaxFiles(t *testing.T) {
	var symbols []symbolid.Identifier
	contents := map[string]string{}
	for i := 0; i < DefaultMaxFilesContext+10; i++ {
		path := fileNameFor(i)
		symbols = append(symbols, symbolid.New("Sym", path, nil))
		contents[path] = "x"
	}
	toolbox := newTestToolbox(t, contents)
	reactor := New("/repo/.scratch", toolbox, &stubLLM{}, newResolvingPoster(), testProps())

	reactor.refreshFilesContext(context.Background(), symbols)

	reactor.mu.Lock()
	count := len(reactor.filesContext)
	reactor.mu.Unlock()
	assert.Equal(t, DefaultMaxFilesContext, count)
	reactor.closeWatcher()
}

func fileNameFor(i int) string {
	return "/repo/file" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".go"
}

func TestReactorReactToEditsAccumulatesExtraContext(t *testing.T) {
	toolbox := newTestToolbox(t, nil)
	reactor := New("/repo/.scratch", toolbox, &stubLLM{}, newResolvingPoster(), testProps())

	reactor.reactToEdits(context.Background(), events.EditorStateChange{EditsDone: []string{"a: did x", "b: did y"}})

	reactor.mu.Lock()
	extra := reactor.extraContext
	reactor.mu.Unlock()
	assert.Contains(t, extra, "did x")
	assert.Contains(t, extra, "did y")
}

func TestReactorReactToEditsTruncatesToTokenBudget(t *testing.T) {
	toolbox := newTestToolbox(t, nil)
	reactor := New("/repo/.scratch", toolbox, &stubLLM{}, newResolvingPoster(), testProps())
	reactor.maxExtraContextTokens = 10

	var edits []string
	for i := 0; i < 50; i++ {
		edits = append(edits, "symbol: did a fairly verbose edit that costs several tokens to describe")
	}
	reactor.reactToEdits(context.Background(), events.EditorStateChange{EditsDone: edits})

	reactor.mu.Lock()
	extra := reactor.extraContext
	reactor.mu.Unlock()
	assert.LessOrEqual(t, toolbroker.EstimateTokens(extra), 10)
}

func TestTruncateToTokenBudgetDropsOldestLinesFirst(t *testing.T) {
	text := "first line\nsecond line\nthird line\n"
	got := truncateToTokenBudget(text, 0)
	assert.Equal(t, "", got)

	unbounded := truncateToTokenBudget(text, 1000)
	assert.Equal(t, text, unbounded)
}

func TestReactorIgnoresDiagnosticsWhileFocussed(t *testing.T) {
	toolbox := newTestToolbox(t, map[string]string{"/repo/a.go": "x"})
	llm := &stubLLM{text: "updated notes"}
	reactor := New("/repo/.scratch", toolbox, llm, newResolvingPoster(), testProps())
	reactor.filesContext = []fileContext{{filePath: "/repo/a.go", content: "x"}}
	reactor.focussing = true

	reactor.reactToLSP(context.Background(), events.LSPEvent{
		Kind:        events.LSPDiagnostics,
		Diagnostics: []events.Diagnostic{{FilePath: "/repo/a.go", Message: "boom"}},
	})
	// No panic and no crash means the early-return path was exercised;
	// nothing else to assert without a spy on WriteFile.
}
