package toolbroker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/symborc/pkg/events"
)

type recordingSink struct {
	events []events.UIEvent
}

func (s *recordingSink) Notify(e events.UIEvent) {
	s.events = append(s.events, e)
}

func TestOpenFileHandlerRoundTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open_file", r.URL.Path)
		var req OpenFileInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "main.go", req.FilePath)
		_ = json.NewEncoder(w).Encode(OpenFileOutput{Contents: "package main"})
	}))
	defer server.Close()

	broker := New(DefaultConfiguration())
	require.NoError(t, RegisterEditorHandlers(broker, NewEditorClient()))

	props := newTestProps()
	props.EditorURL = server.URL

	out, err := broker.Invoke(context.Background(), props, Input{Kind: KindOpenFile, OpenFile: &OpenFileInput{FilePath: "main.go"}})
	require.NoError(t, err)
	assert.Equal(t, "package main", out.OpenFile.Contents)
}

func TestApplyEditsHandlerEmitsUIEventWhenNotDirect(t *testing.T) {
	broker := New(Configuration{FailOverLLM: 3, ApplyEditsDirectly: false})
	require.NoError(t, RegisterEditorHandlers(broker, NewEditorClient()))

	sink := &recordingSink{}
	props := events.NewMessageProperties(context.Background(), "sess-1", "http://editor", events.ModelConfig{}, sink)

	out, err := broker.Invoke(context.Background(), props, Input{
		Kind: KindApplyEdits,
		ApplyEdits: &ApplyEditsInput{
			Edits:         []Edit{{FilePath: "a.go", StartLine: 1, EndLine: 2, NewText: "x"}},
			ApplyDirectly: false,
		},
	})

	require.NoError(t, err)
	assert.False(t, out.ApplyEdits.Applied)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "apply_edits_requested", sink.events[0].Kind)
}

func TestGoToDefinitionHandlerAllowsZeroLocations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GoToDefinitionOutput{})
	}))
	defer server.Close()

	broker := New(DefaultConfiguration())
	require.NoError(t, RegisterEditorHandlers(broker, NewEditorClient()))

	props := newTestProps()
	props.EditorURL = server.URL

	out, err := broker.Invoke(context.Background(), props, Input{
		Kind:           KindGoToDefinition,
		GoToDefinition: &GoToDefinitionInput{FilePath: "a.go", Line: 1, Column: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, out.GoToDefinition.Locations)
}

func TestEditorHandlerWrapsTransportFailureAsRetryable(t *testing.T) {
	broker := New(DefaultConfiguration())
	require.NoError(t, RegisterEditorHandlers(broker, NewEditorClient()))

	props := newTestProps()
	props.EditorURL = "http://127.0.0.1:1" // nothing listens here

	_, err := broker.Invoke(context.Background(), props, Input{Kind: KindOpenFile, OpenFile: &OpenFileInput{FilePath: "a.go"}})

	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CategoryTransport, toolErr.Category)
	assert.True(t, toolErr.Retryable())
}
