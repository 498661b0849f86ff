package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesRegisteredInstruments(t *testing.T) {
	m := New()
	m.RecordWorkerTransition("Idle", "Planning")
	m.AdjustWorkersActive("Planning", 2)
	m.RecordLLMCall("anthropic", "ok", 0.25)
	m.RecordLLMChunk("anthropic")
	m.RecordToolCall("apply_edits", 0.01, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "symborc_worker_transitions_total")
	assert.Contains(t, body, "symborc_llm_calls_total")
	assert.Contains(t, body, "symborc_tool_calls_total")
}

func TestRecordToolCallIncrementsErrorsOnFailure(t *testing.T) {
	m := New()
	m.RecordToolCall("diagnostics", 0.01, assertError{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "symborc_tool_errors_total")
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
