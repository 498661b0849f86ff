// Package plan implements the ordered Plan and its checkpoint: the unit
// of re-entrant progress the plan_service CLI advances one step at a time
// (SPEC_FULL.md §4.5).
package plan

import (
	"encoding/json"
	"fmt"
)

// Step is one unit of work in a Plan: a symbol-targeted edit instruction
// plus the files it is expected to touch.
type Step struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	FilesToEdit  []string `json:"files_to_edit"`
	Instructions string   `json:"instructions"`
}

// Plan is an ordered list of Steps plus a checkpoint index. Checkpoint is
// the only field that mutates after creation, and only ever forward:
// Checkpoint ∈ [0, len(Steps)], monotonically non-decreasing.
type Plan struct {
	Query      string `json:"query"`
	Steps      []Step `json:"steps"`
	Checkpoint int    `json:"checkpoint"`
}

// New builds a Plan at checkpoint 0.
func New(query string, steps []Step) *Plan {
	return &Plan{Query: query, Steps: steps, Checkpoint: 0}
}

// Done reports whether every step has been executed.
func (p *Plan) Done() bool {
	return p.Checkpoint >= len(p.Steps)
}

// ErrNoStepsRemaining is returned by NextStep once Checkpoint has reached
// len(Steps) — the boundary case spec.md §8 names explicitly.
var ErrNoStepsRemaining = fmt.Errorf("plan: no steps remaining")

// NextStep returns the step at the current checkpoint without advancing
// it — advancing only happens once the step has actually executed, via
// IncrementCheckpoint.
func (p *Plan) NextStep() (Step, error) {
	if p.Done() {
		return Step{}, ErrNoStepsRemaining
	}
	return p.Steps[p.Checkpoint], nil
}

// IncrementCheckpoint is the plan's one mutation. It is a bug in the
// caller to call this without having executed Steps[Checkpoint] first —
// the plan has no way to verify that itself, by design (spec.md §9:
// "Execution is idempotent in the sense that re-running the same step
// ... must produce the same external edits modulo LLM nondeterminism").
func (p *Plan) IncrementCheckpoint() error {
	if p.Done() {
		return ErrNoStepsRemaining
	}
	p.Checkpoint++
	return nil
}

// Serialize converts the Plan to JSON bytes.
func (p *Plan) Serialize() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Deserialize reconstructs a Plan from JSON bytes.
func Deserialize(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: unmarshaling: %w", err)
	}
	return &p, nil
}
