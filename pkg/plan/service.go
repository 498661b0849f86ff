package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// Result is what ExecuteStep reports: whether the step's edits were
// applied and what diagnostics (if any) remain.
type Result struct {
	StepID      string
	Applied     bool
	Diagnostics []events.Diagnostic
	Summary     string
}

// Service implements the two plan-level operations named in spec.md §4.5:
// CreatePlan (LLM produces ordered steps) and ExecuteStep (runs one step
// through the Tool Broker). It holds no plan state of its own — the
// caller (typically the plan_service CLI) owns loading/saving the Plan
// and calling IncrementCheckpoint only after a successful ExecuteStep.
type Service struct {
	toolbox *toolbroker.Toolbox
	llm     llms.Client
	props   events.MessageProperties
}

// NewService wires a Service to the Tool Broker (via toolbox) and an LLM
// client for plan generation and per-step edit proposals.
func NewService(toolbox *toolbroker.Toolbox, llm llms.Client, props events.MessageProperties) *Service {
	return &Service{toolbox: toolbox, llm: llm, props: props}
}

type planWire struct {
	Steps []struct {
		ID           string   `json:"id"`
		Title        string   `json:"title"`
		FilesToEdit  []string `json:"files_to_edit"`
		Instructions string   `json:"instructions"`
	} `json:"steps"`
}

// CreatePlan asks the LLM to decompose query (plus free-form user
// context) into an ordered list of steps and returns a fresh Plan at
// checkpoint 0.
func (s *Service) CreatePlan(ctx context.Context, query, userContext string) (*Plan, error) {
	prompt := fmt.Sprintf(
		"Decompose this request into an ordered list of edit steps. Request: %q. Context: %s\n"+
			"Respond with JSON only: {\"steps\": [{\"id\", \"title\", \"files_to_edit\", \"instructions\"}]}.",
		query, userContext,
	)

	resp, err := s.llm.Generate(ctx, llms.Request{
		Model:    s.llm.ModelName(),
		Messages: []llms.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("plan: creating plan: %w", err)
	}

	var wire planWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		return nil, fmt.Errorf("plan: parsing plan response: %w", err)
	}

	steps := make([]Step, 0, len(wire.Steps))
	for _, s := range wire.Steps {
		steps = append(steps, Step{
			ID:           s.ID,
			Title:        s.Title,
			FilesToEdit:  s.FilesToEdit,
			Instructions: s.Instructions,
		})
	}

	return New(query, steps), nil
}

type stepEditWire struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	NewText   string `json:"new_text"`
}

// ExecuteStep asks the LLM for one edit per file named in step and
// applies them through the Tool Broker, returning whatever diagnostics
// come back. It does not retry — retry-with-diagnostic-feedback is the
// Symbol Worker's job (SPEC_FULL.md §4.3); the plan service is a thinner,
// single-pass executor suited to unattended re-entrant runs.
func (s *Service) ExecuteStep(ctx context.Context, step Step) (Result, error) {
	if len(step.FilesToEdit) == 0 {
		return Result{}, fmt.Errorf("plan: step %s names no files to edit", step.ID)
	}

	edits := make([]toolbroker.Edit, 0, len(step.FilesToEdit))
	for _, file := range step.FilesToEdit {
		edit, err := s.proposeEdit(ctx, file, step.Instructions)
		if err != nil {
			return Result{}, fmt.Errorf("plan: step %s: %w", step.ID, err)
		}
		edits = append(edits, edit)
	}

	applied, diagnostics, err := s.toolbox.ApplyEditsWithDiagnostics(ctx, s.props, edits)
	if err != nil {
		return Result{}, fmt.Errorf("plan: step %s: applying edits: %w", step.ID, err)
	}

	summary := "applied cleanly"
	if len(diagnostics) > 0 {
		summary = fmt.Sprintf("%d diagnostic(s) remain", len(diagnostics))
	}

	return Result{
		StepID:      step.ID,
		Applied:     applied.Applied,
		Diagnostics: diagnostics,
		Summary:     summary,
	}, nil
}

func (s *Service) proposeEdit(ctx context.Context, filePath, instructions string) (toolbroker.Edit, error) {
	resp, err := s.llm.Generate(ctx, llms.Request{
		Model:    s.llm.ModelName(),
		Messages: []llms.Message{{Role: "user", Content: fmt.Sprintf("Edit %s. %s\nRespond with JSON only: {start_line, end_line, new_text}.", filePath, instructions)}},
	})
	if err != nil {
		return toolbroker.Edit{}, err
	}

	var wire stepEditWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		return toolbroker.Edit{}, fmt.Errorf("parsing edit response for %s: %w", filePath, err)
	}

	return toolbroker.Edit{FilePath: filePath, StartLine: wire.StartLine, EndLine: wire.EndLine, NewText: wire.NewText}, nil
}
