package toolbroker

import (
	"context"
	"fmt"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/symbolid"
)

// Toolbox composes multi-step tool sequences on top of a Broker. Workers
// reach for these instead of invoking individual tools so that the common
// "locate, then act" sequences stay in one place (SPEC_FULL.md §4.2).
type Toolbox struct {
	broker *Broker
}

// NewToolbox wraps broker with composition helpers.
func NewToolbox(broker *Broker) *Toolbox {
	return &Toolbox{broker: broker}
}

// OutlineForSymbol opens the symbol's file and returns the outline node
// matching it, the sequence a Probe worker runs before asking the LLM
// whether to follow a linked symbol further.
func (tb *Toolbox) OutlineForSymbol(ctx context.Context, props events.MessageProperties, symbol symbolid.Identifier) (symbolid.Outline, error) {
	outlineOut, err := tb.broker.Invoke(ctx, props, Input{
		Kind:            KindGetOutlineNodes,
		GetOutlineNodes: &GetOutlineNodesInput{FilePath: symbol.FilePath},
	})
	if err != nil {
		return symbolid.Outline{}, err
	}

	outline, ok := outlineOut.GetOutlineNodes.Outline.Find(symbol.Name)
	if !ok {
		return symbolid.Outline{}, fmt.Errorf("toolbox: symbol %s not found in outline of %s", symbol.Name, symbol.FilePath)
	}
	return outline, nil
}

// FollowDefinition resolves go_to_definition and, when exactly one
// location is returned, fetches its outline in the same round trip —
// the common case for a Probe worker deciding whether to descend.
func (tb *Toolbox) FollowDefinition(ctx context.Context, props events.MessageProperties, filePath string, line, column int) ([]symbolid.Identifier, *symbolid.Outline, error) {
	defOut, err := tb.broker.Invoke(ctx, props, Input{
		Kind:           KindGoToDefinition,
		GoToDefinition: &GoToDefinitionInput{FilePath: filePath, Line: line, Column: column},
	})
	if err != nil {
		return nil, nil, err
	}

	locations := defOut.GoToDefinition.Locations
	if len(locations) != 1 {
		return locations, nil, nil
	}

	outline, err := tb.OutlineForSymbol(ctx, props, locations[0])
	if err != nil {
		return locations, nil, nil
	}
	return locations, &outline, nil
}

// ApplyEditsWithDiagnostics applies edits and, if the tool broker config
// has ApplyEditsDirectly set, immediately re-fetches diagnostics for the
// touched files so a Worker's Verifying state has fresh data without a
// second round trip initiated by the caller.
func (tb *Toolbox) ApplyEditsWithDiagnostics(ctx context.Context, props events.MessageProperties, edits []Edit) (ApplyEditsOutput, []events.Diagnostic, error) {
	applyOut, err := tb.broker.Invoke(ctx, props, Input{
		Kind:       KindApplyEdits,
		ApplyEdits: &ApplyEditsInput{Edits: edits, ApplyDirectly: tb.broker.Configuration().ApplyEditsDirectly},
	})
	if err != nil {
		return ApplyEditsOutput{}, nil, err
	}

	if !applyOut.ApplyEdits.Applied {
		return *applyOut.ApplyEdits, nil, nil
	}

	files := make([]string, 0, len(edits))
	seen := make(map[string]bool)
	for _, e := range edits {
		if !seen[e.FilePath] {
			seen[e.FilePath] = true
			files = append(files, e.FilePath)
		}
	}

	diagOut, err := tb.broker.Invoke(ctx, props, Input{
		Kind:        KindDiagnostics,
		Diagnostics: &DiagnosticsInput{FilePaths: files},
	})
	if err != nil {
		return *applyOut.ApplyEdits, nil, err
	}

	return *applyOut.ApplyEdits, diagOut.Diagnostics.Diagnostics, nil
}

// InvokeProbeQuestion asks the LLM-backed probe_question tool whether a
// Probing worker should follow a linked symbol further or answer now.
func (tb *Toolbox) InvokeProbeQuestion(ctx context.Context, props events.MessageProperties, symbol symbolid.Identifier, question string, outline symbolid.Outline) (ProbeQuestionOutput, error) {
	out, err := tb.broker.Invoke(ctx, props, Input{
		Kind: KindProbeQuestion,
		ProbeQuestion: &ProbeQuestionInput{
			Symbol:   symbol,
			Question: question,
			Outline:  outline,
		},
	})
	if err != nil {
		return ProbeQuestionOutput{}, err
	}
	return *out.ProbeQuestion, nil
}

// ImportantSymbols asks the LLM-backed important_symbols tool which
// symbols in workspaceFiles are most relevant to query, the seed step of
// a Plan (SPEC_FULL.md §11).
func (tb *Toolbox) ImportantSymbols(ctx context.Context, props events.MessageProperties, query string, workspaceFiles []string) ([]symbolid.Identifier, error) {
	out, err := tb.broker.Invoke(ctx, props, Input{
		Kind: KindImportantSymbols,
		ImportantSymbols: &ImportantSymbolsInput{
			Query:          query,
			WorkspaceFiles: workspaceFiles,
		},
	})
	if err != nil {
		return nil, err
	}
	return out.ImportantSymbols.Symbols, nil
}

// OpenFile reads a file's contents through the editor bridge. Used outside
// the edit/verify loop by the scratch-pad reactor when it needs to read
// its own storage file or a newly anchored file into its context cache.
func (tb *Toolbox) OpenFile(ctx context.Context, props events.MessageProperties, filePath string) (string, error) {
	out, err := tb.broker.Invoke(ctx, props, Input{Kind: KindOpenFile, OpenFile: &OpenFileInput{FilePath: filePath}})
	if err != nil {
		return "", err
	}
	return out.OpenFile.Contents, nil
}

// WriteFile creates or overwrites a file through the editor bridge. The
// scratch-pad reactor uses this to persist its running notes file.
func (tb *Toolbox) WriteFile(ctx context.Context, props events.MessageProperties, filePath, contents string) error {
	_, err := tb.broker.Invoke(ctx, props, Input{Kind: KindCreateFile, CreateFile: &CreateFileInput{FilePath: filePath, Contents: contents}})
	return err
}
