package toolbroker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/corvidlabs/symborc/pkg/events"
)

// RegisterEditorHandlers wires every editor-bridge-backed tool (spec.md
// §6) into broker, using client to make the HTTP calls. Transport failures
// map to CategoryTransport (errCommunicatingWithEditor); response schema
// drift maps to CategoryProtocol (errSerdeConversionFailed).
func RegisterEditorHandlers(broker *Broker, client *EditorClient) error {
	type registration struct {
		kind Kind
		fn   Handler
	}

	regs := []registration{
		{KindGoToDefinition, goToDefinitionHandler(client)},
		{KindOpenFile, openFileHandler(client)},
		{KindCreateFile, createFileHandler(client)},
		{KindApplyEdits, applyEditsHandler(client)},
		{KindGetOutlineNodes, getOutlineNodesHandler(client)},
		{KindDiagnostics, diagnosticsHandler(client)},
		{KindRunTerminalCommand, runTerminalCommandHandler(client)},
		{KindRunTests, runTestsHandler(client)},
		{KindCodeSymbolSearch, codeSymbolSearchHandler(client)},
	}

	for _, r := range regs {
		if err := broker.Register(r.kind, r.fn); err != nil {
			return err
		}
	}
	return nil
}

func goToDefinitionHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.GoToDefinition == nil {
			return Output{}, errSerdeConversionFailed(KindGoToDefinition, errors.New("missing input"))
		}
		var resp GoToDefinitionOutput
		if err := client.Call(ctx, props.EditorURL, "go_to_definition", input.GoToDefinition, &resp); err != nil {
			return Output{}, wrapEditorError(KindGoToDefinition, err)
		}
		// Zero or multiple locations is not an error (SPEC_FULL.md §11) —
		// report it as-is and let the caller decide.
		return Output{Kind: KindGoToDefinition, GoToDefinition: &resp}, nil
	}
}

func openFileHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.OpenFile == nil {
			return Output{}, errSerdeConversionFailed(KindOpenFile, errors.New("missing input"))
		}
		var resp OpenFileOutput
		if err := client.Call(ctx, props.EditorURL, "open_file", input.OpenFile, &resp); err != nil {
			return Output{}, wrapEditorError(KindOpenFile, err)
		}
		return Output{Kind: KindOpenFile, OpenFile: &resp}, nil
	}
}

func createFileHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.CreateFile == nil {
			return Output{}, errSerdeConversionFailed(KindCreateFile, errors.New("missing input"))
		}
		var resp CreateFileOutput
		if err := client.Call(ctx, props.EditorURL, "create_file", input.CreateFile, &resp); err != nil {
			return Output{}, wrapEditorError(KindCreateFile, err)
		}
		return Output{Kind: KindCreateFile, CreateFile: &resp}, nil
	}
}

// applyEditsHandler is the only writer path (spec.md §5): when
// ApplyEditsDirectly is false it emits a UI event and expects the editor
// to apply the edit instead of calling the bridge.
func applyEditsHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.ApplyEdits == nil {
			return Output{}, errSerdeConversionFailed(KindApplyEdits, errors.New("missing input"))
		}

		if !input.ApplyEdits.ApplyDirectly {
			props.UISink.Notify(events.UIEvent{
				RequestID: props.RequestID,
				Kind:      "apply_edits_requested",
				Payload:   input.ApplyEdits.Edits,
			})
			return Output{Kind: KindApplyEdits, ApplyEdits: &ApplyEditsOutput{Applied: false}}, nil
		}

		var resp ApplyEditsOutput
		if err := client.Call(ctx, props.EditorURL, "apply_edits", input.ApplyEdits, &resp); err != nil {
			return Output{}, wrapEditorError(KindApplyEdits, err)
		}
		return Output{Kind: KindApplyEdits, ApplyEdits: &resp}, nil
	}
}

func getOutlineNodesHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.GetOutlineNodes == nil {
			return Output{}, errSerdeConversionFailed(KindGetOutlineNodes, errors.New("missing input"))
		}
		var resp GetOutlineNodesOutput
		if err := client.Call(ctx, props.EditorURL, "get_outline_nodes", input.GetOutlineNodes, &resp); err != nil {
			return Output{}, wrapEditorError(KindGetOutlineNodes, err)
		}
		return Output{Kind: KindGetOutlineNodes, GetOutlineNodes: &resp}, nil
	}
}

func diagnosticsHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.Diagnostics == nil {
			return Output{}, errSerdeConversionFailed(KindDiagnostics, errors.New("missing input"))
		}
		var resp DiagnosticsOutput
		if err := client.Call(ctx, props.EditorURL, "diagnostics", input.Diagnostics, &resp); err != nil {
			return Output{}, wrapEditorError(KindDiagnostics, err)
		}
		return Output{Kind: KindDiagnostics, Diagnostics: &resp}, nil
	}
}

func runTerminalCommandHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.RunTerminalCommand == nil {
			return Output{}, errSerdeConversionFailed(KindRunTerminalCommand, errors.New("missing input"))
		}
		var resp RunTerminalCommandOutput
		if err := client.Call(ctx, props.EditorURL, "run_terminal_command", input.RunTerminalCommand, &resp); err != nil {
			return Output{}, wrapEditorError(KindRunTerminalCommand, err)
		}
		return Output{Kind: KindRunTerminalCommand, RunTerminalCommand: &resp}, nil
	}
}

func runTestsHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.RunTests == nil {
			return Output{}, errSerdeConversionFailed(KindRunTests, errors.New("missing input"))
		}
		var resp RunTestsOutput
		if err := client.Call(ctx, props.EditorURL, "run_tests", input.RunTests, &resp); err != nil {
			return Output{}, wrapEditorError(KindRunTests, err)
		}
		return Output{Kind: KindRunTests, RunTests: &resp}, nil
	}
}

func codeSymbolSearchHandler(client *EditorClient) Handler {
	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.CodeSymbolSearch == nil {
			return Output{}, errSerdeConversionFailed(KindCodeSymbolSearch, errors.New("missing input"))
		}
		var resp CodeSymbolSearchOutput
		if err := client.Call(ctx, props.EditorURL, "code_symbol_search", input.CodeSymbolSearch, &resp); err != nil {
			return Output{}, wrapEditorError(KindCodeSymbolSearch, err)
		}
		return Output{Kind: KindCodeSymbolSearch, CodeSymbolSearch: &resp}, nil
	}
}

// wrapEditorError classifies an EditorClient error as Transport unless it
// is already a JSON decode failure, which indicates schema drift
// (Protocol), not unreachability.
func wrapEditorError(tool Kind, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return errSerdeConversionFailed(tool, err)
	}
	return errCommunicatingWithEditor(tool, err)
}
