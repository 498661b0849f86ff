// Package toolbroker implements the Tool Broker (dispatch by named tool to
// a registered handler) and the editor-bridge / LLM-backed handlers that
// back it, per SPEC_FULL.md §4.2.
package toolbroker

import (
	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/symbolid"
)

// Kind names one registered tool. The broker dispatches on Kind to the
// handler registered under the matching name — a tagged-variant switch,
// not dynamic dispatch over a large interface hierarchy, so the set of
// tools stays exhaustive and easy to audit.
type Kind string

const (
	KindGoToDefinition     Kind = "go_to_definition"
	KindOpenFile           Kind = "open_file"
	KindCreateFile         Kind = "create_file"
	KindApplyEdits         Kind = "apply_edits"
	KindGetOutlineNodes    Kind = "get_outline_nodes"
	KindDiagnostics        Kind = "diagnostics"
	KindRunTerminalCommand Kind = "run_terminal_command"
	KindRunTests           Kind = "run_tests"
	KindCodeSymbolSearch   Kind = "code_symbol_search"
	KindProbeQuestion      Kind = "probe_question"
	KindImportantSymbols   Kind = "important_symbols"
)

// GoToDefinitionInput asks the editor bridge where a symbol is defined.
type GoToDefinitionInput struct {
	FilePath string
	Line     int
	Column   int
}

// GoToDefinitionOutput reports zero, one, or many resolved locations. Zero
// or multiple locations is not itself an error (SPEC_FULL.md §11) — the
// caller (typically a Probe worker) decides whether to continue.
type GoToDefinitionOutput struct {
	Locations []symbolid.Identifier
}

type OpenFileInput struct {
	FilePath string
}

type OpenFileOutput struct {
	Contents string
}

type CreateFileInput struct {
	FilePath string
	Contents string
}

type CreateFileOutput struct {
	Created bool
}

// Edit is one replacement to apply to a file.
type Edit struct {
	FilePath  string
	StartLine int
	EndLine   int
	NewText   string
}

type ApplyEditsInput struct {
	Edits            []Edit
	ApplyDirectly    bool // mirrors ToolBrokerConfiguration.ApplyEditsDirectly
	ExpectedVersion  string
}

// ApplyEditsOutput reports success or a version mismatch. A version
// mismatch is retryable by re-fetching the file (SPEC_FULL.md §5).
type ApplyEditsOutput struct {
	Applied         bool
	VersionMismatch bool
}

type GetOutlineNodesInput struct {
	FilePath string
}

type GetOutlineNodesOutput struct {
	Outline symbolid.Outline
}

type DiagnosticsInput struct {
	FilePaths []string
}

type DiagnosticsOutput struct {
	Diagnostics []events.Diagnostic
}

type RunTerminalCommandInput struct {
	Command string
	Cwd     string
}

type RunTerminalCommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type RunTestsInput struct {
	Package string
}

type RunTestsOutput struct {
	Passed bool
	Output string
}

type CodeSymbolSearchInput struct {
	Query string
}

type CodeSymbolSearchOutput struct {
	Symbols []symbolid.Identifier
}

// ProbeQuestionInput asks the LLM whether a probe should follow a linked
// symbol further or stop and summarize.
type ProbeQuestionInput struct {
	Symbol   symbolid.Identifier
	Question string
	Outline  symbolid.Outline
}

type ProbeQuestionOutput struct {
	ShouldFollow bool
	NextSymbol   *symbolid.Identifier
	Answer       string
}

// ImportantSymbolsInput is the request to the LLM-backed "pick important
// symbols for this query" tool that seeds a Plan (SPEC_FULL.md §11).
type ImportantSymbolsInput struct {
	Query          string
	WorkspaceFiles []string
}

// ImportantSymbolsOutput is the list of symbols the plan should target,
// in the order the model returned them; the handler does not sort them.
// symbol.Manager.Plan de-duplicates the list and breaks ties
// lexicographically on file path (spec.md §8 scenario 5).
type ImportantSymbolsOutput struct {
	Symbols []symbolid.Identifier
}

// Input is the tagged variant dispatched to a single named tool handler.
// Exactly one typed field is set, matching Kind.
type Input struct {
	Kind Kind

	GoToDefinition     *GoToDefinitionInput
	OpenFile           *OpenFileInput
	CreateFile         *CreateFileInput
	ApplyEdits         *ApplyEditsInput
	GetOutlineNodes    *GetOutlineNodesInput
	Diagnostics        *DiagnosticsInput
	RunTerminalCommand *RunTerminalCommandInput
	RunTests           *RunTestsInput
	CodeSymbolSearch   *CodeSymbolSearchInput
	ProbeQuestion      *ProbeQuestionInput
	ImportantSymbols   *ImportantSymbolsInput
}

// Output is the tagged variant a handler returns.
type Output struct {
	Kind Kind

	GoToDefinition     *GoToDefinitionOutput
	OpenFile           *OpenFileOutput
	CreateFile         *CreateFileOutput
	ApplyEdits         *ApplyEditsOutput
	GetOutlineNodes    *GetOutlineNodesOutput
	Diagnostics        *DiagnosticsOutput
	RunTerminalCommand *RunTerminalCommandOutput
	RunTests           *RunTestsOutput
	CodeSymbolSearch   *CodeSymbolSearchOutput
	ProbeQuestion      *ProbeQuestionOutput
	ImportantSymbols   *ImportantSymbolsOutput
}
