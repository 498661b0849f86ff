package events

import (
	"fmt"

	"github.com/corvidlabs/symborc/pkg/symbolid"
)

// EditRequest carries the data needed to drive one symbol edit.
type EditRequest struct {
	Symbol       symbolid.Identifier
	Instructions string
	// Diagnostics fed back from a previous failed verification, if any —
	// the worker includes these verbatim in the next edit prompt.
	Diagnostics []Diagnostic
}

// ProbeRequest asks a worker to investigate a symbol read-only, optionally
// following go-to-definition links.
type ProbeRequest struct {
	Symbol   symbolid.Identifier
	Question string
	Depth    int // remaining hops this probe may still follow
}

// AskQuestionRequest is a read-only question about a symbol with no
// follow-on edit implied.
type AskQuestionRequest struct {
	Symbol   symbolid.Identifier
	Question string
}

// OutlineRequest asks for the outline of the file containing Symbol.
type OutlineRequest struct {
	Symbol symbolid.Identifier
}

// InitialRequest is the first event posted for a newly named symbol: the
// user's natural-language request plus enough context to let the worker
// fetch an outline and start planning.
type InitialRequest struct {
	Symbol  symbolid.Identifier
	Query   string
	Context string
}

// SymbolEventKind tags which variant a SymbolEvent carries.
type SymbolEventKind string

const (
	KindEdit            SymbolEventKind = "edit"
	KindProbe           SymbolEventKind = "probe"
	KindAskQuestion     SymbolEventKind = "ask_question"
	KindOutline         SymbolEventKind = "outline"
	KindInitialRequest  SymbolEventKind = "initial_request"
)

// SymbolEvent is a tagged variant carrying exactly one of the request
// shapes above. Exactly one of the typed fields is non-nil, matching Kind.
type SymbolEvent struct {
	Kind SymbolEventKind

	Edit           *EditRequest
	Probe          *ProbeRequest
	AskQuestion    *AskQuestionRequest
	Outline        *OutlineRequest
	InitialRequest *InitialRequest
}

// Symbol returns the identifier the event addresses, regardless of variant.
func (e SymbolEvent) Symbol() symbolid.Identifier {
	switch e.Kind {
	case KindEdit:
		return e.Edit.Symbol
	case KindProbe:
		return e.Probe.Symbol
	case KindAskQuestion:
		return e.AskQuestion.Symbol
	case KindOutline:
		return e.Outline.Symbol
	case KindInitialRequest:
		return e.InitialRequest.Symbol
	default:
		return symbolid.Identifier{}
	}
}

// NewEditEvent constructs a well-formed edit SymbolEvent.
func NewEditEvent(req EditRequest) SymbolEvent {
	return SymbolEvent{Kind: KindEdit, Edit: &req}
}

// NewProbeEvent constructs a well-formed probe SymbolEvent.
func NewProbeEvent(req ProbeRequest) SymbolEvent {
	return SymbolEvent{Kind: KindProbe, Probe: &req}
}

// NewInitialRequestEvent constructs the first event for a symbol.
func NewInitialRequestEvent(req InitialRequest) SymbolEvent {
	return SymbolEvent{Kind: KindInitialRequest, InitialRequest: &req}
}

// NewOutlineEvent constructs an outline-fetch SymbolEvent.
func NewOutlineEvent(req OutlineRequest) SymbolEvent {
	return SymbolEvent{Kind: KindOutline, Outline: &req}
}

// NewAskQuestionEvent constructs a read-only question SymbolEvent.
func NewAskQuestionEvent(req AskQuestionRequest) SymbolEvent {
	return SymbolEvent{Kind: KindAskQuestion, AskQuestion: &req}
}

// SymbolEventResponse is what a worker resolves a SymbolEventMessage's
// reply channel with on success.
type SymbolEventResponse struct {
	Symbol  symbolid.Identifier
	Kind    SymbolEventKind
	Summary string
	Applied bool // true if an edit was actually applied to disk/editor buffer
}

// Result is either a SymbolEventResponse or an error — exactly one
// consumer resolves it, exactly once, per the bus's delivery contract.
type Result struct {
	Response *SymbolEventResponse
	Err      error
}

// ReplySink is a single-resolution reply channel: Resolve must be called
// at most once. It is buffered with capacity 1 so a worker that resolves
// before the caller receives never blocks.
type ReplySink chan Result

// NewReplySink creates a fresh, unresolved reply channel.
func NewReplySink() ReplySink {
	return make(ReplySink, 1)
}

// Resolve delivers a result. Calling it twice on the same sink is a bug in
// the caller that nothing detects: while the first result is still in the
// one-slot buffer the second send blocks forever, so callers must
// guarantee single resolution (the symbol worker does this by
// structuring its state machine so exactly one terminal transition per
// message fires a Resolve).
func (r ReplySink) Resolve(resp SymbolEventResponse) {
	r <- Result{Response: &resp}
}

// Fail delivers an error result.
func (r ReplySink) Fail(err error) {
	r <- Result{Err: err}
}

// SymbolEventMessage is the envelope carried on the Symbol Event Bus:
// event, properties, and exactly one reply sink.
type SymbolEventMessage struct {
	Event      SymbolEvent
	Properties MessageProperties
	Reply      ReplySink
}

func (m SymbolEventMessage) String() string {
	return fmt.Sprintf("SymbolEventMessage{kind=%s symbol=%s request=%s}", m.Event.Kind, m.Event.Symbol(), m.Properties.RequestID)
}

// Diagnostic is one LSP diagnostic reported against a file.
type Diagnostic struct {
	FilePath string
	Line     int
	Message  string
	Severity string
}

// HumanMessage is a human-initiated anchor or followup.
type HumanMessage struct {
	Kind    HumanMessageKind
	Anchors []symbolid.Identifier
	Text    string
}

// HumanMessageKind distinguishes an anchored edit batch from a plain
// followup chat turn.
type HumanMessageKind string

const (
	HumanAnchor   HumanMessageKind = "anchor"
	HumanFollowup HumanMessageKind = "followup"
)

// EnvironmentEventKind tags which variant an EnvironmentEventType carries.
type EnvironmentEventKind string

const (
	EnvHuman             EnvironmentEventKind = "human"
	EnvSymbol            EnvironmentEventKind = "symbol"
	EnvEditorStateChange EnvironmentEventKind = "editor_state_change"
	EnvLSP               EnvironmentEventKind = "lsp"
	EnvPing              EnvironmentEventKind = "ping"
	EnvShutDown          EnvironmentEventKind = "shutdown"
)

// EditorStateChange reports edits completed since the last report, plus
// any user query that triggered them.
type EditorStateChange struct {
	EditsDone []string
	UserQuery string
}

// LSPEventKind distinguishes the two LSP-origin signals the reactor reacts
// to.
type LSPEventKind string

const (
	LSPDiagnostics   LSPEventKind = "diagnostics"
	LSPGoDefinition  LSPEventKind = "go_definition"
)

// LSPEvent carries one LSP-origin signal.
type LSPEvent struct {
	Kind        LSPEventKind
	Diagnostics []Diagnostic
	FilePath    string
}

// EnvironmentEventType is the tagged variant the scratch-pad reactor
// consumes: Human, Symbol, EditorStateChange, LSP, Ping, or ShutDown.
type EnvironmentEventType struct {
	Kind EnvironmentEventKind

	Human             *HumanMessage
	Symbol            *SymbolEventMessage
	EditorStateChange *EditorStateChange
	LSP               *LSPEvent
}

func NewHumanEvent(msg HumanMessage) EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvHuman, Human: &msg}
}

func NewSymbolEnvironmentEvent(msg SymbolEventMessage) EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvSymbol, Symbol: &msg}
}

func NewEditorStateChangeEvent(change EditorStateChange) EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvEditorStateChange, EditorStateChange: &change}
}

func NewLSPEvent(evt LSPEvent) EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvLSP, LSP: &evt}
}

func NewPingEvent() EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvPing}
}

func NewShutDownEvent() EnvironmentEventType {
	return EnvironmentEventType{Kind: EnvShutDown}
}
