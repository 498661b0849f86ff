package symbol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/metrics"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// EventSender is the one-way capability a Worker holds to post new events
// back onto the bus (a spawned probe, a re-edit after failed
// verification). Passing this instead of the Manager itself avoids a
// cyclic Worker<->Manager reference.
type EventSender interface {
	Post(msg events.SymbolEventMessage)
}

// DefaultMaxRetry bounds the total number of Editing attempts per request,
// the first included; an attempt whose verification still reports
// diagnostics, or whose edit hits a version mismatch, uses one up before
// the worker gives up (spec.md §4.3).
const DefaultMaxRetry = 3

// DefaultProbeDepth bounds how many go-to-definition hops a probe may
// still follow before it must answer instead of descending further.
const DefaultProbeDepth = 5

// Worker is the per-symbol state machine: Idle -> Planning -> Editing ->
// Verifying -> Idle, with Probing as a side-branch from Idle
// (spec.md §4.3).
type Worker struct {
	key     string // symbolid.Identifier.Key(), used only for logging
	inbox   chan events.SymbolEventMessage
	toolbox *toolbroker.Toolbox
	llm     llms.Client

	maxRetry int
	log      *slog.Logger
	metrics  *metrics.Metrics

	state State
}

// NewWorker builds a Worker and its inbox. The caller (the Manager) owns
// sending messages via Post and must eventually cancel the worker's
// context to let Run return.
func NewWorker(symbolKey string, toolbox *toolbroker.Toolbox, llm llms.Client) *Worker {
	return &Worker{
		key:      symbolKey,
		inbox:    make(chan events.SymbolEventMessage, 16),
		toolbox:  toolbox,
		llm:      llm,
		maxRetry: DefaultMaxRetry,
		log:      slog.With("symbol", symbolKey),
		state:    StateIdle,
	}
}

// WithMetrics attaches a metrics sink the worker reports every state
// transition to. Optional — a Worker with no metrics attached simply
// skips recording.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	if m != nil {
		m.AdjustWorkersActive(string(w.state), 1)
	}
	return w
}

// setState transitions the worker and records the move if metrics are
// attached.
func (w *Worker) setState(s State) {
	if w.metrics != nil {
		w.metrics.RecordWorkerTransition(string(w.state), string(s))
		w.metrics.AdjustWorkersActive(string(w.state), -1)
		w.metrics.AdjustWorkersActive(string(s), 1)
	}
	w.state = s
}

// Post enqueues a message for this worker. The Manager calls this when it
// routes a message to this worker's symbol, possibly from several
// goroutines at once.
func (w *Worker) Post(msg events.SymbolEventMessage) {
	w.inbox <- msg
}

// State reports the worker's current position in the state machine.
func (w *Worker) State() State {
	return w.state
}

// Run drains the inbox until ctx is cancelled or the inbox is closed,
// processing one message to completion before starting the next — a
// worker's own event stream is strictly FIFO even though workers across
// symbols run concurrently.
func (w *Worker) Run(ctx context.Context, sender EventSender) {
	for {
		select {
		case msg, ok := <-w.inbox:
			if !ok {
				return
			}
			w.process(ctx, msg, sender)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, msg events.SymbolEventMessage, sender EventSender) {
	if msg.Properties.Cancelled() {
		msg.Reply.Fail(context.Canceled)
		w.setState(StateIdle)
		return
	}

	switch msg.Event.Kind {
	case events.KindInitialRequest:
		w.handleInitialRequest(ctx, msg)
	case events.KindEdit:
		w.handleEdit(ctx, msg)
	case events.KindProbe:
		w.handleProbe(ctx, msg, sender)
	case events.KindOutline:
		w.handleOutline(ctx, msg)
	case events.KindAskQuestion:
		w.handleAskQuestion(ctx, msg)
	default:
		msg.Reply.Fail(fmt.Errorf("symbol worker: unhandled event kind %q", msg.Event.Kind))
	}
}

// handleInitialRequest runs Planning through to a terminal transition:
// fetch the symbol's outline, then drive the edit/verify loop.
func (w *Worker) handleInitialRequest(ctx context.Context, msg events.SymbolEventMessage) {
	req := msg.Event.InitialRequest
	w.setState(StatePlanning)

	outline, err := w.toolbox.OutlineForSymbol(ctx, msg.Properties, req.Symbol)
	if err != nil {
		w.log.Warn("outline fetch failed during planning, proceeding without it", "error", err)
	}

	instructions := req.Query
	if req.Context != "" {
		instructions = req.Context + "\n\n" + instructions
	}
	if outline.Name != "" {
		instructions = fmt.Sprintf("%s\n\n(symbol kind: %s, range %d-%d)", instructions, outline.Kind, outline.Range.StartLine, outline.Range.EndLine)
	}

	w.editVerifyLoop(ctx, msg, req.Symbol, instructions, nil)
}

// handleEdit drives the loop starting directly from Editing, used when a
// caller (e.g. the Manager re-driving a failed symbol) already has
// concrete instructions rather than a fresh natural-language request.
func (w *Worker) handleEdit(ctx context.Context, msg events.SymbolEventMessage) {
	req := msg.Event.Edit
	w.editVerifyLoop(ctx, msg, req.Symbol, req.Instructions, req.Diagnostics)
}

// editWire is the structured shape an LLM edit proposal is parsed from.
type editWire struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	NewText   string `json:"new_text"`
}

// editVerifyLoop drives Editing -> Verifying -> (Idle | Editing again)
// until the touched file comes back clean or maxRetry attempts are
// exhausted (spec.md §4.3).
func (w *Worker) editVerifyLoop(ctx context.Context, msg events.SymbolEventMessage, symbol symbolid.Identifier, instructions string, diagnostics []events.Diagnostic) {
	attempts := w.maxRetry
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if msg.Properties.Cancelled() {
			msg.Reply.Fail(context.Canceled)
			w.setState(StateIdle)
			return
		}

		w.setState(StateEditing)
		edit, err := w.requestEdit(ctx, msg.Properties, symbol, instructions, diagnostics)
		if err != nil {
			lastErr = err
			break
		}

		applied, newDiagnostics, err := w.toolbox.ApplyEditsWithDiagnostics(ctx, msg.Properties, []toolbroker.Edit{edit})
		if err != nil {
			lastErr = err
			break
		}
		if applied.VersionMismatch {
			lastErr = fmt.Errorf("symbol worker: version mismatch applying edit to %s", symbol.FilePath)
			continue
		}
		if !applied.Applied {
			// Not applied directly (SPEC_FULL.md §4.2 review-before-apply
			// mode): the UI was already notified by the tool broker. The
			// worker's job here ends — the editor decides whether to apply.
			msg.Reply.Resolve(events.SymbolEventResponse{
				Symbol:  symbol,
				Kind:    msg.Event.Kind,
				Summary: "edit proposed, awaiting editor confirmation",
				Applied: false,
			})
			w.setState(StateIdle)
			return
		}

		w.setState(StateVerifying)
		if len(newDiagnostics) == 0 {
			msg.Reply.Resolve(events.SymbolEventResponse{
				Symbol:  symbol,
				Kind:    msg.Event.Kind,
				Summary: "edit applied cleanly",
				Applied: true,
			})
			w.setState(StateIdle)
			return
		}

		diagnostics = newDiagnostics
		instructions = feedbackInstructions(instructions, newDiagnostics)
		lastErr = fmt.Errorf("symbol worker: %d diagnostic(s) remain on %s after attempt %d", len(newDiagnostics), symbol.FilePath, attempt+1)
	}

	msg.Reply.Fail(fmt.Errorf("symbol worker: exhausted %d attempt(s) for %s: %w", attempts, symbol.Key(), lastErr))
	w.setState(StateIdle)
}

// requestEdit asks the LLM for one edit, streaming text deltas to the
// UI sink as they arrive and parsing the final accumulated text as JSON.
func (w *Worker) requestEdit(ctx context.Context, props events.MessageProperties, symbol symbolid.Identifier, instructions string, diagnostics []events.Diagnostic) (toolbroker.Edit, error) {
	prompt := buildEditPrompt(symbol, instructions, diagnostics)

	chunks, err := w.llm.GenerateStreaming(ctx, llms.Request{
		Model:    w.llm.ModelName(),
		Messages: []llms.Message{{Role: "user", Content: prompt}},
		Structured: &llms.StructuredOutputConfig{
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"start_line": map[string]interface{}{"type": "integer"},
					"end_line":   map[string]interface{}{"type": "integer"},
					"new_text":   map[string]interface{}{"type": "string"},
				},
				"required": []string{"start_line", "end_line", "new_text"},
			},
		},
	})
	if err != nil {
		return toolbroker.Edit{}, err
	}

	var text string
	for chunk := range chunks {
		if props.Cancelled() {
			props.UISink.Notify(events.UIEvent{RequestID: props.RequestID, Kind: "cancelled", Payload: events.StreamDelta{
				CumulativeText: text,
				Model:          w.llm.ModelName(),
			}})
			return toolbroker.Edit{}, context.Canceled
		}
		switch chunk.Type {
		case "text":
			text += chunk.Text
			props.UISink.Notify(events.UIEvent{RequestID: props.RequestID, Kind: "stream_delta", Payload: events.StreamDelta{
				CumulativeText: text,
				Delta:          chunk.Text,
				Model:          w.llm.ModelName(),
			}})
		case "error":
			// PartialStream if some text was already accumulated before the
			// stream broke, ParseError if the failure preceded any text
			// (spec.md §4.1's failure taxonomy).
			kind := "parse_error"
			if text != "" {
				kind = "partial_stream"
			}
			props.UISink.Notify(events.UIEvent{RequestID: props.RequestID, Kind: kind, Payload: events.StreamDelta{
				CumulativeText: text,
				Model:          w.llm.ModelName(),
			}})
			return toolbroker.Edit{}, chunk.Error
		}
	}

	var wire editWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return toolbroker.Edit{}, fmt.Errorf("symbol worker: parsing edit response: %w", err)
	}

	return toolbroker.Edit{
		FilePath:  symbol.FilePath,
		StartLine: wire.StartLine,
		EndLine:   wire.EndLine,
		NewText:   wire.NewText,
	}, nil
}

func feedbackInstructions(instructions string, diagnostics []events.Diagnostic) string {
	feedback := instructions + "\n\nThe previous edit left these diagnostics, fix them:\n"
	for _, d := range diagnostics {
		feedback += fmt.Sprintf("- %s:%d %s (%s)\n", d.FilePath, d.Line, d.Message, d.Severity)
	}
	return feedback
}

func buildEditPrompt(symbol symbolid.Identifier, instructions string, diagnostics []events.Diagnostic) string {
	prompt := fmt.Sprintf("Edit %s in %s. %s\nRespond with JSON only: {start_line, end_line, new_text}.", symbol.Name, symbol.FilePath, instructions)
	if len(diagnostics) > 0 {
		prompt = feedbackInstructions(prompt, diagnostics)
	}
	return prompt
}

// handleOutline answers a read-only outline request without touching the
// state machine's edit path.
func (w *Worker) handleOutline(ctx context.Context, msg events.SymbolEventMessage) {
	req := msg.Event.Outline
	outline, err := w.toolbox.OutlineForSymbol(ctx, msg.Properties, req.Symbol)
	if err != nil {
		msg.Reply.Fail(err)
		return
	}
	msg.Reply.Resolve(events.SymbolEventResponse{
		Symbol:  req.Symbol,
		Kind:    events.KindOutline,
		Summary: fmt.Sprintf("%s (%s)", outline.Name, outline.Kind),
	})
}

// handleAskQuestion answers a read-only question about a symbol using the
// probe_question LLM tool with ShouldFollow forced false semantics — the
// caller has already said no follow-on edit is implied.
func (w *Worker) handleAskQuestion(ctx context.Context, msg events.SymbolEventMessage) {
	req := msg.Event.AskQuestion
	outline, err := w.toolbox.OutlineForSymbol(ctx, msg.Properties, req.Symbol)
	if err != nil {
		w.log.Warn("outline fetch failed answering question", "error", err)
	}

	answer, _, err := w.askLLM(ctx, msg.Properties, req.Symbol, req.Question, outline)
	if err != nil {
		msg.Reply.Fail(err)
		return
	}
	msg.Reply.Resolve(events.SymbolEventResponse{
		Symbol:  req.Symbol,
		Kind:    events.KindAskQuestion,
		Summary: answer,
	})
}

// handleProbe drives Idle -> Probing -> (Probing again | Idle): ask
// whether to follow a linked symbol, and if so spawn a child probe
// sharing this request's cancellation token before summarizing itself.
func (w *Worker) handleProbe(ctx context.Context, msg events.SymbolEventMessage, sender EventSender) {
	req := msg.Event.Probe
	w.setState(StateProbing)

	outline, err := w.toolbox.OutlineForSymbol(ctx, msg.Properties, req.Symbol)
	if err != nil {
		w.log.Warn("outline fetch failed during probe", "error", err)
	}

	answer, shouldFollow, err := w.askLLM(ctx, msg.Properties, req.Symbol, req.Question, outline)
	if err != nil {
		msg.Reply.Fail(err)
		w.setState(StateIdle)
		return
	}

	if !shouldFollow || req.Depth <= 0 {
		msg.Reply.Resolve(events.SymbolEventResponse{
			Symbol:  req.Symbol,
			Kind:    events.KindProbe,
			Summary: answer,
		})
		w.setState(StateIdle)
		return
	}

	locations, _, err := w.toolbox.FollowDefinition(ctx, msg.Properties, req.Symbol.FilePath, outline.Range.StartLine, 0)
	if err != nil || len(locations) != 1 {
		// Can't resolve a single definition to follow; answer with what we
		// have rather than failing the whole probe.
		msg.Reply.Resolve(events.SymbolEventResponse{
			Symbol:  req.Symbol,
			Kind:    events.KindProbe,
			Summary: answer,
		})
		w.setState(StateIdle)
		return
	}

	childProps := msg.Properties.Child()
	childReply := events.NewReplySink()
	sender.Post(events.SymbolEventMessage{
		Event: events.NewProbeEvent(events.ProbeRequest{
			Symbol:   locations[0],
			Question: req.Question,
			Depth:    req.Depth - 1,
		}),
		Properties: childProps,
		Reply:      childReply,
	})

	childResult := <-childReply
	w.setState(StateIdle)
	if childResult.Err != nil {
		msg.Reply.Resolve(events.SymbolEventResponse{
			Symbol:  req.Symbol,
			Kind:    events.KindProbe,
			Summary: answer,
		})
		return
	}

	msg.Reply.Resolve(events.SymbolEventResponse{
		Symbol:  req.Symbol,
		Kind:    events.KindProbe,
		Summary: answer + "\n" + childResult.Response.Summary,
	})
}

// askLLM invokes the probe_question tool and reports the answer plus
// whether the model wants to follow a linked symbol further.
func (w *Worker) askLLM(ctx context.Context, props events.MessageProperties, symbol symbolid.Identifier, question string, outline symbolid.Outline) (string, bool, error) {
	out, err := w.toolbox.InvokeProbeQuestion(ctx, props, symbol, question, outline)
	if err != nil {
		return "", false, err
	}
	return out.Answer, out.ShouldFollow, nil
}
