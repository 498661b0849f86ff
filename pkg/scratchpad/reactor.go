// Package scratchpad implements the single-task reactor that watches
// everything happening around the symbol currently under edit and keeps a
// running notes file up to date, so later requests in the same session
// start with warm context instead of re-deriving it (SPEC_FULL.md §4.4.a).
package scratchpad

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// DefaultMaxFilesContext caps how many anchored files the reactor keeps
// warm at once (Open Question (b) in SPEC_FULL.md). Each anchor request
// replaces the cached files with its own, keeping the last
// DefaultMaxFilesContext of them; there is no LRU across requests.
const DefaultMaxFilesContext = 50

// DefaultMaxConcurrentEdits mirrors the Symbol Manager's fan-out cap: an
// anchor request drives one InitialRequest per anchored symbol, run
// concurrently up to this bound.
const DefaultMaxConcurrentEdits = 100

// DefaultMaxExtraContextTokens caps extra_context's token cost, estimated
// via toolbroker.EstimateTokens — the same estimator the LLM-backed tool
// handlers use to budget a completion request (SPEC_FULL.md §4.2.b,
// §4.4.a). Without a cap, extra_context grows without bound as edits
// accumulate across a long session.
const DefaultMaxExtraContextTokens = 2000

// PingInterval is how often the reactor wakes on its own to re-read its
// storage file and reflect, independent of any external event.
const PingInterval = 5 * time.Second

// SymbolPoster is the one-way capability the reactor uses to drive edits
// for anchored symbols — satisfied by *symbol.Manager without this
// package importing it, avoiding a dependency cycle.
type SymbolPoster interface {
	Post(msg events.SymbolEventMessage)
}

// fileContext is one anchored file's cached contents.
type fileContext struct {
	filePath string
	content  string
}

// Reactor is the scratch-pad agent: a single-writer state machine over
// EnvironmentEventType, mutex-guarded files_context/extra_context, and a
// background ping loop.
type Reactor struct {
	storagePath           string
	toolbox               *toolbroker.Toolbox
	llm                   llms.Client
	poster                SymbolPoster
	props                 events.MessageProperties
	maxFiles              int
	maxExtraContextTokens int
	log                   *slog.Logger

	mu           sync.Mutex
	focussing    bool
	filesContext []fileContext
	extraContext string

	reactions chan events.EnvironmentEventType
	watcher   *fsnotify.Watcher
}

// New builds a Reactor. Call Run to start its background loops; Ingest
// feeds it events from the environment.
func New(storagePath string, toolbox *toolbroker.Toolbox, llm llms.Client, poster SymbolPoster, props events.MessageProperties) *Reactor {
	return &Reactor{
		storagePath:           storagePath,
		toolbox:               toolbox,
		llm:                   llm,
		poster:                poster,
		props:                 props,
		maxFiles:              DefaultMaxFilesContext,
		maxExtraContextTokens: DefaultMaxExtraContextTokens,
		log:                   slog.With("component", "scratchpad"),
		reactions:             make(chan events.EnvironmentEventType, 64),
	}
}

// Run starts the ping ticker and the reaction-processing loop. It blocks
// until ctx is cancelled or a ShutDown event is reacted to.
func (r *Reactor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.pingLoop(ctx)

	for {
		select {
		case event := <-r.reactions:
			if event.Kind == events.EnvShutDown {
				r.closeWatcher()
				return
			}
			r.reactTo(ctx, event)
		case <-ctx.Done():
			r.closeWatcher()
			return
		}
	}
}

func (r *Reactor) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case r.reactions <- events.NewPingEvent():
			default:
				// reaction queue is backed up; skip this tick rather than block
				// the ticker goroutine.
			}
		case <-ctx.Done():
			return
		}
	}
}

// Ingest is the reactor's public entry point, equivalent to
// process_environment: a human anchor request is handled synchronously
// (it drives the actual edits), everything else is forwarded to the
// internal reaction queue for the background loop to pick up.
func (r *Reactor) Ingest(ctx context.Context, event events.EnvironmentEventType) {
	switch event.Kind {
	case events.EnvHuman:
		r.handleHuman(ctx, *event.Human)
	case events.EnvShutDown:
		r.reactions <- event
	default:
		select {
		case r.reactions <- event:
		case <-ctx.Done():
		}
	}
}

func (r *Reactor) handleHuman(ctx context.Context, msg events.HumanMessage) {
	switch msg.Kind {
	case events.HumanAnchor:
		r.anchorAndEdit(ctx, msg)
	case events.HumanFollowup:
		// A plain followup carries no anchors; nothing to drive yet — the
		// caller is expected to route it through a normal ask_question event.
	}
}

// anchorAndEdit refreshes the files_context cache for the anchored
// symbols, then fans out one InitialRequest per symbol at up to
// DefaultMaxConcurrentEdits concurrency, exactly mirroring the "run 100
// edit requests in parallel to prevent race conditions" contract.
func (r *Reactor) anchorAndEdit(ctx context.Context, msg events.HumanMessage) {
	r.refreshFilesContext(ctx, msg.Anchors)

	r.mu.Lock()
	r.focussing = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.focussing = false
		r.mu.Unlock()
	}()

	sem := semaphore.NewWeighted(DefaultMaxConcurrentEdits)
	group, gctx := errgroup.WithContext(ctx)
	done := make([]string, len(msg.Anchors))

	for i, symbol := range msg.Anchors {
		i, symbol := i, symbol
		if err := sem.Acquire(gctx, 1); err != nil {
			continue
		}
		group.Go(func() error {
			defer sem.Release(1)

			childProps := r.props.Child()
			reply := events.NewReplySink()
			r.poster.Post(events.SymbolEventMessage{
				Event: events.NewInitialRequestEvent(events.InitialRequest{
					Symbol: symbol,
					Query:  msg.Text,
				}),
				Properties: childProps,
				Reply:      reply,
			})

			result := <-reply
			if result.Err != nil {
				r.log.Warn("anchored symbol edit failed", "symbol", symbol.Key(), "error", result.Err)
				return nil
			}
			if result.Response.Applied {
				done[i] = fmt.Sprintf("%s: %s", symbol.Key(), result.Response.Summary)
			}
			return nil
		})
	}
	_ = group.Wait()

	var editsDone []string
	for _, d := range done {
		if d != "" {
			editsDone = append(editsDone, d)
		}
	}

	r.props.UISink.Notify(events.UIEvent{RequestID: r.props.RequestID, Kind: "code_iteration_finished"})

	r.reactions <- events.NewEditorStateChangeEvent(events.EditorStateChange{
		EditsDone: editsDone,
		UserQuery: msg.Text,
	})
}

// refreshFilesContext opens each anchored symbol's file and replaces the
// cache, evicting down to maxFiles via simple truncation (most-recently
// anchored files win) once the anchor count exceeds the cap.
func (r *Reactor) refreshFilesContext(ctx context.Context, anchors []symbolid.Identifier) {
	seen := make(map[string]bool, len(anchors))
	var fresh []fileContext
	for _, symbol := range anchors {
		if seen[symbol.FilePath] {
			continue
		}
		seen[symbol.FilePath] = true
		contents, err := r.toolbox.OpenFile(ctx, r.props, symbol.FilePath)
		if err != nil {
			r.log.Warn("failed to open anchored file", "file", symbol.FilePath, "error", err)
			continue
		}
		fresh = append(fresh, fileContext{filePath: symbol.FilePath, content: contents})
	}
	if len(fresh) > r.maxFiles {
		fresh = fresh[len(fresh)-r.maxFiles:]
	}

	r.mu.Lock()
	r.filesContext = fresh
	r.mu.Unlock()

	r.rewatch(fresh)
}

// reactTo is the background loop's dispatch over events drained from the
// internal reaction queue — the analogue of react_to_event.
func (r *Reactor) reactTo(ctx context.Context, event events.EnvironmentEventType) {
	switch event.Kind {
	case events.EnvEditorStateChange:
		r.reactToEdits(ctx, *event.EditorStateChange)
	case events.EnvLSP:
		r.reactToLSP(ctx, *event.LSP)
	case events.EnvPing:
		r.reactToPing(ctx)
	}
}

// reactToEdits folds newly completed edits into extra_context so the next
// prompt (ping reflection, diagnostic feedback) has them without another
// round trip — the same prompt-cache-friendly accumulation the teacher's
// scratch pad performs. The accumulated text is truncated back down to
// maxExtraContextTokens, oldest lines first, so a long session's edit
// history can't grow the reflection prompt without bound.
func (r *Reactor) reactToEdits(ctx context.Context, change events.EditorStateChange) {
	if len(change.EditsDone) == 0 {
		return
	}
	r.mu.Lock()
	for _, e := range change.EditsDone {
		r.extraContext += e + "\n"
	}
	before := toolbroker.EstimateTokens(r.extraContext)
	r.extraContext = truncateToTokenBudget(r.extraContext, r.maxExtraContextTokens)
	after := toolbroker.EstimateTokens(r.extraContext)
	r.mu.Unlock()

	if after < before {
		r.log.Warn("extra_context truncated to token budget", "tokens_before", before, "tokens_after", after, "budget", r.maxExtraContextTokens)
	}
}

// truncateToTokenBudget drops text's oldest lines until its estimated
// token cost fits within budget.
func truncateToTokenBudget(text string, budget int) string {
	for toolbroker.EstimateTokens(text) > budget {
		idx := strings.Index(text, "\n")
		if idx == -1 {
			return text
		}
		text = text[idx+1:]
	}
	return text
}

// reactToLSP reacts to diagnostics only when not currently focussed on an
// edit batch, and only for files the reactor is actively tracking.
func (r *Reactor) reactToLSP(ctx context.Context, signal events.LSPEvent) {
	if signal.Kind != events.LSPDiagnostics {
		return
	}

	r.mu.Lock()
	focussed := r.focussing
	tracked := make(map[string]bool, len(r.filesContext))
	for _, fc := range r.filesContext {
		tracked[fc.filePath] = true
	}
	r.mu.Unlock()

	if focussed {
		return
	}

	var relevant []events.Diagnostic
	for _, d := range signal.Diagnostics {
		if tracked[d.FilePath] {
			relevant = append(relevant, d)
		}
	}
	if len(relevant) > 0 {
		r.reflect(ctx, fmt.Sprintf("New diagnostics appeared: %v. Update your notes accordingly.", relevant))
		return
	}

	// No diagnostics payload riding along — this is a raw file-change
	// signal from the fsnotify watch on a tracked file.
	if signal.FilePath != "" && tracked[signal.FilePath] {
		r.reflect(ctx, fmt.Sprintf("%s changed on disk outside an orchestrated edit. Note the drift.", signal.FilePath))
	}
}

// reactToPing opens the storage file and asks the LLM to reflect on
// progress so far, persisting the result back to storage — the periodic
// "check in on yourself" beat.
func (r *Reactor) reactToPing(ctx context.Context) {
	r.reflect(ctx, "Periodic check-in: summarize progress and open threads.")
}

// reflect is the shared LLM-and-persist step used by both the ping loop
// and diagnostic reactions.
func (r *Reactor) reflect(ctx context.Context, instruction string) {
	current, err := r.toolbox.OpenFile(ctx, r.props, r.storagePath)
	if err != nil {
		current = ""
	}

	r.mu.Lock()
	extra := r.extraContext
	r.mu.Unlock()

	prompt := fmt.Sprintf("Scratchpad notes so far:\n%s\n\nRecent activity:\n%s\n\n%s", current, extra, instruction)
	resp, err := r.llm.Generate(ctx, llms.Request{
		Model:    r.llm.ModelName(),
		Messages: []llms.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		r.log.Warn("scratchpad reflection failed", "error", err)
		return
	}

	if err := r.toolbox.WriteFile(ctx, r.props, r.storagePath, resp.Text); err != nil {
		r.log.Warn("failed to persist scratchpad notes", "error", err)
	}
}

// rewatch replaces the fsnotify watch set with exactly the files
// currently in context, so edits made outside the orchestrator's own
// apply_edits path (a human editing the file directly) are still picked
// up as a signal that this file's cached content is stale.
func (r *Reactor) rewatch(files []fileContext) {
	r.closeWatcher()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn("scratchpad file watcher unavailable", "error", err)
		return
	}
	for _, fc := range files {
		if err := watcher.Add(fc.filePath); err != nil {
			r.log.Warn("failed to watch anchored file", "file", fc.filePath, "error", err)
		}
	}

	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	go r.watchLoop(watcher)
}

func (r *Reactor) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove) != 0 {
				select {
				case r.reactions <- events.NewLSPEvent(events.LSPEvent{Kind: events.LSPDiagnostics, FilePath: event.Name}):
				default:
				}
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (r *Reactor) closeWatcher() {
	r.mu.Lock()
	watcher := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if watcher != nil {
		_ = watcher.Close()
	}
}
