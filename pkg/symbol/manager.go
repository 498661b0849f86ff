package symbol

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/metrics"
	"github.com/corvidlabs/symborc/pkg/symbolid"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// MaxConcurrentEdits bounds how many distinct symbols the Manager drives
// through an edit at once (spec.md §4.3, §9).
const MaxConcurrentEdits = 100

// Manager owns the Symbol Event Bus receiver and lazily spawns one Worker
// per symbol, keyed by symbolid.Identifier.Key(). It never holds a
// reference back to any Worker's internals beyond the Post capability
// each Worker exposes.
type Manager struct {
	toolbox *toolbroker.Toolbox
	llm     llms.Client
	sem     *semaphore.Weighted
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	workers map[string]*Worker
	cancel  map[string]context.CancelFunc
}

// NewManager builds a Manager with the default concurrent-edit cap.
func NewManager(toolbox *toolbroker.Toolbox, llm llms.Client) *Manager {
	return &Manager{
		toolbox: toolbox,
		llm:     llm,
		sem:     semaphore.NewWeighted(MaxConcurrentEdits),
		log:     slog.With("component", "symbol_manager"),
		workers: make(map[string]*Worker),
		cancel:  make(map[string]context.CancelFunc),
	}
}

// WithMetrics attaches a metrics sink that every worker this Manager
// spawns from now on will report its state transitions to.
func (m *Manager) WithMetrics(metricsSink *metrics.Metrics) *Manager {
	m.metrics = metricsSink
	return m
}

// Post implements EventSender so Workers can route spawned probes and
// re-edits through the same lazy-spawn path as the Manager's own
// dispatch, without holding a reference to the Manager struct itself.
func (m *Manager) Post(msg events.SymbolEventMessage) {
	worker := m.workerFor(msg.Properties.CancellationToken, msg.Event.Symbol())
	worker.Post(msg)
}

// workerFor returns the worker for symbol, spawning one lazily (and
// starting its Run loop) on first reference.
func (m *Manager) workerFor(parent context.Context, symbol symbolid.Identifier) *Worker {
	key := symbol.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[key]; ok {
		return w
	}

	ctx, cancel := context.WithCancel(parent)
	w := NewWorker(key, m.toolbox, m.llm).WithMetrics(m.metrics)
	m.workers[key] = w
	m.cancel[key] = cancel
	go w.Run(ctx, m)

	return w
}

// Dispatch routes one bus message to its symbol's worker, spawning the
// worker lazily if this is the first event addressed to it. Never blocks
// on the worker's processing — Post only enqueues.
func (m *Manager) Dispatch(ctx context.Context, msg events.SymbolEventMessage) {
	m.workerFor(ctx, msg.Event.Symbol()).Post(msg)
}

// Shutdown cancels every spawned worker's context, letting each Run loop
// return once it finishes its in-flight message.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancel {
		cancel()
	}
}

// EditFanoutResult reports the outcome of one symbol in a fan-out batch.
type EditFanoutResult struct {
	Symbol  symbolid.Identifier
	Applied bool
	Summary string
	Err     error
}

// FanOutEdits issues up to MaxConcurrentEdits concurrent InitialRequest
// events across distinct symbols, collects every reply, and never lets
// one worker's failure abort the batch (spec.md §9: "never panics on
// worker failure — logs, marks symbol failed, continues").
func (m *Manager) FanOutEdits(ctx context.Context, props events.MessageProperties, query, queryContext string, symbols []symbolid.Identifier) []EditFanoutResult {
	results := make([]EditFanoutResult, len(symbols))

	group, gctx := errgroup.WithContext(ctx)
	for i, sym := range symbols {
		i, sym := i, sym
		if err := m.sem.Acquire(gctx, 1); err != nil {
			results[i] = EditFanoutResult{Symbol: sym, Err: err}
			continue
		}

		group.Go(func() error {
			defer m.sem.Release(1)

			childProps := props.Child()
			reply := events.NewReplySink()
			m.Dispatch(gctx, events.SymbolEventMessage{
				Event: events.NewInitialRequestEvent(events.InitialRequest{
					Symbol:  sym,
					Query:   query,
					Context: queryContext,
				}),
				Properties: childProps,
				Reply:      reply,
			})

			result := <-reply
			if result.Err != nil {
				m.log.Warn("symbol edit failed", "symbol", sym.Key(), "error", result.Err)
				results[i] = EditFanoutResult{Symbol: sym, Err: result.Err}
				return nil
			}
			results[i] = EditFanoutResult{Symbol: sym, Applied: result.Response.Applied, Summary: result.Response.Summary}
			return nil
		})
	}

	// errgroup.Wait only ever returns an error if a Go func returned one;
	// every closure above swallows its own error into results, so this is
	// always nil but the wait itself is still required to block for
	// completion.
	_ = group.Wait()

	return results
}

// Plan runs the wide-search -> important-symbols step and fans edits out
// across the resulting symbol set, then posts a single EditorStateChange
// summarizing what was actually applied (spec.md §4.3, §11).
func (m *Manager) Plan(ctx context.Context, props events.MessageProperties, query string, workspaceFiles []string) (events.EditorStateChange, error) {
	important, err := m.toolbox.ImportantSymbols(ctx, props, query, workspaceFiles)
	if err != nil {
		return events.EditorStateChange{}, fmt.Errorf("symbol manager: selecting important symbols: %w", err)
	}

	symbols := sortedUnique(important)
	results := m.FanOutEdits(ctx, props, query, "", symbols)

	change := events.EditorStateChange{UserQuery: query}
	for _, r := range results {
		if r.Err != nil || !r.Applied {
			continue
		}
		change.EditsDone = append(change.EditsDone, fmt.Sprintf("%s: %s", r.Symbol.Key(), r.Summary))
	}

	props.UISink.Notify(events.UIEvent{RequestID: props.RequestID, Kind: "state_change", Payload: change})
	return change, nil
}

// sortedUnique de-duplicates symbols and breaks ties lexicographically on
// file path, matching the ordering spec.md §8 scenario 5 expects from the
// important-symbols step.
func sortedUnique(symbols []symbolid.Identifier) []symbolid.Identifier {
	seen := make(map[string]bool, len(symbols))
	out := make([]symbolid.Identifier, 0, len(symbols))
	for _, s := range symbols {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].Name < out[j].Name
	})
	return out
}
