// Package symborc implements a symbol-scoped code-modification engine: an
// event bus delivers requests addressed to individual code symbols, a
// manager lazily spawns one worker state machine per symbol, and each
// worker drives its symbol through planning, editing, and verification by
// calling out to an LLM and a toolbroker-mediated editor bridge.
//
// # Architecture
//
// Requests enter through pkg/events as SymbolEventMessage values carrying
// a oneshot reply channel. pkg/symbol's Manager routes each message to the
// Worker for its target symbol, spawning one on first reference and
// capping concurrent edits with a weighted semaphore. Each Worker is a
// small state machine (Idle/Planning/Editing/Verifying/Probing) grounded
// in pkg/toolbroker's tool dispatch and pkg/llms' provider clients.
//
// pkg/scratchpad holds the single-writer reactor that tracks which files
// are in context for a symbol's active task. pkg/plan and pkg/session
// persist multi-step plans and their execution journal to disk so a
// caller can re-invoke cmd/planservice once per checkpoint. pkg/config,
// pkg/metrics, and pkg/tracing provide the ambient configuration,
// Prometheus instrumentation, and OpenTelemetry tracing every other
// package wires into.
//
// # Using as a library
//
//	import (
//	    "github.com/corvidlabs/symborc/pkg/symbol"
//	    "github.com/corvidlabs/symborc/pkg/toolbroker"
//	    "github.com/corvidlabs/symborc/pkg/llms"
//	)
package symborc
