// Package symbol implements the Symbol Worker state machine and the
// Symbol Manager that spawns workers lazily and fans out edits across
// them (SPEC_FULL.md §4.3).
package symbol

// State is a Worker's position in the Idle/Planning/Editing/Verifying
// state machine, with Probing as a side-branch from Idle.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateEditing   State = "editing"
	StateVerifying State = "verifying"
	StateProbing   State = "probing"
)
