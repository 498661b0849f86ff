package toolbroker

// Configuration controls broker-wide behavior shared by every handler.
type Configuration struct {
	// FailOverLLM is the total number of attempts, the first included, an
	// LLM-backed handler makes with the same prompt before giving up with a
	// Protocol error (spec.md §4.2, §7); values below 1 mean one attempt.
	FailOverLLM int

	// ApplyEditsDirectly, when true, makes edit tools write to disk
	// themselves; when false, they emit a UI event and expect the editor
	// to apply the edit (spec.md §4.2).
	ApplyEditsDirectly bool
}

// DefaultConfiguration returns the broker defaults used when none is
// supplied.
func DefaultConfiguration() Configuration {
	return Configuration{
		FailOverLLM:        3,
		ApplyEditsDirectly: false,
	}
}
