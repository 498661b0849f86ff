// Package session implements the on-disk, append-only session journal:
// a UUID-identified directory holding journal.json (every Exchange ever
// recorded) and an optional plan.json. Writes are serialized through a
// single handle per session and fsynced before returning (SPEC_FULL.md
// §4.5, spec.md §4.5: "Writes are serialized through a single handle;
// each append_exchange truncates nothing and fsyncs before returning").
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Exchange is one request/response pair recorded in the session journal.
type Exchange struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a single append-only journal backed by a directory on disk.
// All mutation goes through AppendExchange, which is safe for concurrent
// callers: a mutex confines every write to one goroutine at a time, the
// same "serialize writes through one handle" discipline the teacher's SQL
// session service gets for free from database transactions.
type Session struct {
	id  string
	dir string
	mu  sync.Mutex
}

// ErrNotFound is returned when a session directory does not exist.
var ErrNotFound = fmt.Errorf("session: not found")

func journalPath(dir string) string { return filepath.Join(dir, "journal.json") }
func planPath(dir string) string    { return filepath.Join(dir, "plan.json") }

// Create makes a new session directory under dataDir/session/{id} with a
// fresh UUID and an empty journal.
func Create(dataDir string) (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(dataDir, "session", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: creating directory: %w", err)
	}
	s := &Session{id: id, dir: dir}
	if err := s.writeJournal(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing session directory by ID. It does not read the
// journal eagerly — callers use Exchanges for a fresh snapshot read.
func Open(dataDir, id string) (*Session, error) {
	dir := filepath.Join(dataDir, "session", id)
	if _, err := os.Stat(journalPath(dir)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: statting journal: %w", err)
	}
	return &Session{id: id, dir: dir}, nil
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Dir returns the session's backing directory.
func (s *Session) Dir() string { return s.dir }

// Exchanges returns a read-only snapshot of every exchange recorded so
// far, obtained by re-reading the journal file (spec.md §4.5: "Readers
// obtain a read-only snapshot by re-reading the file").
func (s *Session) Exchanges() ([]Exchange, error) {
	return readJournal(s.dir)
}

func readJournal(dir string) ([]Exchange, error) {
	data, err := os.ReadFile(journalPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading journal: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var exchanges []Exchange
	if err := json.Unmarshal(data, &exchanges); err != nil {
		return nil, fmt.Errorf("session: parsing journal: %w", err)
	}
	return exchanges, nil
}

// AppendExchange adds one exchange to the journal. The whole journal is
// rewritten (append-only at the semantic level, not at the byte level —
// the array has to be re-encoded as valid JSON), but truncates nothing
// already recorded: every prior exchange survives in the new file. The
// new file is written to a temp path, fsynced, then renamed over the old
// one, so a crash mid-write never leaves a half-written journal behind.
func (s *Session) AppendExchange(kind, request, response string) (Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readJournal(s.dir)
	if err != nil {
		return Exchange{}, err
	}

	ex := Exchange{
		ID:        uuid.NewString(),
		Kind:      kind,
		Request:   request,
		Response:  response,
		Timestamp: time.Now(),
	}
	existing = append(existing, ex)

	if err := s.writeJournal(existing); err != nil {
		return Exchange{}, err
	}
	return ex, nil
}

func (s *Session) writeJournal(exchanges []Exchange) error {
	data, err := json.MarshalIndent(exchanges, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding journal: %w", err)
	}
	return writeSyncedFile(journalPath(s.dir), data)
}

// writeSyncedFile writes data to a temp file in the same directory, fsyncs
// it, then renames it over path — the atomic-durable-write idiom that
// guarantees AppendExchange either fully lands or not at all.
func writeSyncedFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: renaming temp file into place: %w", err)
	}
	return nil
}

// PlanState is the on-disk shape of plan.json: a minimal mirror of
// pkg/plan.Plan that this package can read/write without importing
// pkg/plan (sessions outlive any particular plan encoding).
type PlanState struct {
	Steps      json.RawMessage `json:"steps"`
	Checkpoint int             `json:"checkpoint"`
}

// WritePlan persists plan.json for this session.
func (s *Session) WritePlan(state PlanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding plan: %w", err)
	}
	return writeSyncedFile(planPath(s.dir), data)
}

// ReadPlan loads plan.json, or (false, nil) if this session has none.
func (s *Session) ReadPlan() (PlanState, bool, error) {
	data, err := os.ReadFile(planPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return PlanState{}, false, nil
		}
		return PlanState{}, false, fmt.Errorf("session: reading plan: %w", err)
	}
	var state PlanState
	if err := json.Unmarshal(data, &state); err != nil {
		return PlanState{}, false, fmt.Errorf("session: parsing plan: %w", err)
	}
	return state, true, nil
}
