package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// Service is the directory-wide entry point for session lifecycle: create,
// resume, list, and delete. It mirrors the shape of the teacher's Service
// interface (Get/Create/List/Delete) but backs every call with the plain
// JSON-on-disk journal instead of an in-memory or SQL store.
type Service struct {
	dataDir string
}

// NewService roots a Service at dataDir; sessions live under
// dataDir/session/{id}.
func NewService(dataDir string) *Service {
	return &Service{dataDir: dataDir}
}

// Create starts a brand new session.
func (s *Service) Create() (*Session, error) {
	return Create(s.dataDir)
}

// Get resumes an existing session by ID.
func (s *Service) Get(id string) (*Session, error) {
	return Open(s.dataDir, id)
}

// List returns the IDs of every session directory present, unsorted.
func (s *Service) List() ([]string, error) {
	root := filepath.Join(s.dataDir, "session")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: listing sessions: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Delete removes a session's entire directory, journal and plan included.
func (s *Service) Delete(id string) error {
	dir := filepath.Join(s.dataDir, "session", id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("session: statting session directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("session: deleting session directory: %w", err)
	}
	return nil
}
