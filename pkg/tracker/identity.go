package tracker

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the persisted identity: who the visitor is, which session they
// are in, and when they were last seen.
type State struct {
	VisitorID    string    `json:"visitorId"`
	SessionID    string    `json:"sessionId"`
	LastActivity time.Time `json:"lastActivity"`
}

// StateStore persists identity state between runs.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// NewID returns a fresh identifier.
func NewID() string {
	return uuid.NewString()
}

// MemoryStore keeps state in memory. Every process start is a fresh
// visitor, which suits tests and short-lived tools.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

// FileStore persists state as JSON on disk so visitor identity survives
// restarts, the way localStorage does for the browser tracker.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state resets identity rather than wedging the tracker.
		return State{}, nil
	}
	return state, nil
}

func (s *FileStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
