package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoredIdentity is what a client keeps between sessions.
type StoredIdentity struct {
	VisitorID string `json:"visitor_id,omitempty"`
	BrowserID string `json:"fbp,omitempty"`
	ClickID   string `json:"fbc,omitempty"`
	// PII holds identified values by field key ("em", "ph", ...), raw or hashed.
	PII       map[string]string `json:"pii,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IdentityStore persists a StoredIdentity. Load returns a zero value, not
// an error, when nothing has been stored yet.
type IdentityStore interface {
	Load() (StoredIdentity, error)
	Save(StoredIdentity) error
}

// MemoryIdentityStore keeps the identity for the life of the process.
type MemoryIdentityStore struct {
	mu sync.Mutex
	id StoredIdentity
}

func NewMemoryIdentityStore() *MemoryIdentityStore { return &MemoryIdentityStore{} }

func (s *MemoryIdentityStore) Load() (StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIdentity(s.id), nil
}

func (s *MemoryIdentityStore) Save(id StoredIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = cloneIdentity(id)
	return nil
}

// FileIdentityStore keeps the identity as a JSON file.
type FileIdentityStore struct {
	path string
	mu   sync.Mutex
}

func NewFileIdentityStore(path string) *FileIdentityStore {
	return &FileIdentityStore{path: path}
}

func (s *FileIdentityStore) Load() (StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id StoredIdentity
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return id, nil
	}
	if err != nil {
		return id, fmt.Errorf("read identity: %w", err)
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return StoredIdentity{}, fmt.Errorf("parse identity %s: %w", s.path, err)
	}
	return id, nil
}

func (s *FileIdentityStore) Save(id StoredIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func cloneIdentity(id StoredIdentity) StoredIdentity {
	if id.PII != nil {
		m := make(map[string]string, len(id.PII))
		for k, v := range id.PII {
			m[k] = v
		}
		id.PII = m
	}
	return id
}
