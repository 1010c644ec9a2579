// Package vault persists the encrypted credential record and the non-secret
// configuration blob to local non-volatile storage.
package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/acapretto/tokenvault/internal/crypto"
)

var ErrNoRecord = errors.New("vault: no record")

// File layout on disk: a single JSON document holding the encrypted record
// plus whatever non-secret settings the caller wants replicated with it.
type fileState struct {
	Record *crypto.Record  `json:"record,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Store is a file-backed record store. The file is created 0600; the
// directory must exist or be creatable.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Exists() bool {
	st, err := s.read()
	return err == nil && st.Record != nil
}

// Load returns the persisted encrypted record, or ErrNoRecord.
func (s *Store) Load() (crypto.Record, error) {
	st, err := s.read()
	if err != nil {
		return crypto.Record{}, err
	}
	if st.Record == nil {
		return crypto.Record{}, ErrNoRecord
	}
	return *st.Record, nil
}

// Save writes the record, preserving any stored config blob.
func (s *Store) Save(rec crypto.Record) error {
	st, err := s.read()
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return err
	}
	st.Record = &rec
	return s.write(st)
}

// Config returns the non-secret settings blob, which may be nil.
func (s *Store) Config() (json.RawMessage, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	return st.Config, nil
}

// SaveConfig replaces the non-secret settings blob.
func (s *Store) SaveConfig(cfg json.RawMessage) error {
	st, err := s.read()
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return err
	}
	st.Config = cfg
	return s.write(st)
}

// Delete removes the record file irrecoverably. Absent file is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) read() (fileState, error) {
	var st fileState
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, ErrNoRecord
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) write(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}
