// Package state persists the records that must survive a process restart:
// the risk breach flag and the session checkpoint. Records are small JSON
// files, overwritten atomically enough for single-writer use; a missing file
// loads as the zero value.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	breachFile     = "breach.json"
	checkpointFile = "session_checkpoint.json"
)

// BreachRecord marks that a hard risk limit was hit. Once Triggered is set,
// it stays set across restarts until explicitly cleared.
type BreachRecord struct {
	Triggered bool    `json:"triggered"`
	Reason    string  `json:"reason"`
	Timestamp int64   `json:"timestamp"`
	Balance   float64 `json:"balance"`
	Strategy  string  `json:"strategy"`
}

// Checkpoint captures session counters after each completed trade so an
// interrupted session can resume with its guards intact.
type Checkpoint struct {
	Symbol          string  `json:"symbol"`
	Strategy        string  `json:"strategy"`
	Trades          int     `json:"trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	Profit          float64 `json:"profit"`
	StartingBalance float64 `json:"starting_balance"`
	Timestamp       int64   `json:"timestamp"`
}

// Store reads and writes durable records under one directory.
type Store struct {
	dir string
}

// NewStore builds a store rooted at dir. The directory is created on first
// write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// SaveBreach overwrites the breach record.
func (s *Store) SaveBreach(r BreachRecord) error {
	return s.write(breachFile, r)
}

// LoadBreach reads the breach record. A missing file is not an error and
// yields the zero record.
func (s *Store) LoadBreach() (BreachRecord, error) {
	var r BreachRecord
	err := s.read(breachFile, &r)
	return r, err
}

// ClearBreach removes the breach record. Clearing an absent record is a no-op.
func (s *Store) ClearBreach() error {
	return s.remove(breachFile)
}

// SaveCheckpoint overwrites the session checkpoint.
func (s *Store) SaveCheckpoint(c Checkpoint) error {
	return s.write(checkpointFile, c)
}

// LoadCheckpoint reads the session checkpoint. A missing file yields the zero
// checkpoint.
func (s *Store) LoadCheckpoint() (Checkpoint, error) {
	var c Checkpoint
	err := s.read(checkpointFile, &c)
	return c, err
}

// ClearCheckpoint removes the session checkpoint.
func (s *Store) ClearCheckpoint() error {
	return s.remove(checkpointFile)
}

func (s *Store) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

func (s *Store) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
