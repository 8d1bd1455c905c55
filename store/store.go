// Package store persists the engine's durable state, the pattern table
// and the open positions, as a single JSON snapshot. Key-value fidelity
// is all the data model needs; there are no relational requirements.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/evdnx/gotd/pattern"
	"github.com/evdnx/gotd/types"
)

// State is the on-disk snapshot format.
type State struct {
	SavedAt   time.Time                     `json:"saved_at"`
	Capital   float64                       `json:"capital"`
	Patterns  map[pattern.Key]pattern.Stats `json:"patterns"`
	Positions []types.Position              `json:"positions"`
	History   []types.TradeRecord           `json:"history"`
}

// Store writes snapshots with a temp-file-and-rename so a crash mid-write
// never leaves a torn state file.
type Store struct {
	path string
}

func New(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Save atomically replaces the snapshot on disk.
func (s *Store) Save(st *State) error {
	if st == nil {
		return errors.New("store: nil state")
	}
	st.SavedAt = time.Now().UTC()

	data, err := sonic.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "store: marshal")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "store: mkdir")
	}
	tmp, err := os.CreateTemp(dir, ".gotd-state-*")
	if err != nil {
		return errors.Wrap(err, "store: temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "store: write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "store: close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "store: rename")
	}
	return nil
}

// Load reads the snapshot. ok is false (with a nil error) when no state
// file exists yet; a fresh process starts empty.
func (s *Store) Load() (*State, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "store: read")
	}
	var st State
	if err := sonic.Unmarshal(data, &st); err != nil {
		return nil, false, errors.Wrap(err, "store: unmarshal")
	}
	if st.Patterns == nil {
		st.Patterns = make(map[pattern.Key]pattern.Stats)
	}
	return &st, true, nil
}
