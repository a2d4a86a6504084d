package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kingrea/looptrack/internal/race"
)

var (
	// ErrNotFound is returned when no checkpoint has been written yet.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrCorrupt is returned when the checkpoint bytes cannot be decoded.
	ErrCorrupt = errors.New("checkpoint: corrupt")
)

// Store persists session checkpoints.
type Store interface {
	Load() (race.Snapshot, error)
	Save(race.Snapshot) error
	Clear() error
}

// File stores the checkpoint as a JSON document on local disk.
type File struct {
	path string
}

// NewFile returns a store that writes to path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the checkpoint location.
func (f *File) Path() string { return f.path }

// Load reads the persisted checkpoint if present.
func (f *File) Load() (race.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return race.Snapshot{}, ErrNotFound
		}
		return race.Snapshot{}, fmt.Errorf("checkpoint: read %s: %w", f.path, err)
	}
	var snap race.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return race.Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return snap, nil
}

// Save replaces the checkpoint. The document is written to a sibling temp
// file and renamed over the old one so a crash mid-write leaves either the
// previous checkpoint or the new one, never a torn file.
func (f *File) Save(snap race.Snapshot) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: ensure dir: %w", err)
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("checkpoint: replace: %w", err)
	}
	return nil
}

// Clear removes the checkpoint. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: remove: %w", err)
	}
	return nil
}
