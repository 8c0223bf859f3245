package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ryazanovegor/oliva-space/internal/domain"
)

// FileStore keeps the snapshot in one pretty-printed JSON file. Writes go
// through a temp file and rename so a crash mid-write leaves the previous
// snapshot intact.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the snapshot file. A missing or empty file yields a fresh
// empty snapshot rather than an error.
func (s *FileStore) Load() (domain.Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(data) == 0 {
		return domain.EmptySnapshot(), nil
	}
	snap := domain.EmptySnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	if snap.Accounts == nil {
		snap.Accounts = map[string]domain.Account{}
	}
	if snap.NextTaskID == 0 {
		snap.NextTaskID = 1
	}
	return snap, nil
}

// Save replaces the snapshot file atomically.
func (s *FileStore) Save(snap domain.Snapshot) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
