// Package pairing persists the client's pinned host address between runs.
package pairing

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps the address in a small file under the user config dir.
type Store struct {
	path string
}

// DefaultPath returns the conventional location for the pairing file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tiledeck", "pairing"), nil
}

// NewStore builds a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved address, or "" when none is saved.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the address. The file is user-private: the URL carries the
// shared token.
func (s *Store) Save(addr string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(strings.TrimSpace(addr)+"\n"), 0o600)
}

// Clear removes the saved address. A missing file is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
