package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the key-value map in a single JSON file. Every Get
// re-reads the file so writes by the external token-setup flow are picked
// up without restarting the proxy. Writes go through a temp file plus
// rename so a concurrent reader never observes a partial file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file
// need not exist yet; it is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get reads the file and returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	m, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key, creating the file and its directory as needed.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	m, err := s.load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if m == nil {
		m = make(map[string]string)
	}
	m[key] = value
	return s.save(m)
}

// Close is a no-op; the file is opened per call.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileStore) save(m map[string]string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
