package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON document per namespace under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// OpenFile prepares a file store rooted at dir.
func OpenFile(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store path is required")
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: filepath.Clean(dir)}, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *FileStore) LoadAll(_ context.Context, namespace string) (map[string][]byte, error) {
	if s == nil {
		return nil, errors.New("store is not initialized")
	}
	if err := validNamespace(namespace); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(namespace)
	// #nosec G304 -- path is built from the store root and a validated namespace
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]byte{}, nil
		}
		return map[string][]byte{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string][]byte{}, nil
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string][]byte{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	entries := make(map[string][]byte, len(raw))
	for key, value := range raw {
		entries[key] = []byte(value)
	}
	return entries, nil
}

func (s *FileStore) SaveAll(_ context.Context, namespace string, entries map[string][]byte) error {
	if s == nil {
		return errors.New("store is not initialized")
	}
	if err := validNamespace(namespace); err != nil {
		return err
	}

	raw := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		if !json.Valid(value) {
			return fmt.Errorf("entry %q in %s is not valid JSON", key, namespace)
		}
		raw[key] = json.RawMessage(value)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", namespace, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(namespace), data)
}

func (s *FileStore) Ping(_ context.Context) error {
	if s == nil {
		return errors.New("store is not initialized")
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, strings.TrimSpace(namespace)+".json")
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}
