package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// FileStoreConfig holds configuration for the file-backed store.
type FileStoreConfig struct {
	// Path is the location of the JSON file holding the store contents.
	// The file is created on first write if it does not exist.
	Path string
}

// FileStore persists all keys in a single JSON file, the closest analogue to
// the browser-local storage the portal clients originally used. The full map
// is held in memory; every mutation rewrites the file atomically via a
// temp-file rename.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	data map[string]string
}

// NewFileStore opens (or initializes) a file-backed store at cfg.Path.
func NewFileStore(cfg *FileStoreConfig, logger zerolog.Logger) (*FileStore, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("file store path cannot be empty")
	}

	s := &FileStore{
		path:   cfg.Path,
		logger: logger.With().Str("component", "FileStore").Logger(),
		data:   make(map[string]string),
	}

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read store file %s: %w", cfg.Path, err)
		}
		return s, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			// A corrupt store file is not fatal: the store is a cache-grade
			// persistence layer, so start fresh rather than refuse to open.
			s.logger.Warn().Err(err).Str("path", cfg.Path).Msg("Store file is corrupt; starting empty.")
			s.data = make(map[string]string)
		}
	}
	return s, nil
}

// Get retrieves the value for a key.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores a value for a key and rewrites the backing file.
func (s *FileStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.persistLocked()
}

// Delete removes a key and rewrites the backing file.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persistLocked()
}

// Keys returns every stored key that begins with prefix.
func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close flushes any pending state. The file is rewritten on every mutation so
// there is nothing left to do.
func (s *FileStore) Close() error {
	return nil
}

// persistLocked writes the map to a temp file and renames it into place.
// Must be called with the mutex held.
func (s *FileStore) persistLocked() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal store contents: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
