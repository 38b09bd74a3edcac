// Package storage provides the key-value blob stores that back cards,
// preferences and progress. Values are opaque JSON documents stored under
// fixed keys, the same shape as browser local storage.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Keys used by the application.
const (
	CardsKey       = "flashcards_en_pt_v1"
	PreferencesKey = "flashcards_prefs_v1"
	ProgressKey    = "flashcards_progress_v1"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("key not found")

// Store represents a persistent key-value blob store
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Put replaces the value stored under key and persists it before returning.
	Put(key string, value []byte) error
	// Close releases any underlying resources.
	Close() error
}

// FileStore implements Store using a single JSON object file for persistence.
// Each top-level member of the object is one key.
type FileStore struct {
	filePath string
	entries  map[string]json.RawMessage
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewFileStore creates a new FileStore instance. Call Load before use.
func NewFileStore(filePath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Creating new FileStore", zap.String("path", filePath))
	return &FileStore{
		filePath: filePath,
		entries:  make(map[string]json.RawMessage),
		logger:   logger,
	}
}

// Get retrieves the value stored under key
func (fs *FileStore) Get(key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	raw, exists := fs.entries[key]
	if !exists {
		return nil, ErrNotFound
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Put stores value under key and writes the whole file atomically.
// The value must be valid JSON.
func (fs *FileStore) Put(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for key %q is not valid JSON", key)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	previous, hadPrevious := fs.entries[key]
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	fs.entries[key] = stored

	if err := fs.save(); err != nil {
		// Keep memory and disk consistent
		if hadPrevious {
			fs.entries[key] = previous
		} else {
			delete(fs.entries, key)
		}
		return err
	}
	return nil
}

// Keys returns the stored keys in sorted order
func (fs *FileStore) Keys() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	keys := make([]string, 0, len(fs.entries))
	for k := range fs.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close is a no-op for FileStore; every Put is already on disk.
func (fs *FileStore) Close() error {
	return nil
}

// save is the internal helper for saving data without acquiring the lock again.
// Assumes the write lock is already held.
func (fs *FileStore) save() error {
	dataBytes, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		fs.logger.Error("Error marshaling store", zap.Error(err))
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fs.logger.Error("Error creating directory", zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file, then rename over the target
	tempFile := fs.filePath + ".tmp"
	if err := os.WriteFile(tempFile, dataBytes, 0644); err != nil {
		os.Remove(tempFile)
		fs.logger.Error("Error writing temp file", zap.String("path", tempFile), zap.Error(err))
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, fs.filePath); err != nil {
		os.Remove(tempFile)
		fs.logger.Error("Error renaming temp file", zap.String("path", tempFile), zap.Error(err))
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	fs.logger.Debug("Store saved", zap.String("path", fs.filePath), zap.Int("keys", len(fs.entries)))
	return nil
}

// Load reads the store file. A missing file is created empty; an empty file
// is treated as an empty store.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.logger.Debug("Loading store", zap.String("path", fs.filePath))

	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		fs.logger.Info("Store file not found, initializing empty store", zap.String("path", fs.filePath))
		fs.entries = make(map[string]json.RawMessage)
		if saveErr := fs.save(); saveErr != nil {
			return fmt.Errorf("failed to save initial empty store: %w", saveErr)
		}
		return nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	if len(data) == 0 {
		fs.logger.Debug("Store file is empty, initializing empty store")
		fs.entries = make(map[string]json.RawMessage)
		return nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}
	if entries == nil {
		entries = make(map[string]json.RawMessage)
	}

	fs.entries = entries
	fs.logger.Debug("Store loaded", zap.Int("keys", len(fs.entries)))
	return nil
}
