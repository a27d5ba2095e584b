package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mrz1836/tessera/internal/fileutil"
)

// FileName is the cache file name under the tessera home.
const FileName = "balances.json"

// ErrCorruptCache indicates the cache file is malformed JSON.
var ErrCorruptCache = errors.New("cache file is corrupted")

// FileStorage persists a BalanceCache as JSON.
type FileStorage struct {
	path string
}

// NewFileStorage creates storage at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the cache file path.
func (s *FileStorage) Path() string { return s.path }

// Save writes the cache atomically.
func (s *FileStorage) Save(c *BalanceCache) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	return fileutil.WriteAtomic(s.path, data, 0o600)
}

// Load reads the cache. A missing file yields an empty cache. A corrupt file
// is moved aside and an empty cache is returned with ErrCorruptCache.
func (s *FileStorage) Load() (*BalanceCache, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewBalanceCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	c := NewBalanceCache()
	if err := json.Unmarshal(data, c); err != nil {
		corrupt := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().UTC().UnixNano())
		if renameErr := os.Rename(s.path, corrupt); renameErr != nil {
			return NewBalanceCache(), fmt.Errorf("%w: %w (also failed to move file: %w)", ErrCorruptCache, err, renameErr)
		}
		return NewBalanceCache(), fmt.Errorf("%w: %w (moved to %s)", ErrCorruptCache, err, corrupt)
	}
	if c.Entries == nil {
		c.Entries = make(map[string]Entry)
	}
	return c, nil
}

// Delete removes the cache file.
func (s *FileStorage) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}
