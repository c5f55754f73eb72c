package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileCache implements Ephemeral on a local directory. It exists so the cache
// layer keeps working when no shared redis is reachable; entries carry their
// own expiry since the filesystem has no TTL.
type FileCache struct {
	mu  sync.Mutex
	dir string
}

type fileEntry struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file cache dir %s: %w", dir, err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(key))))
}

func (c *FileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("file cache read %s: %w", key, err)
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = os.Remove(c.path(key))
		return nil, false, nil
	}

	if !time.Now().UTC().Before(entry.ExpiresAt) {
		_ = os.Remove(c.path(key))
		return nil, false, nil
	}

	return entry.Value, true, nil
}

func (c *FileCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := fileEntry{
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(ttl),
		Value:     value,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("file cache encode %s: %w", key, err)
	}

	// Write-then-rename keeps readers from observing partial entries.
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file cache write %s: %w", key, err)
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		return fmt.Errorf("file cache rename %s: %w", key, err)
	}
	return nil
}

func (c *FileCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file cache delete %s: %w", key, err)
	}
	return nil
}

func (c *FileCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("file cache scan: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry fileEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		matched, err := filepath.Match(pattern, entry.Key)
		if err != nil {
			return fmt.Errorf("file cache pattern %q: %w", pattern, err)
		}
		if matched {
			_ = os.Remove(path)
		}
	}
	return nil
}
