package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileEntry struct {
	modTime time.Time
	size    int64
	data    []byte
}

// FileCache memoises file contents keyed by absolute path. An entry is reused
// until the file's mtime or size changes.
type FileCache struct {
	mu      sync.Mutex
	entries map[string]fileEntry
}

func NewFileCache() *FileCache {
	return &FileCache{entries: make(map[string]fileEntry)}
}

// Read returns the file contents and whether they differ from the last read.
func (c *FileCache) Read(path string) ([]byte, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, false, err
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", abs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[abs]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.data, false, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, false, err
	}
	c.entries[abs] = fileEntry{modTime: info.ModTime(), size: info.Size(), data: data}
	return data, true, nil
}

// Stale reports whether any of paths changed on disk since it was last read.
// A path that was never read, or that vanished, counts as stale.
func (c *FileCache) Stale(paths []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return true
		}
		e, ok := c.entries[abs]
		if !ok {
			return true
		}
		info, err := os.Stat(abs)
		if err != nil || !e.modTime.Equal(info.ModTime()) || e.size != info.Size() {
			return true
		}
	}
	return false
}

// Forget drops a cached entry.
func (c *FileCache) Forget(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, abs)
	c.mu.Unlock()
}
