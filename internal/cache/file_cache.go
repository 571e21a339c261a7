package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileCache implements file-based cache
// Structure: {cacheDir}/{source}/{style}_{scale}/{z}/{x}_{y}.{format}
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

func (c *FileCache) buildFilePath(key TileKey) string {
	style := key.Style
	if style == "" {
		style = "default"
	}
	dirName := fmt.Sprintf("%s_%g", style, key.Scale)
	dir := filepath.Join(c.cacheDir, key.Source, dirName, fmt.Sprintf("%d", key.Z))
	fileName := fmt.Sprintf("%d_%d.%s", key.X, key.Y, key.Format)
	return filepath.Join(dir, fileName)
}

func (c *FileCache) Has(key TileKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, err := os.Stat(c.buildFilePath(key))
	return err == nil && info.Mode().IsRegular()
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *FileCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		return
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
	}
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}
