package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache is a bounded in-memory LRU of encoded tiles.
type MemoryCache struct {
	tiles *lru.Cache[TileKey, []byte]
}

func NewMemoryCache(maxSize int) (*MemoryCache, error) {
	tiles, err := lru.New[TileKey, []byte](maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{tiles: tiles}, nil
}

// Has does not update recency.
func (c *MemoryCache) Has(key TileKey) bool {
	return c.tiles.Contains(key)
}

func (c *MemoryCache) Get(key TileKey) ([]byte, bool) {
	return c.tiles.Get(key)
}

func (c *MemoryCache) Set(key TileKey, value []byte) {
	c.tiles.Add(key, value)
}

func (c *MemoryCache) Len() int {
	return c.tiles.Len()
}

func (c *MemoryCache) Clear() {
	c.tiles.Purge()
}
