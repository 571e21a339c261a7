package cache

// TileKey identifies one encoded raster tile.
type TileKey struct {
	// Source is a filesystem safe fingerprint of the tile source.
	Source string
	Style  string
	Scale  float64
	Z      int
	X      int
	Y      int
	Format string
}

type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Has(key TileKey) bool // Check if tile exists without reading it (lightweight check)
	Clear()
}
