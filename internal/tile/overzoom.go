package tile

// Resample describes how a fetched data tile maps onto a requested display tile.
type Resample struct {
	Data Coordinates
	// Scale is 2^(display level - data level).
	Scale float64
	// DX and DY locate the display tile inside the data tile, in display tiles.
	DX int
	DY int
}

// Identity reports whether the data tile is the display tile.
func (r Resample) Identity() bool {
	return r.Scale == 1 && r.DX == 0 && r.DY == 0
}

// DataTileForDisplayTile picks the tile to fetch for a display request. Above
// maxNativeLevel the ancestor at maxNativeLevel is used and magnified. A
// maxNativeLevel of zero or less disables over-zoom.
func DataTileForDisplayTile(display Coordinates, maxNativeLevel int) Resample {
	if maxNativeLevel <= 0 || display.Level <= maxNativeLevel {
		return Resample{Data: display, Scale: 1}
	}
	d := uint(display.Level - maxNativeLevel)
	data := Coordinates{X: display.X >> d, Y: display.Y >> d, Level: maxNativeLevel}
	return Resample{
		Data:  data,
		Scale: float64(int(1) << d),
		DX:    display.X - data.X<<d,
		DY:    display.Y - data.Y<<d,
	}
}
