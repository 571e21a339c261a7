package tile

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Rectangle is a tile's extent in the scheme's native (projected) units.
type Rectangle struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Scheme converts between tile addresses and geographic space.
type Scheme interface {
	// Rectangle returns the tile bounds in degrees.
	Rectangle(c Coordinates) orb.Bound
	NativeRectangle(c Coordinates) Rectangle
	// Project maps a lon/lat point in degrees into native units.
	Project(lon, lat float64) orb.Point
}

// WebMercator is the EPSG:3857 scheme used by slippy-map tile servers.
type WebMercator struct{}

func (WebMercator) Rectangle(c Coordinates) orb.Bound {
	return c.MapTile().Bound()
}

func (s WebMercator) NativeRectangle(c Coordinates) Rectangle {
	b := s.Rectangle(c)
	sw := project.WGS84.ToMercator(b.Min)
	ne := project.WGS84.ToMercator(b.Max)
	return Rectangle{West: sw[0], South: sw[1], East: ne[0], North: ne[1]}
}

func (WebMercator) Project(lon, lat float64) orb.Point {
	return project.WGS84.ToMercator(orb.Point{lon, lat})
}
