package geometry

import (
	"github.com/paulmach/orb"

	"mvtview/internal/tile"
)

// ExtentFactor converts extent units to canvas units.
func ExtentFactor(canvasSize float64, extent int) float64 {
	return canvasSize / float64(extent)
}

// Transform maps p to p*Scale + Origin.
type Transform struct {
	Scale  float64
	Origin orb.Point
}

func Identity() Transform {
	return Transform{Scale: 1}
}

// OverZoom builds the transform that magnifies the data tile of r so the
// display tile fills the extent.
func OverZoom(r tile.Resample, extent int) Transform {
	e := float64(extent)
	return Transform{
		Scale:  r.Scale,
		Origin: orb.Point{-float64(r.DX) * e, -float64(r.DY) * e},
	}
}

func (t Transform) IsIdentity() bool {
	return t.Scale == 1 && t.Origin == (orb.Point{})
}

func (t Transform) Apply(p orb.Point) orb.Point {
	return orb.Point{p[0]*t.Scale + t.Origin[0], p[1]*t.Scale + t.Origin[1]}
}

func (t Transform) Invert(p orb.Point) orb.Point {
	return orb.Point{(p[0] - t.Origin[0]) / t.Scale, (p[1] - t.Origin[1]) / t.Scale}
}

// Rings returns transformed copies. The input is returned as is for the identity.
func (t Transform) Rings(rings []orb.Ring) []orb.Ring {
	if t.IsIdentity() {
		return rings
	}
	out := make([]orb.Ring, len(rings))
	for i, r := range rings {
		nr := make(orb.Ring, len(r))
		for j, p := range r {
			nr[j] = t.Apply(p)
		}
		out[i] = nr
	}
	return out
}

// MapRange maps v linearly from [inMin, inMax] onto [outMin, outMax].
func MapRange(v, inMin, inMax, outMin, outMax float64) float64 {
	return (v-inMin)*((outMax-outMin)/(inMax-inMin)) + outMin
}

// PickPoint maps a projected point inside rect onto the tile's extent space
// [0, extent-1]. Rows grow southwards, matching the raster.
func PickPoint(native orb.Point, rect tile.Rectangle, extent int) orb.Point {
	top := float64(extent - 1)
	return orb.Point{
		MapRange(native[0], rect.West, rect.East, 0, top),
		MapRange(native[1], rect.North, rect.South, 0, top),
	}
}

// PixelsToExtent converts a distance in tile pixels into extent units.
func PixelsToExtent(px float64, extent int, tileWidth float64) float64 {
	return px * float64(extent) / tileWidth
}
