package geometry

import "github.com/paulmach/orb"

// TwiceSignedArea is the shoelace sum of a ring in tile space. Rings may be
// open or closed.
func TwiceSignedArea(r orb.Ring) float64 {
	n := len(r)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		prev := r[(i+n-1)%n]
		next := r[(i+1)%n]
		sum += r[i][0] * (next[1] - prev[1])
	}
	return sum
}

// WindingOrder is counter-clockwise in the usual y-up sense when the area is
// positive. Tile space is y-down, so that is clockwise on screen.
func WindingOrder(r orb.Ring) orb.Orientation {
	if TwiceSignedArea(r) > 0 {
		return orb.CCW
	}
	return orb.CW
}

// IsExteriorRing applies the vector tile rule: exterior rings have positive
// area in tile coordinates.
func IsExteriorRing(r orb.Ring) bool {
	return WindingOrder(r) == orb.CCW
}

// RingContains is an even-odd ray cast.
func RingContains(r orb.Ring, p orb.Point) bool {
	x, y := p[0], p[1]
	in := false
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		xi, yi := r[i][0], r[i][1]
		xj, yj := r[j][0], r[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

// PolygonHit reports whether p lies inside a polygon given as exterior rings
// each followed by their holes. A ring whose winding differs from the first
// ring belongs as a hole to the exterior before it.
func PolygonHit(rings []orb.Ring, p orb.Point) bool {
	if len(rings) == 0 {
		return false
	}
	exterior := WindingOrder(rings[0])
	for i := 0; i < len(rings); {
		j := i + 1
		for j < len(rings) && WindingOrder(rings[j]) != exterior {
			j++
		}
		if RingContains(rings[i], p) {
			inHole := false
			for _, hole := range rings[i+1 : j] {
				if RingContains(hole, p) {
					inHole = true
					break
				}
			}
			if !inHole {
				return true
			}
		}
		i = j
	}
	return false
}

// PointHit reports whether any point lies within radius of p.
func PointHit(rings []orb.Ring, p orb.Point, radius float64) bool {
	r2 := radius * radius
	for _, r := range rings {
		if len(r) > 0 && distSq(r[0], p) <= r2 {
			return true
		}
	}
	return false
}

// LineHit reports whether p lies within lineWidth/2 of any segment.
func LineHit(rings []orb.Ring, p orb.Point, lineWidth float64) bool {
	half := lineWidth / 2
	limit := half * half
	for _, r := range rings {
		for i := 0; i+1 < len(r); i++ {
			if segmentDistSq(r[i], r[i+1], p) <= limit {
				return true
			}
		}
	}
	return false
}

func segmentDistSq(a, b, p orb.Point) float64 {
	l2 := distSq(a, b)
	if l2 == 0 {
		return distSq(a, p)
	}
	t := ((p[0]-a[0])*(b[0]-a[0]) + (p[1]-a[1])*(b[1]-a[1])) / l2
	t = max(0, min(1, t))
	nearest := orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
	return distSq(nearest, p)
}

func distSq(a, b orb.Point) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}
