package vector_tile

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"mvtview/internal/tile"
)

// DefaultExtent is used when a layer does not declare one.
const DefaultExtent = 4096

type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindLineString
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindLineString:
		return "LineString"
	case KindPolygon:
		return "Polygon"
	default:
		return "Unknown"
	}
}

// AppearanceType is the styling category of a kind: marker, polyline or polygon.
func (k Kind) AppearanceType() string {
	switch k {
	case KindPoint:
		return "marker"
	case KindLineString:
		return "polyline"
	case KindPolygon:
		return "polygon"
	default:
		return ""
	}
}

// Tile is a frozen decoded tile. It is safe to share between goroutines as
// long as nobody mutates it.
type Tile struct {
	Layers map[string]*Layer
}

// Layer returns the named layer or nil. A nil tile has no layers.
func (t *Tile) Layer(name string) *Layer {
	if t == nil {
		return nil
	}
	return t.Layers[name]
}

type Layer struct {
	Name     string
	Extent   int
	Version  int
	Features []*Feature
}

// Feature holds geometry as rings in extent space. Polygons keep the exterior
// ring followed by its holes; lines and multi-points use one ring per part.
type Feature struct {
	// ID is zero when the tile did not carry one. It is read straight from
	// the tile bytes, so ids above 2^53 keep full precision.
	ID           uint64
	Kind         Kind
	GeometryType string
	Rings        []orb.Ring
	Bound        orb.Bound
	Properties   map[string]any
}

// StableID returns the tile-assigned id, or an MD5 based UUID derived from the
// tile address and every vertex when the feature has none.
func (f *Feature) StableID(c tile.Coordinates) string {
	if f.ID != 0 {
		return strconv.FormatUint(f.ID, 10)
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(c.X))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Y))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Level))
	for _, r := range f.Rings {
		for _, p := range r {
			b.WriteByte(':')
			b.WriteString(strconv.FormatFloat(p[0], 'f', -1, 64))
			b.WriteByte(':')
			b.WriteString(strconv.FormatFloat(p[1], 'f', -1, 64))
		}
	}
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(b.String())).String()
}
