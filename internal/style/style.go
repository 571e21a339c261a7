package style

import (
	"sync"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"mvtview/internal/tile"
	"mvtview/internal/vector_tile"
)

// CacheSize bounds the process-wide style cache.
const CacheSize = 1000

// Style is the paint state for one feature. Empty fields keep whatever the
// surface currently has.
type Style struct {
	FillStyle   string   `json:"fillStyle,omitempty" yaml:"fillStyle,omitempty"`
	StrokeStyle string   `json:"strokeStyle,omitempty" yaml:"strokeStyle,omitempty"`
	LineWidth   *float64 `json:"lineWidth,omitempty" yaml:"lineWidth,omitempty"`
	LineJoin    string   `json:"lineJoin,omitempty" yaml:"lineJoin,omitempty"`
}

// Hidden reports whether neither fill nor stroke would leave a mark.
func (s Style) Hidden() bool {
	return IsTransparent(s.FillStyle) && IsTransparent(s.StrokeStyle)
}

// Width returns the line width, or current when unset.
func (s Style) Width(current float64) float64 {
	if s.LineWidth == nil {
		return current
	}
	return *s.LineWidth
}

// Func is a caller supplied style callback. Returning false skips the feature.
type Func func(f *vector_tile.Feature, c tile.Coordinates) (Style, bool)

// Resolver turns features into styles, memoising style layer evaluations by
// property fingerprint.
type Resolver struct {
	cache *lru.Cache[string, Style]
}

func NewResolver(size int) (*Resolver, error) {
	c, err := lru.New[string, Style](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: c}, nil
}

var shared = sync.OnceValue(func() *Resolver {
	r, err := NewResolver(CacheSize)
	if err != nil {
		panic(err)
	}
	return r
})

// Shared returns the process-wide resolver.
func Shared() *Resolver {
	return shared()
}

// Resolve returns the feature's style, or false when it must not be drawn.
// Without a style layer the fallback decides; without either, the surface
// defaults apply.
func (r *Resolver) Resolve(f *vector_tile.Feature, c tile.Coordinates, layer *Layer, fallback Func) (Style, bool) {
	if f.Kind == vector_tile.KindUnknown {
		return Style{}, false
	}
	if layer == nil {
		if fallback != nil {
			return fallback(f, c)
		}
		return Style{}, true
	}

	key, ok := fingerprint(layer.Key(), f)
	if ok {
		if s, hit := r.cache.Get(key); hit {
			return s, true
		}
	}
	s := fromComputed(f.Kind, layer.Evaluate(f.Properties))
	if ok {
		r.cache.Add(key, s)
	}
	return s, true
}

// Len is the number of cached styles.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

func (r *Resolver) Purge() {
	r.cache.Purge()
}

// fingerprint keys by style layer content, kind and properties. Map keys are
// sorted by the encoder so equal bags give equal keys.
func fingerprint(layerKey string, f *vector_tile.Feature) (string, bool) {
	b, err := json.Marshal(f.Properties)
	if err != nil {
		return "", false
	}
	return layerKey + "\x00" + f.Kind.String() + "\x00" + string(b), true
}

func fromComputed(kind vector_tile.Kind, c Computed) Style {
	switch kind {
	case vector_tile.KindPolygon:
		p := c.Polygon
		if p == nil {
			p = &Polygon{}
		}
		shown := flag(p.Show, true)
		s := Style{
			FillStyle:   Transparent,
			StrokeStyle: Transparent,
			LineWidth:   p.StrokeWidth,
			LineJoin:    p.LineJoin,
		}
		if flag(p.Fill, true) && shown {
			s.FillStyle = p.FillColor
		}
		if flag(p.Stroke, false) && shown {
			s.StrokeStyle = p.StrokeColor
		}
		return s
	case vector_tile.KindLineString:
		l := c.Polyline
		if l == nil {
			l = &Polyline{}
		}
		s := Style{FillStyle: Transparent, StrokeStyle: Transparent, LineWidth: l.StrokeWidth}
		if flag(l.Show, true) {
			s.FillStyle = l.StrokeColor
			if l.StrokeColor != "" {
				s.StrokeStyle = l.StrokeColor
			}
		}
		return s
	case vector_tile.KindPoint:
		m := c.Marker
		if m == nil {
			m = &Marker{}
		}
		s := Style{FillStyle: Transparent, StrokeStyle: Transparent, LineWidth: m.PointSize}
		if flag(m.Show, true) {
			s.FillStyle = m.PointColor
			if m.PointColor != "" {
				s.StrokeStyle = m.PointColor
			}
		}
		return s
	}
	return Style{}
}

func flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
