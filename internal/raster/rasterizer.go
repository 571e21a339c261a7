package raster

import (
	"image/color"
	"math"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"mvtview/internal/geometry"
	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/vector_tile"
)

// MaxVerticesPerCall caps how many vertices go into one polygon path before
// it is flushed.
const MaxVerticesPerCall = 5400

// Item is one feature ready to paint: rings already in canvas units.
type Item struct {
	Feature *vector_tile.Feature
	Rings   []orb.Ring
	Style   style.Style
}

type Rasterizer struct {
	logger      *zap.Logger
	maxVertices int
}

func New(logger *zap.Logger) *Rasterizer {
	return &Rasterizer{logger: logger, maxVertices: MaxVerticesPerCall}
}

// Paint draws the layers in order. The surface is scaled by scaleFactor so
// item coordinates stay in base tile units.
func (r *Rasterizer) Paint(s Surface, scaleFactor float64, c tile.Coordinates, layers ...[]Item) {
	dc := s.Context()
	if dc == nil {
		return
	}

	dc.Push()
	defer dc.Pop()
	dc.Identity()
	dc.Scale(scaleFactor, scaleFactor)
	dc.SetMiterLimit(2)

	p := &pen{
		dc:          dc,
		scale:       scaleFactor,
		fill:        color.Black,
		stroke:      color.Black,
		width:       1,
		join:        gg.LineJoinMiter,
		maxVertices: r.maxVertices,
		logger:      r.logger,
		tile:        c,
	}
	for _, items := range layers {
		for i := range items {
			p.draw(&items[i])
		}
	}
}

type pen struct {
	dc          *gg.Context
	scale       float64
	fill        color.Color
	stroke      color.Color
	fillOff     bool
	strokeOff   bool
	width       float64
	join        gg.LineJoin
	maxVertices int
	logger      *zap.Logger
	tile        tile.Coordinates
}

func (p *pen) draw(it *Item) {
	if it.Style.Hidden() {
		return
	}
	p.apply(it.Style)

	switch it.Feature.Kind {
	case vector_tile.KindPolygon:
		p.polygon(it.Rings, it.Style.Width(1) > 0)
	case vector_tile.KindLineString:
		p.lineString(it.Rings)
	case vector_tile.KindPoint:
		p.points(it.Rings)
	default:
		p.logger.Warn("Unexpected geometry type",
			zap.String("type", it.Feature.GeometryType),
			zap.String("tile", p.tile.String()),
		)
	}
}

func (p *pen) apply(s style.Style) {
	if s.FillStyle != "" {
		if c, err := style.ParseColor(s.FillStyle); err == nil {
			p.fill, p.fillOff = c, c.A == 0
		} else {
			p.logger.Debug("Ignoring fill colour", zap.String("value", s.FillStyle), zap.Error(err))
		}
	}
	if s.StrokeStyle != "" {
		if c, err := style.ParseColor(s.StrokeStyle); err == nil {
			p.stroke, p.strokeOff = c, c.A == 0
		} else {
			p.logger.Debug("Ignoring stroke colour", zap.String("value", s.StrokeStyle), zap.Error(err))
		}
	}
	p.width = s.Width(p.width)
	switch s.LineJoin {
	case "round":
		p.join = gg.LineJoinRound
	case "bevel":
		p.join = gg.LineJoinBevel
	case "miter":
		p.join = gg.LineJoinMiter
	}
}

// polygon accumulates rings into one path and flushes before an exterior ring
// that would push the path past the vertex ceiling. Holes stay in the same
// path as their exterior, so one exterior with its holes may exceed the
// ceiling in a single fill.
func (p *pen) polygon(rings []orb.Ring, outline bool) {
	if len(rings) == 0 {
		return
	}
	exterior := geometry.WindingOrder(rings[0])
	vertices := 0
	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		if vertices > 0 && vertices+len(ring) > p.maxVertices && geometry.WindingOrder(ring) == exterior {
			p.flushPolygon(outline)
			vertices = 0
		}
		p.trace(ring, true)
		vertices += len(ring)
	}
	if vertices > 0 {
		p.flushPolygon(outline)
	}
}

func (p *pen) flushPolygon(outline bool) {
	p.dc.SetFillRule(gg.FillRuleEvenOdd)
	if outline && !p.strokeOff {
		p.setStroke()
		p.check(p.dc.StrokePreserve())
	}
	if p.fillOff {
		p.dc.ClearPath()
		return
	}
	p.dc.SetColor(p.fill)
	p.check(p.dc.Fill())
}

func (p *pen) lineString(rings []orb.Ring) {
	traced := false
	for _, ring := range rings {
		if len(ring) < 2 {
			continue
		}
		p.trace(ring, false)
		traced = true
	}
	if !traced {
		return
	}
	if p.strokeOff {
		p.dc.ClearPath()
		return
	}
	p.setStroke()
	p.check(p.dc.Stroke())
}

// points draws a filled circle per part. The line width doubles as radius.
func (p *pen) points(rings []orb.Ring) {
	if p.fillOff || p.width <= 0 {
		return
	}
	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		p.dc.DrawCircle(ring[0][0], ring[0][1], p.width)
		p.dc.SetColor(p.fill)
		p.check(p.dc.Fill())
	}
}

func (p *pen) trace(ring orb.Ring, closed bool) {
	p.dc.MoveTo(ring[0][0], ring[0][1])
	for _, pt := range ring[1:] {
		p.dc.LineTo(pt[0], pt[1])
	}
	if closed {
		p.dc.ClosePath()
	}
}

// setStroke selects the stroke colour. Line width is not affected by the
// context transform, so it is scaled here.
func (p *pen) setStroke() {
	p.dc.SetColor(p.stroke)
	p.dc.SetLineWidth(math.Max(p.width, 0) * p.scale)
	p.dc.SetLineJoin(p.join)
}

func (p *pen) check(err error) {
	if err != nil {
		p.logger.Debug("Draw call failed", zap.String("tile", p.tile.String()), zap.Error(err))
	}
}
