package tile_renderer

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"mvtview/internal/geometry"
	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/vector_tile"
)

// FeatureInfo describes one picked feature.
type FeatureInfo struct {
	LayerID        string      `json:"layerId,omitempty" yaml:"layerId,omitempty"`
	FeatureID      string      `json:"featureId" yaml:"featureId"`
	Layer          string      `json:"layer" yaml:"layer"`
	AppearanceType string      `json:"appearanceType" yaml:"appearanceType"`
	Feature        FeatureData `json:"feature" yaml:"feature"`
}

type FeatureData struct {
	ID         string            `json:"id" yaml:"id"`
	Type       string            `json:"type" yaml:"type"`
	Properties map[string]any    `json:"properties" yaml:"properties"`
	Geometry   *geojson.Geometry `json:"geometry" yaml:"-"`
	Range      Range             `json:"range" yaml:"range"`
	Computed   *style.Computed   `json:"computed,omitempty" yaml:"computed,omitempty"`
}

type Range struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// PickFeatures returns the features under a lon/lat point (degrees), from
// every configured layer, in layer order and then paint order.
func (r *Renderer) PickFeatures(ctx context.Context, req PickRequest) ([]FeatureInfo, error) {
	r.refresh(req.Freshness)
	resample := tile.DataTileForDisplayTile(req.Tile, r.opts.MaximumNativeLevel)
	url, err := tile.BuildURL(r.opts.URLTemplate, resample.Data)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", req.Tile, err)
	}

	t := r.cachedTile(ctx, url)
	if t == nil {
		return nil, nil
	}

	native := r.scheme.Project(req.Longitude, req.Latitude)
	rect := r.scheme.NativeRectangle(req.Tile)

	found := make([][]FeatureInfo, len(r.opts.LayerNames))
	var g errgroup.Group
	for i, name := range r.opts.LayerNames {
		g.Go(func() error {
			found[i] = r.pickLayer(t.Layer(name), req, resample, native, rect)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []FeatureInfo
	for _, f := range found {
		out = append(out, f...)
	}
	return out, nil
}

func (r *Renderer) pickLayer(l *vector_tile.Layer, req PickRequest, resample tile.Resample, native orb.Point, rect tile.Rectangle) []FeatureInfo {
	if l == nil {
		return nil
	}
	zoom := geometry.OverZoom(resample, l.Extent)
	p := zoom.Invert(geometry.PickPoint(native, rect, l.Extent))
	toExtent := func(px float64) float64 {
		return geometry.PixelsToExtent(px, l.Extent, tile.Size) / resample.Scale
	}

	var out []FeatureInfo
	for _, f := range l.Features {
		hit := false
		switch f.Kind {
		case vector_tile.KindPolygon:
			hit = f.Bound.Contains(p) && geometry.PolygonHit(f.Rings, p)
		case vector_tile.KindLineString:
			w := toExtent(r.tolerance(f, req))
			hit = f.Bound.Pad(w).Contains(p) && geometry.LineHit(f.Rings, p, w)
		case vector_tile.KindPoint:
			radius := toExtent(r.tolerance(f, req))
			hit = f.Bound.Pad(radius).Contains(p) && geometry.PointHit(f.Rings, p, radius)
		}
		if hit {
			out = append(out, r.describe(l, f, req))
		}
	}
	return out
}

// tolerance is the pick distance in pixels: a line width for lines and a
// radius for points.
func (r *Renderer) tolerance(f *vector_tile.Feature, req PickRequest) float64 {
	if r.opts.HitRadius != nil {
		return r.opts.HitRadius(f, req.Tile)
	}
	if f.Kind == vector_tile.KindPoint && r.opts.PointHitRadius > 0 {
		return r.opts.PointHitRadius
	}
	if f.Kind == vector_tile.KindLineString && r.opts.LineHitWidth > 0 {
		return r.opts.LineHitWidth
	}
	s, _ := r.opts.Styles.Resolve(f, req.Tile, req.StyleLayer, r.opts.StyleFunc)
	if w := s.Width(1); w > 0 {
		return w
	}
	return 1
}

func (r *Renderer) describe(l *vector_tile.Layer, f *vector_tile.Feature, req PickRequest) FeatureInfo {
	id := f.StableID(req.Tile)
	info := FeatureInfo{
		FeatureID:      id,
		Layer:          l.Name,
		AppearanceType: f.Kind.AppearanceType(),
		Feature: FeatureData{
			ID:         id,
			Type:       f.Kind.String(),
			Properties: f.Properties,
			Geometry:   geoJSON(f),
			Range:      Range{X: req.Tile.X, Y: req.Tile.Y, Z: req.Tile.Level},
		},
	}
	if req.StyleLayer != nil {
		info.LayerID = req.StyleLayer.ID
		c := req.StyleLayer.Evaluate(f.Properties)
		info.Feature.Computed = &c
	}
	return info
}

// geoJSON renders the feature geometry in tile extent space.
func geoJSON(f *vector_tile.Feature) *geojson.Geometry {
	if len(f.Rings) == 0 || len(f.Rings[0]) == 0 {
		return nil
	}
	switch f.Kind {
	case vector_tile.KindPolygon:
		return geojson.NewGeometry(orb.Polygon(f.Rings))
	case vector_tile.KindLineString:
		return geojson.NewGeometry(orb.LineString(f.Rings[0]))
	case vector_tile.KindPoint:
		return geojson.NewGeometry(f.Rings[0][0])
	}
	return nil
}
