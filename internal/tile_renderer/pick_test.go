package tile_renderer

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/vector_tile"
)

func lineFeature(props map[string]any, pts ...orb.Point) *vector_tile.Feature {
	r := orb.Ring(pts)
	return &vector_tile.Feature{Kind: vector_tile.KindLineString, Rings: []orb.Ring{r}, Bound: r.Bound(), Properties: props}
}

func pointFeature(props map[string]any, p orb.Point) *vector_tile.Feature {
	r := orb.Ring{p}
	return &vector_tile.Feature{Kind: vector_tile.KindPoint, Rings: []orb.Ring{r}, Bound: r.Bound(), Properties: props}
}

func TestPickPolygon(t *testing.T) {
	// Tile 1/0/0 spans lon -180..0; the polygon covers its western half.
	r := newRenderer(t, Options{ParseTile: staticTile(
		polygonFeature(9, map[string]any{"class": "park"}, box(0, 0, extent/2, extent)),
	)})
	c := tile.Coordinates{X: 0, Y: 0, Level: 1}

	got, err := r.PickFeatures(context.Background(), PickRequest{Tile: c, Longitude: -135, Latitude: 40})
	if err != nil {
		t.Fatalf("PickFeatures() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	info := got[0]
	if info.FeatureID != "9" || info.Layer != "landuse" || info.AppearanceType != "polygon" {
		t.Errorf("info = %+v", info)
	}
	if info.Feature.Properties["class"] != "park" {
		t.Errorf("properties = %v", info.Feature.Properties)
	}
	if info.Feature.Range != (Range{X: 0, Y: 0, Z: 1}) {
		t.Errorf("range = %+v", info.Feature.Range)
	}
	if info.Feature.Geometry == nil || info.Feature.Geometry.Type != "Polygon" {
		t.Errorf("geometry = %+v", info.Feature.Geometry)
	}

	miss, err := r.PickFeatures(context.Background(), PickRequest{Tile: c, Longitude: -45, Latitude: 40})
	if err != nil {
		t.Fatal(err)
	}
	if len(miss) != 0 {
		t.Errorf("east half picked %d features", len(miss))
	}
}

func TestPickPolygonHole(t *testing.T) {
	outer := box(0, 0, extent, extent)
	hole := orb.Ring{{1024, 1024}, {1024, 3072}, {3072, 3072}, {3072, 1024}, {1024, 1024}}
	r := newRenderer(t, Options{ParseTile: staticTile(polygonFeature(1, nil, outer, hole))})

	// Tile 1/0/0: lon -90 is the horizontal centre and so inside the hole.
	got, err := r.PickFeatures(context.Background(), PickRequest{
		Tile: tile.Coordinates{Level: 1}, Longitude: -90, Latitude: 66.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("hole picked %d features", len(got))
	}

	got, err = r.PickFeatures(context.Background(), PickRequest{
		Tile: tile.Coordinates{Level: 1}, Longitude: -170, Latitude: 80,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("ring body picked %d features, want 1", len(got))
	}
}

func TestPickOverZoom(t *testing.T) {
	r := newRenderer(t, Options{
		MaximumNativeLevel: 1,
		ParseTile:          staticTile(polygonFeature(1, nil, box(extent/2, 0, extent, extent/2))),
	})

	hit, err := r.PickFeatures(context.Background(), PickRequest{
		Tile: tile.Coordinates{X: 1, Y: 0, Level: 2}, Longitude: -45, Latitude: 75,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hit) != 1 {
		t.Errorf("2/1/0 picked %d features, want 1", len(hit))
	}

	miss, err := r.PickFeatures(context.Background(), PickRequest{
		Tile: tile.Coordinates{X: 0, Y: 0, Level: 2}, Longitude: -135, Latitude: 75,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(miss) != 0 {
		t.Errorf("2/0/0 picked %d features, want 0", len(miss))
	}
}

func TestPickLinesAndPointsUseTolerance(t *testing.T) {
	// Tile 0/0/0: one pixel is 16 extent units. The line runs along y=2048,
	// the equator.
	features := []*vector_tile.Feature{
		lineFeature(map[string]any{"kind": "road"}, orb.Point{0, 2048}, orb.Point{4096, 2048}),
		pointFeature(map[string]any{"kind": "poi"}, orb.Point{2048, 2048}),
	}
	r := newRenderer(t, Options{ParseTile: staticTile(features...), LineHitWidth: 10, PointHitRadius: 4})

	got, err := r.PickFeatures(context.Background(), PickRequest{Longitude: 0, Latitude: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("picked %d features, want the line and the point", len(got))
	}
	if got[0].AppearanceType != "polyline" || got[1].AppearanceType != "marker" {
		t.Errorf("order = %s, %s", got[0].AppearanceType, got[1].AppearanceType)
	}

	// Roughly 3 pixels north and 7 pixels east of the point: inside the line's
	// 5 pixel half width, outside the 4 pixel point radius.
	got, err = r.PickFeatures(context.Background(), PickRequest{Longitude: 10, Latitude: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AppearanceType != "polyline" {
		t.Errorf("picked %+v, want only the line", got)
	}
}

func TestPickReportsComputedStyle(t *testing.T) {
	r := newRenderer(t, Options{ParseTile: staticTile(
		polygonFeature(3, map[string]any{"class": "cemetery"}, box(0, 0, extent, extent)),
	)})
	layer := &style.Layer{
		ID:      "parks",
		Polygon: &style.Polygon{FillColor: "#00ff00"},
		Rules: []style.Rule{{
			FilterProp: "class", FilterValue: "cemetery",
			Polygon: &style.Polygon{FillColor: "#888"},
		}},
	}

	got, err := r.PickFeatures(context.Background(), PickRequest{Longitude: 1, Latitude: 1, StyleLayer: layer})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].LayerID != "parks" {
		t.Errorf("LayerID = %q", got[0].LayerID)
	}
	if c := got[0].Feature.Computed; c == nil || c.Polygon == nil || c.Polygon.FillColor != "#888" {
		t.Errorf("computed = %+v", c)
	}

	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0]["featureId"] != "3" {
		t.Errorf("featureId = %v", decoded[0]["featureId"])
	}
}

func TestPickMissingTile(t *testing.T) {
	r := newRenderer(t, Options{ParseTile: func(context.Context, string) (*vector_tile.Tile, error) {
		return nil, nil
	}})
	got, err := r.PickFeatures(context.Background(), PickRequest{Longitude: 1, Latitude: 1})
	if err != nil || got != nil {
		t.Errorf("PickFeatures() = %v, %v; want nil, nil", got, err)
	}
}

func TestPickFollowsFreshness(t *testing.T) {
	var served atomic.Uint64
	served.Store(1)
	r := newRenderer(t, Options{ParseTile: func(ctx context.Context, url string) (*vector_tile.Tile, error) {
		return staticTile(polygonFeature(served.Load(), nil, box(0, 0, extent, extent)))(ctx, url)
	}})
	c := tile.Coordinates{X: 0, Y: 0, Level: 1}
	pick := func(freshness string) string {
		t.Helper()
		got, err := r.PickFeatures(context.Background(), PickRequest{Tile: c, Longitude: -90, Latitude: 40, Freshness: freshness})
		if err != nil || len(got) != 1 {
			t.Fatalf("PickFeatures(%q) = %+v, %v", freshness, got, err)
		}
		return got[0].FeatureID
	}

	if err := r.Render(context.Background(), RenderRequest{Tile: c, Surface: canvas(), Freshness: "one"}); err != nil {
		t.Fatal(err)
	}
	served.Store(2)
	if id := pick("one"); id != "1" {
		t.Errorf("pick with unchanged token = %s, want cached 1", id)
	}
	if id := pick("two"); id != "2" {
		t.Errorf("pick after refresh = %s, want 2", id)
	}
}
