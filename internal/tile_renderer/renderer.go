package tile_renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mvtview/internal/geometry"
	"mvtview/internal/raster"
	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/vector_tile"
)

// cullMargin keeps features whose outline may bleed into the tile.
const cullMargin = 16

// ParseFunc replaces the default fetch and decode step. It receives the
// substituted URL.
type ParseFunc func(ctx context.Context, url string) (*vector_tile.Tile, error)

type Options struct {
	URLTemplate string
	LayerNames  []string
	// MaximumNativeLevel is the deepest level the source serves. Zero
	// disables over-zoom.
	MaximumNativeLevel int

	Fetcher   vector_tile.Fetcher
	ParseTile ParseFunc
	Styles    *style.Resolver
	StyleFunc style.Func

	// OnRenderFeature may veto a feature. It is called from several
	// goroutines at once when a tile has more than one layer.
	OnRenderFeature    func(f *vector_tile.Feature, c tile.Coordinates) bool
	OnFeaturesRendered func()

	// Pick tolerances in pixels. HitRadius wins over the fixed values, which
	// win over the feature's style.
	PointHitRadius float64
	LineHitWidth   float64
	HitRadius      func(f *vector_tile.Feature, c tile.Coordinates) float64
}

// Renderer draws and picks one tile source. Decoded tiles are cached by URL
// for the renderer's lifetime.
type Renderer struct {
	opts   Options
	scheme tile.WebMercator
	raster *raster.Rasterizer
	logger *zap.Logger

	mu        sync.RWMutex
	tiles     map[string]*vector_tile.Tile
	freshness string
	loads     singleflight.Group
}

type RenderRequest struct {
	Tile        tile.Coordinates
	Surface     raster.Surface
	ScaleFactor float64
	StyleLayer  *style.Layer
	// Freshness drops the decoded tile cache whenever it changes.
	Freshness string
}

type PickRequest struct {
	Tile      tile.Coordinates
	Longitude float64
	Latitude  float64
	// StyleLayer is optional.
	StyleLayer *style.Layer
	Freshness  string
}

func New(opts Options, logger *zap.Logger) (*Renderer, error) {
	if opts.URLTemplate == "" {
		return nil, tile.ErrMissingURL
	}
	if len(opts.LayerNames) == 0 {
		return nil, errors.New("tile_renderer: no layer names")
	}
	if opts.Fetcher == nil && opts.ParseTile == nil {
		return nil, errors.New("tile_renderer: no fetcher")
	}
	if opts.Styles == nil {
		opts.Styles = style.Shared()
	}
	return &Renderer{
		opts:   opts,
		raster: raster.New(logger),
		logger: logger,
		tiles:  make(map[string]*vector_tile.Tile),
	}, nil
}

func (r *Renderer) LayerNames() []string {
	return r.opts.LayerNames
}

// Render paints every configured layer onto the surface in layer order.
// Layers are prepared concurrently and painted sequentially.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) error {
	if req.Surface == nil || req.Surface.Context() == nil {
		return nil
	}
	if req.ScaleFactor <= 0 {
		req.ScaleFactor = 1
	}

	resample := tile.DataTileForDisplayTile(req.Tile, r.opts.MaximumNativeLevel)
	url, err := tile.BuildURL(r.opts.URLTemplate, resample.Data)
	if err != nil {
		return fmt.Errorf("render %s: %w", req.Tile, err)
	}
	r.refresh(req.Freshness)

	t := r.cachedTile(ctx, url)
	if t == nil {
		return nil
	}

	layers := make([][]raster.Item, len(r.opts.LayerNames))
	var g errgroup.Group
	for i, name := range r.opts.LayerNames {
		g.Go(func() error {
			layers[i] = r.prepare(t.Layer(name), req, resample)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.raster.Paint(req.Surface, req.ScaleFactor, req.Tile, layers...)
	if r.opts.OnFeaturesRendered != nil {
		r.opts.OnFeaturesRendered()
	}
	return nil
}

func (r *Renderer) prepare(l *vector_tile.Layer, req RenderRequest, resample tile.Resample) []raster.Item {
	if l == nil {
		return nil
	}
	factor := geometry.ExtentFactor(tile.Size, l.Extent)
	zoom := geometry.OverZoom(resample, l.Extent)
	tr := geometry.Transform{
		Scale:  zoom.Scale * factor,
		Origin: orb.Point{zoom.Origin[0] * factor, zoom.Origin[1] * factor},
	}
	view := orb.Bound{Min: orb.Point{-cullMargin, -cullMargin}, Max: orb.Point{tile.Size + cullMargin, tile.Size + cullMargin}}

	items := make([]raster.Item, 0, len(l.Features))
	for _, f := range l.Features {
		if r.opts.OnRenderFeature != nil && !r.opts.OnRenderFeature(f, req.Tile) {
			continue
		}
		if f.Kind == vector_tile.KindUnknown {
			items = append(items, raster.Item{Feature: f})
			continue
		}
		if !resample.Identity() {
			b := orb.Bound{Min: tr.Apply(f.Bound.Min), Max: tr.Apply(f.Bound.Max)}
			if !b.Intersects(view) {
				continue
			}
		}
		s, ok := r.opts.Styles.Resolve(f, req.Tile, req.StyleLayer, r.opts.StyleFunc)
		if !ok || s.Hidden() {
			continue
		}
		items = append(items, raster.Item{Feature: f, Rings: tr.Rings(f.Rings), Style: s})
	}
	return items
}

func (r *Renderer) refresh(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != r.freshness {
		r.freshness = token
		r.tiles = make(map[string]*vector_tile.Tile)
	}
}

// cachedTile returns the decoded tile for url, loading it at most once even
// when several requests miss at the same time. Fetch failures are not cached.
func (r *Renderer) cachedTile(ctx context.Context, url string) *vector_tile.Tile {
	r.mu.RLock()
	t, ok := r.tiles[url]
	r.mu.RUnlock()
	if ok {
		return t
	}

	v, _, _ := r.loads.Do(url, func() (any, error) {
		t := r.load(ctx, url)
		if t != nil {
			r.mu.Lock()
			r.tiles[url] = t
			r.mu.Unlock()
		}
		return t, nil
	})
	return v.(*vector_tile.Tile)
}

func (r *Renderer) load(ctx context.Context, url string) *vector_tile.Tile {
	if r.opts.ParseTile != nil {
		t, err := r.opts.ParseTile(ctx, url)
		if err != nil {
			r.logger.Debug("Custom tile parse failed", zap.String("url", url), zap.Error(err))
			return nil
		}
		return t
	}
	return vector_tile.Load(ctx, r.opts.Fetcher, url, r.logger)
}

// ClearCache forgets every decoded tile.
func (r *Renderer) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiles = make(map[string]*vector_tile.Tile)
}

// CachedTiles is the number of decoded tiles held.
func (r *Renderer) CachedTiles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiles)
}
