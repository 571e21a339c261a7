package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mvtview/internal/cache"
	"mvtview/internal/dispatch"
	"mvtview/internal/raster"
	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/tile_encoder"
	"mvtview/internal/tile_renderer"
	"mvtview/internal/vector_tile"
)

const (
	DefaultResolution          = 5
	DefaultMaxTasks            = 50
	DefaultMaxTasksPerProvider = 6
	DefaultMaximumLevel        = 24
)

type Options struct {
	URLTemplate string
	LayerNames  []string

	MinimumLevel       int
	MaximumLevel       int
	MaximumNativeLevel int
	// Resolution is the scale factor used at and above MaximumLevel.
	Resolution float64

	UseWorkers          bool
	WorkerCount         int
	MaxTasks            int
	MaxTasksPerProvider int

	StyleLayer   *style.Layer
	FetchTimeout time.Duration

	PointHitRadius float64
	LineHitWidth   float64

	// Direct mode only.
	Fetcher            vector_tile.Fetcher
	ParseTile          tile_renderer.ParseFunc
	StyleFunc          style.Func
	HitRadius          func(f *vector_tile.Feature, c tile.Coordinates) float64
	OnRenderFeature    func(f *vector_tile.Feature, c tile.Coordinates) bool
	OnFeaturesRendered func()

	Cache  cache.Cache
	Credit string
}

func (o *Options) setDefaults() {
	if o.MaximumLevel == 0 {
		o.MaximumLevel = DefaultMaximumLevel
	}
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.MaxTasks <= 0 {
		o.MaxTasks = DefaultMaxTasks
	}
	if o.MaxTasksPerProvider <= 0 {
		o.MaxTasksPerProvider = DefaultMaxTasksPerProvider
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.Cache == nil {
		o.Cache = cache.NewNoopCache()
	}
}

// Provider is a tile image source: fixed tile size, zoom bounds, a tiling
// scheme, readiness, and the render and pick entry points.
type Provider struct {
	opts    Options
	logger  *zap.Logger
	scheme  tile.WebMercator
	handler dispatch.Handler
	pool    *dispatch.Pool
	source  string

	ready   chan struct{}
	initErr error

	mu        sync.Mutex
	inFlight  int
	freshness string
}

type TileResult struct {
	Data []byte
	ETag string
	Size int
}

// New builds the provider and starts initialising its handler. Use ReadyC
// or Ready to learn when it can serve.
func New(opts Options, logger *zap.Logger) (*Provider, error) {
	opts.setDefaults()
	if opts.URLTemplate == "" {
		return nil, tile.ErrMissingURL
	}
	if len(opts.LayerNames) == 0 {
		return nil, errors.New("provider: at least one layer name is required")
	}
	if opts.MinimumLevel < 0 || opts.MinimumLevel > opts.MaximumLevel {
		return nil, fmt.Errorf("provider: invalid zoom bounds %d..%d", opts.MinimumLevel, opts.MaximumLevel)
	}

	p := &Provider{
		opts:   opts,
		logger: logger,
		source: fingerprint(opts),
		ready:  make(chan struct{}),
	}

	if opts.UseWorkers {
		if opts.Fetcher != nil || opts.ParseTile != nil || opts.StyleFunc != nil || opts.HitRadius != nil ||
			opts.OnRenderFeature != nil || opts.OnFeaturesRendered != nil {
			return nil, errors.New("provider: fetcher, parse and callback overrides need direct mode")
		}
		p.pool = dispatch.Acquire(opts.WorkerCount, logger)
		p.handler = dispatch.NewWorker(p.pool, dispatch.Options{
			URLTemplate:        opts.URLTemplate,
			LayerNames:         opts.LayerNames,
			MaximumNativeLevel: opts.MaximumNativeLevel,
			PointHitRadius:     opts.PointHitRadius,
			LineHitWidth:       opts.LineHitWidth,
			FetchTimeout:       opts.FetchTimeout,
		}, logger)
	} else {
		fetcher := opts.Fetcher
		if fetcher == nil {
			fetcher = vector_tile.NewHTTPFetcher(opts.FetchTimeout)
		}
		p.handler = dispatch.NewDirect(tile_renderer.Options{
			URLTemplate:        opts.URLTemplate,
			LayerNames:         opts.LayerNames,
			MaximumNativeLevel: opts.MaximumNativeLevel,
			Fetcher:            fetcher,
			ParseTile:          opts.ParseTile,
			StyleFunc:          opts.StyleFunc,
			OnRenderFeature:    opts.OnRenderFeature,
			OnFeaturesRendered: opts.OnFeaturesRendered,
			PointHitRadius:     opts.PointHitRadius,
			LineHitWidth:       opts.LineHitWidth,
			HitRadius:          opts.HitRadius,
		}, logger)
	}

	go p.init()
	return p, nil
}

func (p *Provider) init() {
	defer close(p.ready)
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.FetchTimeout)
	defer cancel()
	if err := p.handler.Init(ctx); err != nil {
		p.initErr = err
		p.logger.Error("Tile provider failed to initialise", zap.Error(err))
		return
	}
	p.logger.Info("Tile provider ready",
		zap.Strings("layers", p.opts.LayerNames),
		zap.Bool("workers", p.opts.UseWorkers),
	)
}

func (p *Provider) TileWidth() int  { return tile.Size }
func (p *Provider) TileHeight() int { return tile.Size }

func (p *Provider) MinimumLevel() int { return p.opts.MinimumLevel }
func (p *Provider) MaximumLevel() int { return p.opts.MaximumLevel }

func (p *Provider) TilingScheme() tile.Scheme { return p.scheme }

func (p *Provider) Credit() string { return p.opts.Credit }

// HasAlphaChannel is always true; tiles are transparent where nothing is drawn.
func (p *Provider) HasAlphaChannel() bool { return true }

func (p *Provider) StyleLayer() *style.Layer { return p.opts.StyleLayer }

// ReadyC is closed once initialisation has finished, successfully or not.
func (p *Provider) ReadyC() <-chan struct{} { return p.ready }

func (p *Provider) Ready() bool {
	select {
	case <-p.ready:
		return p.initErr == nil
	default:
		return false
	}
}

func (p *Provider) waitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return p.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScaleFactor is the pixel multiplier for a level.
func (p *Provider) ScaleFactor(level int) float64 {
	if level >= p.opts.MaximumLevel {
		return p.opts.Resolution
	}
	return 1
}

// Refresh makes later renders refetch source tiles and drops cached rasters.
func (p *Provider) Refresh(token string) {
	p.mu.Lock()
	p.freshness = token
	p.mu.Unlock()
	p.opts.Cache.Clear()
}

func (p *Provider) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight >= p.opts.MaxTasksPerProvider {
		return false
	}
	if p.pool != nil && !p.pool.TryAdmit(p.opts.MaxTasks) {
		return false
	}
	p.inFlight++
	return true
}

func (p *Provider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	if p.pool != nil {
		p.pool.Done()
	}
}

// InFlight is the number of admitted renders not yet finished.
func (p *Provider) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *Provider) coordinates(x, y, level int) (tile.Coordinates, error) {
	c := tile.Coordinates{X: x, Y: y, Level: level}
	if err := c.Validate(); err != nil {
		return c, err
	}
	if level < p.opts.MinimumLevel || level > p.opts.MaximumLevel {
		return c, fmt.Errorf("%w: level %d outside %d..%d", tile.ErrOutOfRange, level, p.opts.MinimumLevel, p.opts.MaximumLevel)
	}
	return c, nil
}

func (p *Provider) cacheKey(c tile.Coordinates, layer *style.Layer, format tile_encoder.Format) cache.TileKey {
	key := cache.TileKey{
		Source: p.source,
		Scale:  p.ScaleFactor(c.Level),
		Z:      c.Level,
		X:      c.X,
		Y:      c.Y,
		Format: string(format),
	}
	key.Style = layer.Key()
	return key
}

// RequestTile renders one tile with the default style. It returns false,
// without doing any work, when too many renders are already in flight; the
// caller should ask again later.
func (p *Provider) RequestTile(ctx context.Context, x, y, level int) (*raster.Canvas, bool, error) {
	c, err := p.coordinates(x, y, level)
	if err != nil {
		return nil, false, err
	}
	key := p.cacheKey(c, p.opts.StyleLayer, tile_encoder.PNG)
	if data, ok := p.opts.Cache.Get(key); ok {
		if img, err := png.Decode(bytes.NewReader(data)); err == nil {
			return raster.FromImage(img), true, nil
		}
	}

	canvas, ok, err := p.render(ctx, c, p.opts.StyleLayer)
	if !ok || err != nil {
		return nil, ok, err
	}
	if data, err := tile_encoder.Encode(canvas, tile_encoder.PNG); err == nil {
		p.opts.Cache.Set(key, data)
	}
	return canvas, true, nil
}

type TileRequest struct {
	X, Y, Level int
	Format      tile_encoder.Format
	// Style overrides the provider's default style layer.
	Style *style.Layer
}

// RenderTile returns an encoded tile, from the raster cache when possible.
// Like RequestTile it reports false when the request was not admitted.
func (p *Provider) RenderTile(ctx context.Context, req TileRequest) (*TileResult, bool, error) {
	c, err := p.coordinates(req.X, req.Y, req.Level)
	if err != nil {
		return nil, false, err
	}
	if req.Format == "" {
		req.Format = tile_encoder.PNG
	}
	layer := req.Style
	if layer == nil {
		layer = p.opts.StyleLayer
	}

	key := p.cacheKey(c, layer, req.Format)
	if data, ok := p.opts.Cache.Get(key); ok {
		return &TileResult{Data: data, ETag: p.etag(key), Size: len(data)}, true, nil
	}

	canvas, ok, err := p.render(ctx, c, layer)
	if !ok || err != nil {
		return nil, ok, err
	}
	data, err := tile_encoder.Encode(canvas, req.Format)
	if err != nil {
		return nil, true, err
	}
	p.opts.Cache.Set(key, data)
	return &TileResult{Data: data, ETag: p.etag(key), Size: len(data)}, true, nil
}

// Cached reports whether RenderTile would answer req from the raster cache.
func (p *Provider) Cached(req TileRequest) bool {
	c, err := p.coordinates(req.X, req.Y, req.Level)
	if err != nil {
		return false
	}
	if req.Format == "" {
		req.Format = tile_encoder.PNG
	}
	layer := req.Style
	if layer == nil {
		layer = p.opts.StyleLayer
	}
	return p.opts.Cache.Has(p.cacheKey(c, layer, req.Format))
}

func (p *Provider) render(ctx context.Context, c tile.Coordinates, layer *style.Layer) (*raster.Canvas, bool, error) {
	if !p.admit() {
		p.logger.Debug("Tile request rejected", zap.String("tile", c.String()))
		return nil, false, nil
	}
	defer p.release()

	if err := p.waitReady(ctx); err != nil {
		return nil, true, err
	}

	sf := p.ScaleFactor(c.Level)
	size := int(math.Round(tile.Size * sf))
	canvas := raster.NewCanvas(size, size)

	p.mu.Lock()
	freshness := p.freshness
	p.mu.Unlock()

	err := p.handler.Render(ctx, tile_renderer.RenderRequest{
		Tile:        c,
		Surface:     canvas,
		ScaleFactor: sf,
		StyleLayer:  layer,
		Freshness:   freshness,
	})
	if err != nil {
		return nil, true, fmt.Errorf("render %s: %w", c, err)
	}
	return canvas, true, nil
}

// PickFeatures returns the features under lon/lat (degrees) on the given
// tile. A nil layer uses the provider's default style layer.
func (p *Provider) PickFeatures(ctx context.Context, x, y, level int, lon, lat float64, layer *style.Layer) ([]tile_renderer.FeatureInfo, error) {
	c, err := p.coordinates(x, y, level)
	if err != nil {
		return nil, err
	}
	if err := p.waitReady(ctx); err != nil {
		return nil, err
	}
	if layer == nil {
		layer = p.opts.StyleLayer
	}
	p.mu.Lock()
	freshness := p.freshness
	p.mu.Unlock()
	return p.handler.Pick(ctx, tile_renderer.PickRequest{
		Tile:       c,
		Longitude:  lon,
		Latitude:   lat,
		StyleLayer: layer,
		Freshness:  freshness,
	})
}

// Dispose lets in-flight work finish, bounded by ctx, then releases the
// handler and the worker pool.
func (p *Provider) Dispose(ctx context.Context) error {
	err := p.handler.Dispose(ctx)
	if p.pool != nil {
		err = errors.Join(err, p.pool.Release(ctx))
	}
	return err
}

func fingerprint(opts Options) string {
	s := fmt.Sprintf("%s|%s|%d", opts.URLTemplate, strings.Join(opts.LayerNames, ","), opts.MaximumNativeLevel)
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:16]
}

func (p *Provider) etag(key cache.TileKey) string {
	p.mu.Lock()
	freshness := p.freshness
	p.mu.Unlock()
	keyStr := fmt.Sprintf("%s_%s_%g/%d/%d/%d.%s#%s", key.Source, key.Style, key.Scale, key.Z, key.X, key.Y, key.Format, freshness)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])[:16]
}
