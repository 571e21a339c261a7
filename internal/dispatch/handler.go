package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"mvtview/internal/tile_renderer"
)

var (
	ErrDisposed = errors.New("dispatch: handler disposed")
	ErrRejected = errors.New("dispatch: too many tasks in flight")
)

// Handler runs render and pick calls for one tile source.
type Handler interface {
	Init(ctx context.Context) error
	Render(ctx context.Context, req tile_renderer.RenderRequest) error
	Pick(ctx context.Context, req tile_renderer.PickRequest) ([]tile_renderer.FeatureInfo, error)
	Dispose(ctx context.Context) error
}

// Direct runs the renderer on the calling goroutine.
type Direct struct {
	opts   tile_renderer.Options
	logger *zap.Logger

	mu       sync.RWMutex
	renderer *tile_renderer.Renderer
	disposed bool
}

func NewDirect(opts tile_renderer.Options, logger *zap.Logger) *Direct {
	return &Direct{opts: opts, logger: logger}
}

func (d *Direct) Init(ctx context.Context) error {
	r, err := tile_renderer.New(d.opts, d.logger)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return ErrDisposed
	}
	d.renderer = r
	return nil
}

func (d *Direct) get() (*tile_renderer.Renderer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.disposed {
		return nil, ErrDisposed
	}
	if d.renderer == nil {
		return nil, errors.New("dispatch: handler not initialised")
	}
	return d.renderer, nil
}

func (d *Direct) Render(ctx context.Context, req tile_renderer.RenderRequest) error {
	r, err := d.get()
	if err != nil {
		return err
	}
	return r.Render(ctx, req)
}

func (d *Direct) Pick(ctx context.Context, req tile_renderer.PickRequest) ([]tile_renderer.FeatureInfo, error) {
	r, err := d.get()
	if err != nil {
		return nil, err
	}
	return r.PickFeatures(ctx, req)
}

// Dispose drops the decoded tile cache. Calls already running finish normally.
func (d *Direct) Dispose(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.renderer != nil {
		d.renderer.ClearCache()
	}
	d.disposed = true
	return nil
}
