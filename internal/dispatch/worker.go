package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"mvtview/internal/style"
	"mvtview/internal/tile"
	"mvtview/internal/tile_renderer"
	"mvtview/internal/vector_tile"
)

// RendererCacheSize bounds how many renderers one pool worker keeps.
const RendererCacheSize = 16

// rendererKey identifies one logical tile source. Two providers that differ
// in any option get separate renderers even when they share a URL.
type rendererKey struct {
	URL          string
	Layers       string
	MaxLevel     int
	PointRadius  float64
	LineWidth    float64
	FetchTimeout time.Duration
	Style        string
	Freshness    string
}

// worker is the pool side: it owns a cache of renderers and answers messages.
type worker struct {
	id        int
	logger    *zap.Logger
	renderers *lru.Cache[rendererKey, *tile_renderer.Renderer]
}

func newWorker(id int, logger *zap.Logger) *worker {
	c, err := lru.New[rendererKey, *tile_renderer.Renderer](RendererCacheSize)
	if err != nil {
		panic(err)
	}
	return &worker{id: id, logger: logger, renderers: c}
}

func (w *worker) renderer(opts Options, styleLayer *style.Layer, freshness string) (*tile_renderer.Renderer, error) {
	key := rendererKey{
		URL:          opts.URLTemplate,
		Layers:       strings.Join(opts.LayerNames, ","),
		MaxLevel:     opts.MaximumNativeLevel,
		PointRadius:  opts.PointHitRadius,
		LineWidth:    opts.LineHitWidth,
		FetchTimeout: opts.FetchTimeout,
		Style:        styleLayer.Key(),
		Freshness:    freshness,
	}
	if r, ok := w.renderers.Get(key); ok {
		return r, nil
	}
	r, err := tile_renderer.New(tile_renderer.Options{
		URLTemplate:        opts.URLTemplate,
		LayerNames:         opts.LayerNames,
		MaximumNativeLevel: opts.MaximumNativeLevel,
		Fetcher:            vector_tile.NewHTTPFetcher(opts.FetchTimeout),
		PointHitRadius:     opts.PointHitRadius,
		LineHitWidth:       opts.LineHitWidth,
	}, w.logger)
	if err != nil {
		return nil, err
	}
	w.renderers.Add(key, r)
	return r, nil
}

// handle runs one message. Work already dispatched is never cancelled.
func (w *worker) handle(msg message) response {
	ctx := context.Background()
	fail := func(err error) response {
		return response{Kind: respError, ID: msg.ID, Error: err.Error()}
	}

	switch msg.Kind {
	case kindInit:
		if _, err := w.renderer(msg.Options, nil, ""); err != nil {
			return fail(err)
		}
		return response{Kind: respOK, ID: msg.ID}
	case kindRender:
		r, err := w.renderer(msg.Options, msg.Render.StyleLayer, msg.Render.Freshness)
		if err != nil {
			return fail(err)
		}
		if err := r.Render(ctx, msg.Render); err != nil {
			return fail(err)
		}
		return response{Kind: respOK, ID: msg.ID}
	case kindPick:
		r, err := w.renderer(msg.Options, msg.Pick.StyleLayer, msg.Pick.Freshness)
		if err != nil {
			return fail(err)
		}
		features, err := r.PickFeatures(ctx, msg.Pick)
		if err != nil {
			return fail(err)
		}
		return response{Kind: respPickResult, ID: msg.ID, Features: features}
	}
	w.logger.Warn("Unknown message kind", zap.String("kind", msg.Kind.String()))
	return fail(errors.New("dispatch: unknown message kind"))
}

// Worker is the caller side of the pool protocol for one tile source.
// Requests carry a fresh correlation id; responses are matched back to the
// waiting call by that id.
type Worker struct {
	pool   *Pool
	opts   Options
	logger *zap.Logger

	replies chan response
	done    chan struct{}

	mu       sync.Mutex
	pending  map[string]chan response
	disposed bool
	calls    sync.WaitGroup
}

func NewWorker(pool *Pool, opts Options, logger *zap.Logger) *Worker {
	w := &Worker{
		pool:    pool,
		opts:    opts,
		logger:  logger,
		replies: make(chan response, pool.Size()),
		done:    make(chan struct{}),
		pending: make(map[string]chan response),
	}
	go w.route()
	return w
}

func (w *Worker) route() {
	for {
		select {
		case resp := <-w.replies:
			w.deliver(resp)
		case <-w.done:
			return
		}
	}
}

func (w *Worker) deliver(resp response) {
	w.mu.Lock()
	ch, ok := w.pending[resp.ID]
	delete(w.pending, resp.ID)
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("Dropping response with unknown correlation id", zap.String("id", resp.ID))
		return
	}
	ch <- resp
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *Worker) call(ctx context.Context, msg message) (response, error) {
	msg.ID = uuid.NewString()
	msg.Options = w.opts
	msg.reply = w.replies
	msg.done = w.done
	ch := make(chan response, 1)

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return response{}, ErrDisposed
	}
	w.pending[msg.ID] = ch
	w.calls.Add(1)
	w.mu.Unlock()
	defer w.calls.Done()

	if err := w.pool.submit(msg); err != nil {
		w.forget(msg.ID)
		return response{}, err
	}

	select {
	case resp := <-ch:
		if resp.Kind == respError {
			return resp, remoteError(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		w.forget(msg.ID)
		return response{}, ctx.Err()
	case <-w.done:
		return response{}, ErrDisposed
	}
}

func (w *Worker) Init(ctx context.Context) error {
	_, err := w.call(ctx, message{Kind: kindInit})
	return err
}

// Render hands the surface to a pool worker. The caller must not touch the
// surface until Render returns, and must discard it if Render returns a
// context error.
func (w *Worker) Render(ctx context.Context, req tile_renderer.RenderRequest) error {
	if req.Surface == nil || req.Surface.Context() == nil {
		return nil
	}
	_, err := w.call(ctx, message{Kind: kindRender, Render: req})
	return err
}

func (w *Worker) Pick(ctx context.Context, req tile_renderer.PickRequest) ([]tile_renderer.FeatureInfo, error) {
	resp, err := w.call(ctx, message{Kind: kindPick, Pick: req})
	if err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// Dispose refuses new calls, waits for calls in progress, then stops routing
// responses. If ctx ends first the remaining calls are abandoned.
func (w *Worker) Dispose(ctx context.Context) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil
	}
	w.disposed = true
	w.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		w.calls.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(w.done)
	return err
}

// remoteError restores the sentinel errors that callers test for.
func remoteError(msg string) error {
	for _, err := range []error{ErrDisposed, tile.ErrMissingURL} {
		if msg == err.Error() {
			return err
		}
	}
	return errors.New(msg)
}
