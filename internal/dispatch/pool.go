package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultSize is half the CPUs, rounded up.
func DefaultSize() int {
	return (runtime.NumCPU() + 1) / 2
}

// Pool is a fixed set of worker goroutines reading from one queue. Each worker
// keeps its own renderers; nothing is shared between workers.
type Pool struct {
	logger *zap.Logger
	size   int

	mu     sync.RWMutex
	closed bool
	inbox  chan message

	admitted atomic.Int64
	queued   atomic.Int64
	tasks    sync.WaitGroup
	workers  sync.WaitGroup
	abandon  atomic.Bool
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{
		logger: logger,
		size:   size,
		inbox:  make(chan message, size*4),
	}
	for i := 0; i < size; i++ {
		w := newWorker(i, logger.With(zap.Int("worker", i)))
		p.workers.Add(1)
		go p.run(w)
	}
	logger.Info("Worker pool started", zap.Int("workers", size))
	return p
}

var (
	sharedMu   sync.Mutex
	sharedPool *Pool
	sharedRefs int
)

// Acquire returns the process-wide pool, starting it on first use. Every
// Acquire must be paired with a Release.
func Acquire(size int, logger *zap.Logger) *Pool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedPool == nil {
		sharedPool = NewPool(size, logger)
	}
	sharedRefs++
	return sharedPool
}

// Release drops one reference to the process-wide pool and shuts it down
// when none remain.
func (p *Pool) Release(ctx context.Context) error {
	sharedMu.Lock()
	if p != sharedPool {
		sharedMu.Unlock()
		return p.Shutdown(ctx)
	}
	sharedRefs--
	last := sharedRefs == 0
	if last {
		sharedPool = nil
	}
	sharedMu.Unlock()

	if !last {
		return nil
	}
	return p.Shutdown(ctx)
}

func (p *Pool) Size() int {
	return p.size
}

// TryAdmit takes one task slot if fewer than limit are taken. The slot is
// returned with Done.
func (p *Pool) TryAdmit(limit int) bool {
	for {
		n := p.admitted.Load()
		if n >= int64(limit) {
			return false
		}
		if p.admitted.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool) Done() {
	p.admitted.Add(-1)
}

// Admitted is the number of slots currently taken.
func (p *Pool) Admitted() int {
	return int(p.admitted.Load())
}

func (p *Pool) submit(msg message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDisposed
	}
	p.tasks.Add(1)
	p.queued.Add(1)
	p.inbox <- msg
	return nil
}

// Queued is the number of messages submitted and not yet answered.
func (p *Pool) Queued() int {
	return int(p.queued.Load())
}

func (p *Pool) run(w *worker) {
	defer p.workers.Done()
	for msg := range p.inbox {
		var resp response
		if p.abandon.Load() {
			resp = response{Kind: respError, ID: msg.ID, Error: ErrDisposed.Error()}
		} else {
			resp = w.handle(msg)
		}
		select {
		case msg.reply <- resp:
		case <-msg.done:
		}
		p.queued.Add(-1)
		p.tasks.Done()
	}
}

// Shutdown stops accepting work, waits for queued and running tasks, then
// stops the workers. If ctx ends first, queued tasks are answered with
// ErrDisposed, running tasks are left to finish on their own and ctx.Err()
// is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.tasks.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		p.abandon.Store(true)
		err = ctx.Err()
		p.logger.Warn("Worker pool shutdown abandoned queued tasks", zap.Error(err))
	}
	close(p.inbox)
	if err == nil {
		p.workers.Wait()
		p.logger.Info("Worker pool stopped")
	}
	return err
}
