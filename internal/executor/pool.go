package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/python-sandbox/internal/metrics"
)

// Pool hands out Workers to callers one at a time.
//
// A Worker runs a single request at a time. Rather than asking every caller
// to serialize its calls, the pool gives each concurrent call its own
// Worker: a caller borrows a Worker from the idle channel, runs, and puts it
// back. When every Worker is busy, callers wait (or give up when their
// context ends).
type Pool struct {
	logger  *slog.Logger
	workers []*Worker
	idle    chan *Worker

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Runner = (*Pool)(nil)

// ErrPoolClosed is returned by Run after Close.
var ErrPoolClosed = errors.New("executor: pool is closed")

// NewPool creates size Workers sharing one Launcher.
func NewPool(size int, launcher Launcher, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("executor: pool size must be at least 1, got %d", size)
	}

	p := &Pool{
		logger:  logger,
		workers: make([]*Worker, 0, size),
		idle:    make(chan *Worker, size),
		done:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		w := NewWorker(fmt.Sprintf("worker-%d", i), launcher, logger)
		p.workers = append(p.workers, w)
		p.idle <- w
	}
	return p, nil
}

// Size returns the number of Workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run borrows an idle Worker and runs req on it.
func (p *Pool) Run(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	w, err := p.borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	return w.Run(ctx, req)
}

// Warm launches every Worker's context in the background so the first
// requests skip interpreter start-up. Failures are logged; the Worker will
// try again on its first Run.
func (p *Pool) Warm(ctx context.Context) {
	p.logger.Info("warming execution contexts", slog.Int("poolSize", len(p.workers)))
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()

			warmCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-p.done:
					cancel()
				case <-warmCtx.Done():
				}
			}()

			if err := w.Warm(warmCtx); err != nil {
				p.logger.Warn("failed to warm execution context",
					slog.String("worker", w.name),
					slog.String("error", err.Error()),
				)
			}
		}(w)
	}
}

// Close stops warm-up and terminates every Worker's context. Workers that
// are mid-run finish (or time out) first because Close takes each
// Worker's lock.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.logger.Info("shutting down execution pool")
		close(p.done)
		p.wg.Wait()
		for _, w := range p.workers {
			w.Close()
		}
	})
}

func (p *Pool) borrow(ctx context.Context) (*Worker, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case w := <-p.idle:
		return w, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("executor: waiting for an idle worker: %w", ctx.Err())
	}
}

func (p *Pool) release(w *Worker) {
	p.idle <- w
}
