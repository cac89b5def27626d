package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sakif/python-sandbox/internal/metrics"
)

// Worker owns at most one isolated execution context and runs requests in it
// one at a time.
//
// CONTEXT LIFECYCLE:
//
//	absent ──first Run──▶ live ──success──▶ live (reused)
//	                        │
//	                        └─timeout / cancel / channel error──▶ absent
//
// The context is never repaired in place. Any failure path terminates it and
// drops the handle, so the next Run launches a fresh interpreter and can't
// inherit half-finished state (imports in progress, a spinning thread, a
// corrupted protocol stream).
//
// Workers are independent values: tests can create as many as they like,
// each with its own Launcher.
type Worker struct {
	name     string
	launcher Launcher
	logger   *slog.Logger

	// mu makes Run single-flight. A second caller waits for the first to
	// settle instead of sharing the live context.
	mu     sync.Mutex
	ch     Channel
	closed bool

	launches  atomic.Int64
	teardowns atomic.Int64
}

var _ Runner = (*Worker)(nil)

// ErrWorkerClosed is returned by Run and Warm after Close.
var ErrWorkerClosed = errors.New("executor: worker is closed")

// NewWorker creates a Worker. No interpreter starts until the first Run.
func NewWorker(name string, launcher Launcher, logger *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		launcher: launcher,
		logger:   logger.With(slog.String("worker", name)),
	}
}

// Run executes req in this worker's context and waits at most req.Timeout.
//
// Outcomes:
//   - the context answers in time: its response is returned and the context kept
//   - the timer fires first: the context is killed and a timeout Failure returned
//   - the channel breaks: the context is dropped and a Failure carries the cause
//   - ctx is cancelled, or no context could be launched: an error is returned
func (w *Worker) Run(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("executor: request %s: timeout must be positive", req.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// One context bounds the whole run, launch included. Its cancel func is
	// the timer cancellation on every exit path.
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	ch, err := w.acquire(runCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return timeoutFailure(req), nil
		}
		return nil, fmt.Errorf("executor: launching context: %w", err)
	}

	if err := ch.Post(req); err != nil {
		w.discard(metrics.ReasonChannel, err)
		return Failure(req.ID, err.Error(), ""), nil
	}

	for {
		select {
		case msg, ok := <-ch.Messages():
			if !ok {
				w.discard(metrics.ReasonChannel, ErrChannelClosed)
				return Failure(req.ID, ErrChannelClosed.Error(), ""), nil
			}
			if msg.Err != nil {
				w.discard(metrics.ReasonChannel, msg.Err)
				return Failure(req.ID, msg.Err.Error(), ""), nil
			}
			if msg.Response == nil || msg.Response.ID != req.ID {
				w.logger.Warn("discarding uncorrelated response",
					slog.String("want", req.ID),
					slog.Any("got", responseID(msg.Response)),
				)
				continue
			}
			return msg.Response, nil

		case <-runCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				w.discard(metrics.ReasonCancelled, ctxErr)
				return nil, fmt.Errorf("executor: request %s abandoned: %w", req.ID, ctxErr)
			}
			w.discard(metrics.ReasonTimeout, runCtx.Err())
			return timeoutFailure(req), nil
		}
	}
}

// Warm launches the context ahead of the first request.
func (w *Worker) Warm(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.acquire(ctx)
	return err
}

// Close terminates the live context, if any. A closed Worker launches no
// new contexts; later Runs fail with ErrWorkerClosed.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.ch != nil {
		w.discard(metrics.ReasonShutdown, nil)
	}
}

// Launches reports how many contexts this worker has started.
func (w *Worker) Launches() int64 { return w.launches.Load() }

// Teardowns reports how many contexts this worker has destroyed.
func (w *Worker) Teardowns() int64 { return w.teardowns.Load() }

// acquire returns the live context, launching one if needed.
// Caller must hold w.mu.
func (w *Worker) acquire(ctx context.Context) (Channel, error) {
	if w.closed {
		return nil, ErrWorkerClosed
	}
	if w.ch != nil {
		return w.ch, nil
	}

	ch, err := w.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	w.ch = ch
	w.launches.Add(1)
	metrics.ContextLaunches.Inc()
	w.logger.Debug("execution context launched", slog.Int64("launches", w.launches.Load()))
	return ch, nil
}

// discard kills the live context and forgets it. Caller must hold w.mu.
func (w *Worker) discard(reason string, cause error) {
	ch := w.ch
	w.ch = nil
	if ch == nil {
		return
	}

	if err := ch.Terminate(); err != nil {
		w.logger.Warn("terminating execution context", slog.String("error", err.Error()))
	}
	w.teardowns.Add(1)
	metrics.ContextTeardowns.WithLabelValues(reason).Inc()

	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	w.logger.Info("execution context torn down", attrs...)
}

const timeoutPrefix = "execution timeout after "

func timeoutFailure(req ExecutionRequest) *ExecutionResponse {
	return Failure(req.ID, fmt.Sprintf("%s%dms", timeoutPrefix, req.Timeout.Milliseconds()), "")
}

// IsTimeout reports whether resp is the Failure a Worker produces when the
// timer fires.
func IsTimeout(resp *ExecutionResponse) bool {
	return resp != nil && !resp.OK && strings.HasPrefix(resp.Error, timeoutPrefix)
}

func responseID(resp *ExecutionResponse) any {
	if resp == nil {
		return nil
	}
	return resp.ID
}
