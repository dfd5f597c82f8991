package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/pdfjson/internal/ir"
)

// ErrLoaderClosed is the cause reported by Acquire after Close.
var ErrLoaderClosed = errors.New("engine loader closed")

// Loader memoizes engine instantiation for the lifetime of a session.
//
// Thread-safety: all methods are safe for concurrent use.
type Loader struct {
	factory Factory
	logger  *slog.Logger
	group   singleflight.Group

	mu     sync.Mutex
	done   bool
	closed bool
	handle Handle
	err    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger. Default: slog.Default().
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Loader that instantiates engines with factory.
// Nothing is instantiated until the first Acquire.
func NewLoader(factory Factory, opts ...LoaderOption) *Loader {
	l := &Loader{
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire returns the session's engine handle, instantiating it on first use.
//
// Every caller receives the same handle. Callers that arrive while the first
// instantiation is running wait for it rather than starting another. If ctx
// ends while waiting, Acquire returns ctx.Err() but the instantiation keeps
// running for the remaining waiters.
//
// A failed instantiation returns an *ir.Failure of kind
// KindEngineUnavailable, now and on every later call.
func (l *Loader) Acquire(ctx context.Context) (Handle, error) {
	if h, ok, err := l.cached(); ok {
		return h, err
	}

	// The flight outlives any single caller's context.
	flightCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("engine", func() (any, error) {
		// A previous flight may have finished between cached() and DoChan.
		if h, ok, err := l.cached(); ok {
			return h, err
		}
		h, err := l.instantiate(flightCtx)

		l.mu.Lock()
		if l.closed {
			// Close ran while we were instantiating; nobody owns h.
			closedErr := l.err
			l.mu.Unlock()
			if h != nil {
				if cerr := h.Close(); cerr != nil {
					l.logger.Warn("close engine instantiated after loader close", "error", cerr)
				}
			}
			return nil, closedErr
		}
		l.done = true
		l.handle = h
		l.err = err
		l.mu.Unlock()

		return h, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		h, _ := res.Val.(Handle)
		return h, res.Err
	}
}

// Loaded reports whether instantiation has completed, successfully or not.
func (l *Loader) Loaded() bool {
	_, ok, _ := l.cached()
	return ok
}

// Close releases the handle if one was instantiated. Later Acquire calls
// fail with KindEngineUnavailable. An instantiation still running when Close
// is called is closed as soon as it finishes.
func (l *Loader) Close() error {
	l.mu.Lock()
	h := l.handle
	l.done = true
	l.closed = true
	l.handle = nil
	l.err = &ir.Failure{
		Kind:    ir.KindEngineUnavailable,
		Message: "engine released",
		Err:     ErrLoaderClosed,
	}
	l.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

func (l *Loader) cached() (Handle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle, l.done, l.err
}

func (l *Loader) instantiate(ctx context.Context) (Handle, error) {
	l.logger.Debug("instantiating engine")

	h, err := l.factory(ctx)
	if err == nil && h == nil {
		err = errors.New("factory returned no handle")
	}
	if err != nil {
		l.logger.Error("engine unavailable", "error", err)
		return nil, &ir.Failure{
			Kind:    ir.KindEngineUnavailable,
			Message: "engine failed to initialize",
			Err:     err,
		}
	}

	l.logger.Info("engine ready")
	return h, nil
}
