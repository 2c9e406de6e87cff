package pathdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type LifecycleState int

const (
	StateInitializing LifecycleState = iota
	StateReady
	StateFailed
)

func (s LifecycleState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("invalid state %d", int(s))
	}
}

type LifecycleOptions struct {
	// FailFast makes operations return ErrNotReady while initializing
	// instead of waiting.
	FailFast bool
	Logger   *zap.Logger
}

// LazyBackend is a Backend whose underlying implementation is still being
// set up (tables provisioned, schema verified). Operations wait for the setup
// to finish, or fail fast if so configured. A failed setup is permanent.
type LazyBackend struct {
	failFast bool
	ready    chan struct{}

	mu      sync.RWMutex
	state   LifecycleState
	backend Backend
	err     error
}

var _ Backend = (*LazyBackend)(nil)

// Initialize starts initFn in the background and returns immediately.
func Initialize(ctx context.Context, initFn func(ctx context.Context) (Backend, error), opt LifecycleOptions) *LazyBackend {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lb := &LazyBackend{
		failFast: opt.FailFast,
		ready:    make(chan struct{}),
	}
	go func() {
		start := time.Now()
		backend, err := initFn(ctx)
		if err == nil && backend == nil {
			err = fmt.Errorf("backend initializer returned nothing")
		}

		lb.mu.Lock()
		if err != nil {
			lb.state, lb.err = StateFailed, err
		} else {
			lb.state, lb.backend = StateReady, backend
		}
		lb.mu.Unlock()
		close(lb.ready)

		if err != nil {
			logger.Error("backend initialization failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		} else {
			logger.Info("backend ready", zap.Duration("elapsed", time.Since(start)))
		}
	}()
	return lb
}

func (lb *LazyBackend) State() LifecycleState {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.state
}

// Ready is closed once initialization has finished, successfully or not.
func (lb *LazyBackend) Ready() <-chan struct{} {
	return lb.ready
}

// Wait blocks until initialization finishes and returns its error.
func (lb *LazyBackend) Wait(ctx context.Context) error {
	_, err := lb.wait(ctx, false)
	return err
}

func (lb *LazyBackend) wait(ctx context.Context, failFast bool) (Backend, error) {
	if failFast {
		select {
		case <-lb.ready:
		default:
			return nil, ErrNotReady
		}
	} else {
		select {
		case <-lb.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.backend, lb.err
}

func (lb *LazyBackend) acquire(ctx context.Context) (Backend, error) {
	return lb.wait(ctx, lb.failFast)
}

func (lb *LazyBackend) ScanAll(ctx context.Context) ([]*Document, error) {
	b, err := lb.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.ScanAll(ctx)
}

func (lb *LazyBackend) QueryByPath(ctx context.Context, path string) ([]*Document, error) {
	b, err := lb.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.QueryByPath(ctx, path)
}

func (lb *LazyBackend) QueryByPathValue(ctx context.Context, path string, value Value) ([]*Document, error) {
	b, err := lb.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.QueryByPathValue(ctx, path, value)
}

func (lb *LazyBackend) QueryHistory(ctx context.Context, id string, prefix string) ([]*HistoryRecord, error) {
	b, err := lb.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.QueryHistory(ctx, id, prefix)
}

func (lb *LazyBackend) Persist(ctx context.Context, doc *Document, diffs Diffs, at time.Time) (*Document, error) {
	b, err := lb.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.Persist(ctx, doc, diffs, at)
}

// Close waits for initialization to finish and closes the backend, if any.
func (lb *LazyBackend) Close() error {
	<-lb.ready
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if lb.backend == nil {
		return nil
	}
	return lb.backend.Close()
}
