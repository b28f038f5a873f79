package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/learnhub/messaging-service/internal/events"
)

// Watch is a live query. Every change notice on its topic triggers a fresh
// query whose full result is delivered on Updates. Snapshots are delivered
// in query order and bursts of notices fold into a single re-query.
type Watch[T any] struct {
	updates chan T
	sub     events.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
	logger  *zap.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// startWatch takes ownership of sub. The first snapshot is queried
// immediately; sub must already be registered so no change is missed between
// that query and the first notice.
func startWatch[T any](ctx context.Context, sub events.Subscription, load func(context.Context) (T, error), logger *zap.Logger, release func()) *Watch[T] {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch[T]{
		updates: make(chan T),
		sub:     sub,
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
		logger:  logger,
	}
	go w.run(ctx, load)
	return w
}

// Updates returns the snapshot stream. It is closed when the watch stops,
// either through Close, context cancellation or a failed query.
func (w *Watch[T]) Updates() <-chan T { return w.updates }

// Err reports the query failure that stopped the watch, if any.
func (w *Watch[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Done is closed once the watch goroutine has exited.
func (w *Watch[T]) Done() <-chan struct{} { return w.done }

// Close stops delivery and releases the feed subscription. No snapshot is
// delivered after Close returns. It is safe to call more than once.
func (w *Watch[T]) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
		if err := w.sub.Close(); err != nil {
			w.logger.Warn("close feed subscription", zap.Error(err))
		}
		if w.release != nil {
			w.release()
		}
	})
}

func (w *Watch[T]) run(ctx context.Context, load func(context.Context) (T, error)) {
	defer close(w.done)
	defer close(w.updates)

	dirty := true
	for {
		if !dirty {
			select {
			case <-ctx.Done():
				return
			case <-w.sub.C():
			}
		}
		dirty = false

		snapshot, err := load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			w.logger.Warn("watch query failed", zap.Error(err))
			return
		}

		select {
		case w.updates <- snapshot:
		case <-ctx.Done():
			return
		}
	}
}
