// Package eventbus implements the in-process pub/sub fabric (C4) that is the
// only inter-component channel in the broker: components never hold direct
// references to one another, they only publish and subscribe here.
package eventbus

import (
	"context"
	"reflect"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"unsbroker/metrics"
)

// Handler is invoked once per published event of the subscribed type. A
// Handler must not block indefinitely; the bus makes no ordering promise
// across different events, and calls handlers for a single event in
// parallel, bounded by the bus's dispatch width.
type Handler[T Event] func(ctx context.Context, ev T)

type anyHandler struct {
	id string
	fn func(ctx context.Context, ev Event)
}

// Bus is an in-process publish/subscribe dispatcher. A single Publish call
// fans out to every subscriber of that event's concrete type concurrently,
// bounded by a semaphore of configurable width, and returns only once every
// handler has completed or failed. Handler panics and errors are caught and
// logged; they never propagate to the publisher or to sibling handlers.
type Bus struct {
	log *zap.SugaredLogger
	sem *semaphore.Weighted

	mu       sync.Mutex // guards subs; dispatch takes a copy-on-write snapshot
	subs     map[reflect.Type][]anyHandler
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithParallelism overrides the default dispatch width (runtime.NumCPU()).
func WithParallelism(p int) Option {
	return func(b *Bus) { b.sem = semaphore.NewWeighted(int64(p)) }
}

// New creates an event Bus. log may be nil, in which case a no-op logger is
// used.
func New(log *zap.SugaredLogger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Bus{
		log:  log,
		sem:  semaphore.NewWeighted(int64(runtime.NumCPU())),
		subs: make(map[reflect.Type][]anyHandler),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func typeOf[T Event]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

// Subscribe registers handler for every event of type T published after
// this call. It returns a subscription id usable with Unsubscribe.
func Subscribe[T Event](b *Bus, handler Handler[T]) string {
	id := newID()
	wrapped := func(ctx context.Context, ev Event) {
		handler(ctx, ev.(T))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeOf[T]()
	// copy-on-write: never mutate the slice handed out to a concurrent
	// dispatch snapshot.
	existing := b.subs[t]
	next := make([]anyHandler, len(existing), len(existing)+1)
	copy(next, existing)
	next = append(next, anyHandler{id: id, fn: wrapped})
	b.subs[t] = next
	return id
}

// Unsubscribe removes a previously registered handler for event type T.
func Unsubscribe[T Event](b *Bus, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeOf[T]()
	existing := b.subs[t]
	next := make([]anyHandler, 0, len(existing))
	for _, h := range existing {
		if h.id != id {
			next = append(next, h)
		}
	}
	b.subs[t] = next
}

// Publish dispatches ev to every subscriber of its concrete type in
// parallel, bounded by the bus's dispatch width, and blocks until all have
// completed (or failed). A canceled ctx still lets in-flight handlers run to
// completion; it only prevents new ones from acquiring a dispatch slot.
func Publish(ctx context.Context, b *Bus, ev Event) {
	b.mu.Lock()
	handlers := b.subs[reflect.TypeOf(ev)]
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		h := h
		if err := b.sem.Acquire(ctx, 1); err != nil {
			b.log.Warnw("eventbus: dropping handler, context canceled", "event", reflect.TypeOf(ev), "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					metrics.Metrics.EventHandlerPanics.Inc()
					b.log.Errorw("eventbus: handler panicked", "event", reflect.TypeOf(ev), "subscriber", h.id, "panic", r)
				}
			}()
			metrics.Metrics.EventsDispatched.Inc()
			h.fn(ctx, ev)
		}()
	}
	wg.Wait()
}
