// Package browser implements the Cached Topic Browser (C11): it subscribes
// to the topic and namespace event streams, coalesces bursts within a short
// window, and emits a single TopicStructureChanged per burst carrying the
// smallest change kind that covers everything seen during it.
package browser

import (
	"context"
	"sync"
	"time"

	"unsbroker/eventbus"
	"unsbroker/topicstore"

	"go.uber.org/zap"
)

const defaultCoalesceWindow = 200 * time.Millisecond

// Cache mirrors topicstore.Store for read access and coalesces the
// underlying mutation events into infrequent, batched notifications so UI
// consumers never see per-event churn.
type Cache struct {
	topics topicstore.Store
	bus    *eventbus.Bus
	log    *zap.SugaredLogger
	window time.Duration

	subIDs []subHandle

	mu      sync.Mutex
	pending map[string]struct{} // topics touched since the last flush
	kind    eventbus.TopicChangeType
	dirty   bool
	timer   *time.Timer
}

type subHandle struct {
	unsub func()
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithCoalesceWindow overrides the default 200ms coalescing window.
func WithCoalesceWindow(d time.Duration) Option {
	return func(c *Cache) { c.window = d }
}

// New creates a Cache backed by topics and wires it to bus. It begins
// listening immediately; call Close to unsubscribe.
func New(topics topicstore.Store, bus *eventbus.Bus, log *zap.SugaredLogger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Cache{
		topics:  topics,
		bus:     bus,
		log:     log,
		window:  defaultCoalesceWindow,
		pending: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.subscribe()
	return c
}

func (c *Cache) subscribe() {
	if c.bus == nil {
		return
	}
	id := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.TopicAdded) {
		c.note(ev.Topic, eventbus.TopicsAdded)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.TopicAdded](c.bus, id) }})

	id2 := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.BulkTopicsAdded) {
		c.noteMany(ev.Topics, eventbus.TopicsAdded)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.BulkTopicsAdded](c.bus, id2) }})

	id3 := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.TopicConfigurationUpdated) {
		c.note(ev.Topic, eventbus.TopicsUpdated)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.TopicConfigurationUpdated](c.bus, id3) }})

	id4 := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.TopicVerified) {
		c.note(ev.Topic, eventbus.TopicsUpdated)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.TopicVerified](c.bus, id4) }})

	id5 := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.TopicAutoMapped) {
		c.note(ev.Topic, eventbus.TopicsAutoMapped)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.TopicAutoMapped](c.bus, id5) }})

	id6 := eventbus.Subscribe(c.bus, func(ctx context.Context, ev eventbus.NamespaceStructureChanged) {
		c.noteFullRefresh(eventbus.TopicsNamespaceChanged)
	})
	c.subIDs = append(c.subIDs, subHandle{unsub: func() { eventbus.Unsubscribe[eventbus.NamespaceStructureChanged](c.bus, id6) }})
}

// Close unsubscribes from the event bus. It does not flush a pending burst.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	for _, h := range c.subIDs {
		h.unsub()
	}
}

// rank orders change kinds from least to most encompassing, so a burst
// mixing several kinds collapses to the smallest one covering them all.
func rank(k eventbus.TopicChangeType) int {
	switch k {
	case eventbus.TopicsUpdated:
		return 0
	case eventbus.TopicsAutoMapped:
		return 1
	case eventbus.TopicsAdded:
		return 2
	case eventbus.TopicsRemoved:
		return 3
	case eventbus.TopicsNamespaceChanged:
		return 4
	case eventbus.TopicsFullRefresh:
		return 5
	default:
		return 5
	}
}

func (c *Cache) note(topic string, kind eventbus.TopicChangeType) {
	c.noteMany([]string{topic}, kind)
}

func (c *Cache) noteMany(topics []string, kind eventbus.TopicChangeType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.pending[t] = struct{}{}
	}
	c.mergeKindLocked(kind)
	c.armLocked()
}

// noteFullRefresh records a burst that invalidates the whole cache (e.g. a
// namespace-tree cascade delete), rather than a bounded set of topics.
func (c *Cache) noteFullRefresh(kind eventbus.TopicChangeType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeKindLocked(kind)
	c.armLocked()
}

func (c *Cache) mergeKindLocked(kind eventbus.TopicChangeType) {
	if !c.dirty || rank(kind) > rank(c.kind) {
		c.kind = kind
	}
	c.dirty = true
}

func (c *Cache) armLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.window, c.flush)
}

func (c *Cache) flush() {
	c.mu.Lock()
	if !c.dirty {
		c.timer = nil
		c.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(c.pending))
	for t := range c.pending {
		topics = append(topics, t)
	}
	kind := c.kind
	c.pending = make(map[string]struct{})
	c.dirty = false
	c.timer = nil
	c.mu.Unlock()

	eventbus.Publish(context.Background(), c.bus, eventbus.NewTopicStructureChanged(kind, topics))
}

// GetAll returns every topic configuration, verified or not, straight
// through to the backing store -- the Cache coalesces change
// notifications, it does not itself cache the topic list.
func (c *Cache) GetAll(ctx context.Context, onlyVerified bool) ([]*topicstore.TopicConfiguration, error) {
	return c.topics.GetAll(ctx, onlyVerified)
}

// Get returns one topic configuration by topic string.
func (c *Cache) Get(ctx context.Context, topic string) (*topicstore.TopicConfiguration, error) {
	return c.topics.Get(ctx, topic)
}
