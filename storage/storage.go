// Package storage implements the Data Storage Fan-out (C8): Sink.Handle
// writes the latest value to a realtime store, forwarding to a historical
// sink when one is configured. The Sink does not subscribe to the event
// bus; unsbrokerd calls Handle for each DataPoint and publishes
// TopicDataUpdated after it.
package storage

import (
	"context"
	"sync"

	"unsbroker/datapoint"

	"go.uber.org/zap"
)

// RealtimeValueStore is the external, latest-value-per-topic contract.
type RealtimeValueStore interface {
	GetLatest(ctx context.Context, topic string) (*datapoint.DataPoint, bool)
	SetLatest(ctx context.Context, dp *datapoint.DataPoint)
}

// HistoricalStore is the external, fire-and-forget append contract.
// Failures are logged only; they never block or fail the realtime write.
type HistoricalStore interface {
	Append(ctx context.Context, dp *datapoint.DataPoint) error
}

// Sink fans inbound DataPoints out to the realtime store and, if
// configured, the historical store.
type Sink struct {
	realtime   RealtimeValueStore
	historical HistoricalStore
	log        *zap.SugaredLogger
}

// New wires a Sink. historical may be nil.
func New(realtime RealtimeValueStore, historical HistoricalStore, log *zap.SugaredLogger) *Sink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sink{realtime: realtime, historical: historical, log: log}
}

// Handle writes dp to the realtime store and, if configured, appends it to
// the historical store. It never panics or returns an error -- unsbrokerd
// calls it directly from its data-point loop, and errors from the
// historical append are logged only, per the fire-and-forget contract.
func (s *Sink) Handle(ctx context.Context, dp *datapoint.DataPoint) {
	s.realtime.SetLatest(ctx, dp)
	if s.historical == nil {
		return
	}
	if err := s.historical.Append(ctx, dp); err != nil {
		s.log.Errorw("historical append failed", "topic", dp.Topic, "error", err)
	}
}

// MemRealtimeValueStore is an in-memory RealtimeValueStore, used for tests
// and for standalone operation without an external realtime database.
type MemRealtimeValueStore struct {
	mu     sync.Mutex
	latest map[string]*datapoint.DataPoint
}

// NewMemRealtimeValueStore creates an empty MemRealtimeValueStore.
func NewMemRealtimeValueStore() *MemRealtimeValueStore {
	return &MemRealtimeValueStore{latest: make(map[string]*datapoint.DataPoint)}
}

// GetLatest implements RealtimeValueStore.
func (s *MemRealtimeValueStore) GetLatest(ctx context.Context, topic string) (*datapoint.DataPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dp, ok := s.latest[topic]
	return dp, ok
}

// SetLatest implements RealtimeValueStore. It deduplicates by topic: a
// write for a topic always replaces that topic's prior entry, never
// appending a second record.
func (s *MemRealtimeValueStore) SetLatest(ctx context.Context, dp *datapoint.DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[dp.Topic] = dp
}
