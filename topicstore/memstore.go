package topicstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store, used for tests and for standalone
// operation without a configured Postgres connection. It is guarded by a
// single mutex; Save replays under the same lock so two racing writers for
// the same topic never observe a conflict -- there is nothing to replay
// against since the whole operation is serialized.
type MemStore struct {
	mu   sync.Mutex
	byID map[string]*TopicConfiguration
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*TopicConfiguration)}
}

func clone(cfg *TopicConfiguration) *TopicConfiguration {
	c := *cfg
	return &c
}

// Get implements Store.
func (m *MemStore) Get(ctx context.Context, topic string) (*TopicConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.byID[topic]
	if !ok || !cfg.IsActive {
		return nil, NotFoundError{Topic: topic}
	}
	return clone(cfg), nil
}

// Save implements Store's upsert contract.
func (m *MemStore) Save(ctx context.Context, cfg *TopicConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	existing, ok := m.byID[cfg.Topic]
	out := clone(cfg)
	if ok {
		out.CreatedAt = existing.CreatedAt
	} else {
		out.CreatedAt = now
	}
	out.ModifiedAt = now
	out.IsActive = true
	m.byID[cfg.Topic] = out
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, topic)
	return nil
}

// GetAll implements Store.
func (m *MemStore) GetAll(ctx context.Context, verifiedOnly bool) ([]*TopicConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TopicConfiguration
	for _, cfg := range m.byID {
		if !cfg.IsActive {
			continue
		}
		if verifiedOnly && !cfg.IsVerified {
			continue
		}
		out = append(out, clone(cfg))
	}
	return out, nil
}

// GetUnverified implements Store.
func (m *MemStore) GetUnverified(ctx context.Context) ([]*TopicConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TopicConfiguration
	for _, cfg := range m.byID {
		if cfg.IsActive && !cfg.IsVerified {
			out = append(out, clone(cfg))
		}
	}
	return out, nil
}

// Verify implements Store.
func (m *MemStore) Verify(ctx context.Context, topic, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.byID[topic]
	if !ok {
		return NotFoundError{Topic: topic}
	}
	cfg.IsVerified = true
	cfg.CreatedBy = by
	cfg.ModifiedAt = time.Now()
	return nil
}

// ClearNamespacePath implements Store.
func (m *MemStore) ClearNamespacePath(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var touched []string
	for topic, cfg := range m.byID {
		if cfg.NSPath == prefix || strings.HasPrefix(cfg.NSPath, prefix+"/") {
			cfg.NSPath = ""
			cfg.ModifiedAt = time.Now()
			touched = append(touched, topic)
		}
	}
	return touched, nil
}
