// Package topicstore implements the durable per-topic record (C3): the
// mapping from a raw source topic to a hierarchical path, display name, and
// verification state.
package topicstore

import (
	"context"
	"time"

	"unsbroker/hierarchy"
)

// TopicConfiguration is the durable record keyed by Topic.
type TopicConfiguration struct {
	Topic            string
	SourceType       string
	HierarchicalPath *hierarchy.Path
	UNSName          string
	NSPath           string
	IsVerified       bool
	IsActive         bool
	CreatedAt        time.Time
	ModifiedAt       time.Time
	CreatedBy        string
	Metadata         map[string]string
}

// NotFoundError is returned when a topic has no persisted record.
type NotFoundError struct {
	Topic string
}

func (e NotFoundError) Error() string {
	return "topicstore: no configuration for topic " + e.Topic
}

// Store is the durable contract for TopicConfiguration. Implementations must
// be transactional per key: Save is an idempotent upsert keyed by Topic, and
// concurrent Saves for the same topic must never surface a unique-key
// conflict to the caller -- the store resolves the race internally.
type Store interface {
	Get(ctx context.Context, topic string) (*TopicConfiguration, error)
	Save(ctx context.Context, cfg *TopicConfiguration) error
	Delete(ctx context.Context, topic string) error
	GetAll(ctx context.Context, verifiedOnly bool) ([]*TopicConfiguration, error)
	GetUnverified(ctx context.Context) ([]*TopicConfiguration, error)
	Verify(ctx context.Context, topic, by string) error
	// ClearNamespacePath nulls NSPath on every active topic whose NSPath
	// starts with prefix (case-sensitive, segment-aligned), as required
	// when a namespace subtree is deleted. It returns the topics touched.
	ClearNamespacePath(ctx context.Context, prefix string) ([]string, error)
}
