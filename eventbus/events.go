package eventbus

import "time"

// Event is implemented by every record that can flow over the Bus. Events
// are immutable once published.
type Event interface {
	EventID() string
	OccurredAt() time.Time
}

// base is embedded by concrete event types to satisfy Event.
type base struct {
	ID string
	At time.Time
}

// EventID returns the event's unique identifier.
func (b base) EventID() string { return b.ID }

// OccurredAt returns the event's timestamp.
func (b base) OccurredAt() time.Time { return b.At }

func newBase(id string) base {
	return base{ID: id, At: time.Now()}
}

// TopicAdded fires the first time a topic is persisted to the
// TopicConfigurationStore.
type TopicAdded struct {
	base
	Topic string
}

// TopicDataUpdated fires whenever an ingress session decomposes a payload
// into a DataPoint for Topic.
type TopicDataUpdated struct {
	base
	Topic string
}

// TopicVerified fires when a human promotes an unverified TopicConfiguration.
type TopicVerified struct {
	base
	Topic string
	By    string
}

// TopicConfigurationUpdated fires on any non-verification mutation of a
// TopicConfiguration.
type TopicConfigurationUpdated struct {
	base
	Topic string
}

// BulkTopicsAdded fires when a batch of topics is persisted in one pass (for
// example, a bulk historical import).
type BulkTopicsAdded struct {
	base
	Topics []string
}

// TopicAutoMapped fires when the auto-mapper successfully resolves and
// persists a new topic.
type TopicAutoMapped struct {
	base
	Topic      string
	Confidence float64
}

// TopicAutoMappingFailed fires when the auto-mapper cannot resolve a topic
// with sufficient confidence, or a candidate mapping is otherwise rejected.
type TopicAutoMappingFailed struct {
	base
	Topic  string
	Reason string
}

// NamespaceChangeType enumerates the kinds of change NamespaceStructureChanged
// can carry.
type NamespaceChangeType int

// Namespace change kinds.
const (
	NamespaceAdded NamespaceChangeType = iota
	NamespaceUpdated
	NamespaceDeleted
)

// NamespaceStructureChanged fires whenever C2 mutates the namespace tree.
type NamespaceStructureChanged struct {
	base
	ChangeType NamespaceChangeType
	NodeID     string
}

// TopicChangeType enumerates the kinds of change TopicStructureChanged can
// carry; C11 emits the smallest matching kind for a burst of underlying
// events.
type TopicChangeType int

// Topic structure change kinds.
const (
	TopicsAdded TopicChangeType = iota
	TopicsUpdated
	TopicsRemoved
	TopicsNamespaceChanged
	TopicsAutoMapped
	TopicsFullRefresh
)

// TopicStructureChanged is the coalesced change notification C11 emits for
// UI consumers.
type TopicStructureChanged struct {
	base
	ChangeType TopicChangeType
	Topics     []string
}
