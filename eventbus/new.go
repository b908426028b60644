package eventbus

import "github.com/satori/uuid"

// newID returns a freshly-generated EventID. The NewXxx constructors below
// stamp it, together with the current time, onto each event's base, so
// producers never set base fields directly, e.g.:
//
//	eventbus.Publish(ctx, bus, eventbus.NewTopicAdded(topic))
func newID() string {
	return uuid.NewV4().String()
}

// NewTopicAdded constructs a TopicAdded event.
func NewTopicAdded(topic string) TopicAdded {
	return TopicAdded{base: newBase(newID()), Topic: topic}
}

// NewTopicDataUpdated constructs a TopicDataUpdated event.
func NewTopicDataUpdated(topic string) TopicDataUpdated {
	return TopicDataUpdated{base: newBase(newID()), Topic: topic}
}

// NewTopicVerified constructs a TopicVerified event.
func NewTopicVerified(topic, by string) TopicVerified {
	return TopicVerified{base: newBase(newID()), Topic: topic, By: by}
}

// NewTopicConfigurationUpdated constructs a TopicConfigurationUpdated event.
func NewTopicConfigurationUpdated(topic string) TopicConfigurationUpdated {
	return TopicConfigurationUpdated{base: newBase(newID()), Topic: topic}
}

// NewBulkTopicsAdded constructs a BulkTopicsAdded event.
func NewBulkTopicsAdded(topics []string) BulkTopicsAdded {
	return BulkTopicsAdded{base: newBase(newID()), Topics: topics}
}

// NewTopicAutoMapped constructs a TopicAutoMapped event.
func NewTopicAutoMapped(topic string, confidence float64) TopicAutoMapped {
	return TopicAutoMapped{base: newBase(newID()), Topic: topic, Confidence: confidence}
}

// NewTopicAutoMappingFailed constructs a TopicAutoMappingFailed event.
func NewTopicAutoMappingFailed(topic, reason string) TopicAutoMappingFailed {
	return TopicAutoMappingFailed{base: newBase(newID()), Topic: topic, Reason: reason}
}

// NewNamespaceStructureChanged constructs a NamespaceStructureChanged event.
func NewNamespaceStructureChanged(change NamespaceChangeType, nodeID string) NamespaceStructureChanged {
	return NamespaceStructureChanged{base: newBase(newID()), ChangeType: change, NodeID: nodeID}
}

// NewTopicStructureChanged constructs a TopicStructureChanged event.
func NewTopicStructureChanged(change TopicChangeType, topics []string) TopicStructureChanged {
	return TopicStructureChanged{base: newBase(newID()), ChangeType: change, Topics: topics}
}
