package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"unsbroker/eventbus"
	"unsbroker/topicstore"
)

func TestCoalescesBurstIntoSingleNotification(t *testing.T) {
	bus := eventbus.New(nil)
	topics := topicstore.NewMemStore()

	var mu sync.Mutex
	var received []eventbus.TopicStructureChanged
	eventbus.Subscribe(bus, func(ctx context.Context, ev eventbus.TopicStructureChanged) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	c := New(topics, bus, nil, WithCoalesceWindow(30*time.Millisecond))
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		topics.Save(ctx, &topicstore.TopicConfiguration{Topic: "t"})
		eventbus.Publish(ctx, bus, eventbus.NewTopicAdded("t"))
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	n := len(received)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("received %d TopicStructureChanged notifications, want 1 for a coalesced burst", n)
	}
}

func TestMergesToSmallestCoveringChangeKind(t *testing.T) {
	bus := eventbus.New(nil)
	topics := topicstore.NewMemStore()

	var mu sync.Mutex
	var got eventbus.TopicStructureChanged
	eventbus.Subscribe(bus, func(ctx context.Context, ev eventbus.TopicStructureChanged) {
		mu.Lock()
		got = ev
		mu.Unlock()
	})

	c := New(topics, bus, nil, WithCoalesceWindow(30*time.Millisecond))
	defer c.Close()

	ctx := context.Background()
	eventbus.Publish(ctx, bus, eventbus.NewTopicVerified("t1", "alice"))
	eventbus.Publish(ctx, bus, eventbus.NewTopicAdded("t2"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	kind := got.ChangeType
	mu.Unlock()
	if kind != eventbus.TopicsAdded {
		t.Fatalf("ChangeType = %v, want TopicsAdded (it ranks above TopicsUpdated)", kind)
	}
}

func TestNamespaceStructureChangeTriggersFullRefresh(t *testing.T) {
	bus := eventbus.New(nil)
	topics := topicstore.NewMemStore()

	done := make(chan eventbus.TopicChangeType, 1)
	eventbus.Subscribe(bus, func(ctx context.Context, ev eventbus.TopicStructureChanged) {
		done <- ev.ChangeType
	})

	c := New(topics, bus, nil, WithCoalesceWindow(10*time.Millisecond))
	defer c.Close()

	eventbus.Publish(context.Background(), bus, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceDeleted, "n1"))

	select {
	case kind := <-done:
		if kind != eventbus.TopicsNamespaceChanged {
			t.Fatalf("ChangeType = %v, want TopicsNamespaceChanged", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced notification")
	}
}
