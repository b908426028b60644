package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishDispatchesToAllSubscribersOfType(t *testing.T) {
	b := New(nil)
	var got int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		Subscribe(b, func(ctx context.Context, ev TopicAdded) {
			defer wg.Done()
			atomic.AddInt32(&got, 1)
		})
	}

	Publish(context.Background(), b, NewTopicAdded("a/b/c"))
	wg.Wait()

	if got != 3 {
		t.Fatalf("got %d deliveries, want 3", got)
	}
}

func TestPublishIsTypeScoped(t *testing.T) {
	b := New(nil)
	var topicAddedCount, verifiedCount int32
	Subscribe(b, func(ctx context.Context, ev TopicAdded) {
		atomic.AddInt32(&topicAddedCount, 1)
	})
	Subscribe(b, func(ctx context.Context, ev TopicVerified) {
		atomic.AddInt32(&verifiedCount, 1)
	})

	Publish(context.Background(), b, NewTopicAdded("a"))

	if topicAddedCount != 1 {
		t.Errorf("topicAddedCount = %d, want 1", topicAddedCount)
	}
	if verifiedCount != 0 {
		t.Errorf("verifiedCount = %d, want 0", verifiedCount)
	}
}

func TestPublishSurvivesHandlerPanic(t *testing.T) {
	b := New(nil)
	var ran int32
	Subscribe(b, func(ctx context.Context, ev TopicAdded) {
		panic("boom")
	})
	Subscribe(b, func(ctx context.Context, ev TopicAdded) {
		atomic.AddInt32(&ran, 1)
	})

	done := make(chan struct{})
	go func() {
		Publish(context.Background(), b, NewTopicAdded("a"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return after a handler panicked")
	}

	if ran != 1 {
		t.Errorf("sibling handler ran %d times, want 1", ran)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	var count int32
	id := Subscribe(b, func(ctx context.Context, ev TopicAdded) {
		atomic.AddInt32(&count, 1)
	})

	Publish(context.Background(), b, NewTopicAdded("a"))
	Unsubscribe[TopicAdded](b, id)
	Publish(context.Background(), b, NewTopicAdded("a"))

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestPublishBoundsParallelism(t *testing.T) {
	b := New(nil, WithParallelism(2))
	var cur, max int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		Subscribe(b, func(ctx context.Context, ev TopicAdded) {
			defer wg.Done()
			n := atomic.AddInt32(&cur, 1)
			for {
				m := atomic.LoadInt32(&max)
				if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&cur, -1)
		})
	}

	Publish(context.Background(), b, NewTopicAdded("a"))
	wg.Wait()

	if max > 2 {
		t.Errorf("observed %d concurrent handlers, want <= 2", max)
	}
}
