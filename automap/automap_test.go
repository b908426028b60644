package automap

import (
	"context"
	"sync"
	"testing"

	"unsbroker/topicstore"
)

func TestResolveReturnsExistingActiveTopicUnchanged(t *testing.T) {
	ctx := context.Background()
	store := topicstore.NewMemStore()
	store.Save(ctx, &topicstore.TopicConfiguration{Topic: "t1", UNSName: "Enterprise/Site1/x"})

	m, errs := New(store, nil, nil, Config{Enabled: true, MinimumConfidence: 0.5})
	if len(errs) != 0 {
		t.Fatalf("New: %v", errs)
	}
	cfg, err := m.Resolve(ctx, "t1", "mqtt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.UNSName != "Enterprise/Site1/x" {
		t.Errorf("UNSName = %q, want unchanged", cfg.UNSName)
	}
}

func TestResolveAppliesUserRuleBeforeDefaultGenerator(t *testing.T) {
	ctx := context.Background()
	store := topicstore.NewMemStore()
	m, errs := New(store, nil, nil, Config{
		Enabled:           true,
		MinimumConfidence: 0.5,
		Rules: []Rule{
			{Pattern: `^plc/(\w+)/(\w+)$`, Template: "Enterprise/{1}/{2}"},
		},
	})
	if len(errs) != 0 {
		t.Fatalf("New: %v", errs)
	}
	cfg, err := m.Resolve(ctx, "plc/Dallas/Temp", "mqtt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg == nil {
		t.Fatal("Resolve returned nil, want a mapped configuration")
	}
	if cfg.UNSName != "Enterprise/Dallas/Temp" {
		t.Errorf("UNSName = %q, want Enterprise/Dallas/Temp", cfg.UNSName)
	}
	if cfg.IsVerified {
		t.Errorf("auto-mapped topic should be unverified")
	}
}

func TestResolveFallsBackToDefaultGeneratorForEnvelopePrefix(t *testing.T) {
	ctx := context.Background()
	store := topicstore.NewMemStore()
	m, _ := New(store, nil, nil, Config{Enabled: true, MinimumConfidence: 0.5})

	cfg, err := m.Resolve(ctx, "socketio/update/Enterprise/Dallas/Temp", "socketio")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.UNSName != "Enterprise/Dallas/Temp" {
		t.Errorf("UNSName = %q, want Enterprise/Dallas/Temp", cfg.UNSName)
	}
}

func TestResolveBelowMinimumConfidenceDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	store := topicstore.NewMemStore()
	m, _ := New(store, nil, nil, Config{Enabled: true, MinimumConfidence: 0.95})

	cfg, err := m.Resolve(ctx, "raw/topic/here", "mqtt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg != nil {
		t.Errorf("Resolve returned %+v, want nil below MinimumConfidence", cfg)
	}
	if _, err := store.Get(ctx, "raw/topic/here"); err == nil {
		t.Errorf("topic was persisted despite failing the confidence gate")
	}
}

func TestResolveConvergesUnderConcurrentFirstSight(t *testing.T) {
	ctx := context.Background()
	store := topicstore.NewMemStore()
	m, _ := New(store, nil, nil, Config{Enabled: true, MinimumConfidence: 0.5})

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			m.Resolve(ctx, "new/topic/here", "mqtt")
		}()
	}
	wg.Wait()

	all, err := store.GetAll(ctx, false)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	count := 0
	for _, cfg := range all {
		if cfg.Topic == "new/topic/here" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("found %d persisted records, want 1", count)
	}
}
