package modelexport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"unsbroker/connmgr"
	"unsbroker/eventbus"
	"unsbroker/hierarchy"
	"unsbroker/mqttbroker"
	"unsbroker/namespace"
	"unsbroker/topicstore"
)

type recordedPublish struct {
	topic   string
	payload []byte
}

type fakeConn struct {
	mu        sync.Mutex
	published []recordedPublish
}

func (f *fakeConn) Publish(topic string, qos byte, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, recordedPublish{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}
func (f *fakeConn) Subscribe(filter string, qos byte, handler func(mqttbroker.Message)) error { return nil }
func (f *fakeConn) Unsubscribe(filter string) error                                           { return nil }
func (f *fakeConn) IsConnected() bool                                                         { return true }
func (f *fakeConn) Disconnect(quiesce time.Duration)                                          {}

func (f *fakeConn) snapshot() []recordedPublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedPublish, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeConn) topics() map[string]bool {
	out := make(map[string]bool)
	for _, p := range f.snapshot() {
		out[p.topic] = true
	}
	return out
}

func buildTree(t *testing.T) *namespace.Service {
	t.Helper()
	ctx := context.Background()
	store := namespace.NewMemStore()
	topics := topicstore.NewMemStore()
	bus := eventbus.New(nil)
	svc := namespace.NewService(store, topics, hierarchy.NewRegistry(), bus)

	dallas, err := svc.AddHierarchyInstance(ctx, "Dallas", "Site", "", "")
	if err != nil {
		t.Fatalf("AddHierarchyInstance(Dallas): %v", err)
	}
	if _, err := svc.AddNamespace(ctx, "Production", "", dallas.ID); err != nil {
		t.Fatalf("AddNamespace(Production): %v", err)
	}
	return svc
}

func TestPublishAllWritesOneDocumentPerNode(t *testing.T) {
	svc := buildTree(t)
	conn := &fakeConn{}
	p := New(Config{TopicPrefix: "models", ModelAttributeName: "model"}, svc, nil, nil)

	if err := p.publishAll(context.Background(), conn); err != nil {
		t.Fatalf("publishAll: %v", err)
	}

	topics := conn.topics()
	if !topics["models/Dallas/model"] {
		t.Errorf("missing model doc for instance, got topics %v", topics)
	}
	if !topics["models/Dallas/Production/model"] {
		t.Errorf("missing model doc for namespace, got topics %v", topics)
	}
}

func TestPublishDocEncodesChildrenAndType(t *testing.T) {
	svc := buildTree(t)
	conn := &fakeConn{}
	p := New(Config{ModelAttributeName: "model"}, svc, nil, nil)

	if err := p.publishAll(context.Background(), conn); err != nil {
		t.Fatalf("publishAll: %v", err)
	}

	var found *recordedPublish
	for _, rec := range conn.snapshot() {
		rec := rec
		if rec.topic == "Dallas/model" {
			found = &rec
		}
	}
	if found == nil {
		t.Fatal("did not find Dallas/model publish")
	}
	var doc ModelDocument
	if err := json.Unmarshal(found.payload, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Type != "Site" {
		t.Errorf("Type = %q, want Site", doc.Type)
	}
	found2 := false
	for _, c := range doc.Children {
		if c == "Production" {
			found2 = true
		}
	}
	if !found2 {
		t.Errorf("Children = %v, want to include Production", doc.Children)
	}
}

func TestNamespaceFilterSkipsNonMatchingNodes(t *testing.T) {
	svc := buildTree(t)
	conn := &fakeConn{}
	p := New(Config{NamespaceFilter: []string{"NoSuchPath"}}, svc, nil, nil)

	if err := p.publishAll(context.Background(), conn); err != nil {
		t.Fatalf("publishAll: %v", err)
	}
	if conn.snapshot() != nil && len(conn.snapshot()) != 0 {
		t.Fatalf("published %d docs, want 0 under a non-matching namespace filter", len(conn.snapshot()))
	}
}

func TestHierarchyLevelFilterSkipsNonMatchingInstances(t *testing.T) {
	svc := buildTree(t)
	conn := &fakeConn{}
	p := New(Config{HierarchyLevelFilter: []string{"Area"}}, svc, nil, nil)

	if err := p.publishAll(context.Background(), conn); err != nil {
		t.Fatalf("publishAll: %v", err)
	}
	for _, rec := range conn.snapshot() {
		if rec.topic == "Dallas/model" {
			t.Fatalf("Dallas instance (level Site) should have been filtered out by HierarchyLevelFilter=[Area]")
		}
	}
}

var _ connmgr.Conn = (*fakeConn)(nil)
