// Package connmgr implements the Connection Manager (C5): a reference
// counted pool of broker sessions shared by every component that needs to
// publish or subscribe through a named connection, so the same physical
// MQTT session is not dialed twice for two unrelated consumers.
package connmgr

import (
	"context"
	"sync"
	"time"

	"unsbroker/mqttbroker"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Conn is the subset of *mqttbroker.Client that connmgr and its consumers
// depend on. Tests substitute a fake that never touches the network.
type Conn interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
	Subscribe(filter string, qos byte, handler func(mqttbroker.Message)) error
	Unsubscribe(filter string) error
	IsConnected() bool
	Disconnect(quiesce time.Duration)
}

// Dialer opens a broker session for a named connection. Production code
// passes mqttbroker.Connect bound to a resolved Config.
type Dialer func(connectionID string) (Conn, error)

type session struct {
	client    Conn
	consumers map[string]bool
}

// Manager hands out shared, reference-counted connections by ID.
type Manager struct {
	mu       sync.Mutex
	dial     Dialer
	sessions map[string]*session
}

// New creates a Manager that dials new sessions with dial.
func New(dial Dialer) *Manager {
	return &Manager{dial: dial, sessions: make(map[string]*session)}
}

// Acquire returns the shared *mqttbroker.Client for connectionID, dialing it
// if this is the first consumer, and records consumerID as a holder. If two
// goroutines race to create the same connection, the loser's dial result
// (if any) is discarded in favor of the winner already installed -- there
// is exactly one live session per connectionID.
func (m *Manager) Acquire(connectionID, consumerID string) (Conn, error) {
	m.mu.Lock()
	if s, ok := m.sessions[connectionID]; ok {
		s.consumers[consumerID] = true
		client := s.client
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	client, err := m.dial(connectionID)
	if err != nil {
		return nil, errors.Wrapf(err, "connmgr: dialing %s", connectionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[connectionID]; ok {
		// Another goroutine won the race while we were dialing outside
		// the lock. Keep their session, tear down ours.
		s.consumers[consumerID] = true
		go client.Disconnect(250 * time.Millisecond)
		return s.client, nil
	}
	m.sessions[connectionID] = &session{
		client:    client,
		consumers: map[string]bool{consumerID: true},
	}
	return client, nil
}

// Release drops consumerID's hold on connectionID. When the last consumer
// releases, the underlying session is disconnected outside the lock.
func (m *Manager) Release(connectionID, consumerID string) {
	m.mu.Lock()
	s, ok := m.sessions[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(s.consumers, consumerID)
	last := len(s.consumers) == 0
	if last {
		delete(m.sessions, connectionID)
	}
	m.mu.Unlock()

	if last {
		s.client.Disconnect(250 * time.Millisecond)
	}
}

// RefCount returns the number of consumers currently holding connectionID,
// for diagnostics and tests.
func (m *Manager) RefCount(connectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return 0
	}
	return len(s.consumers)
}

// StopAll disconnects every live session concurrently, giving each up to
// grace to drain before the context is cancelled.
func (m *Manager) StopAll(ctx context.Context, grace time.Duration) error {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.client.Disconnect(grace)
			return nil
		})
	}
	return g.Wait()
}
