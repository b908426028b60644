// Package ingress implements the Ingress Pipeline (C6): a per-connection
// session that subscribes to one or more logical channels and decomposes
// every inbound message into a stream of leaf DataPoints.
package ingress

import (
	"strings"
	"time"

	"unsbroker/connmgr"
	"unsbroker/datapoint"
	"unsbroker/metrics"
	"unsbroker/mqttbroker"
	"unsbroker/sparkplug"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Session is one ingress connection's live subscription.
type Session struct {
	Name         string // the connection's configured name, used as Source
	ConnectionID string
	TopicFilter  string
	QoS          byte

	mgr  *connmgr.Manager
	conn connmgr.Conn
	out  chan *datapoint.DataPoint
	log  *zap.SugaredLogger
}

// NewSession creates an ingress session bound to a connection manager. out
// is the channel every decomposed DataPoint is sent to; callers (C7/C8)
// must keep it drained.
func NewSession(name, connectionID, topicFilter string, qos byte, mgr *connmgr.Manager, out chan *datapoint.DataPoint, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		Name:         name,
		ConnectionID: connectionID,
		TopicFilter:  topicFilter,
		QoS:          qos,
		mgr:          mgr,
		out:          out,
		log:          log,
	}
}

func (s *Session) consumerID() string { return "Ingress_" + s.Name }

// Start acquires the underlying connection and subscribes TopicFilter.
func (s *Session) Start() error {
	conn, err := s.mgr.Acquire(s.ConnectionID, s.consumerID())
	if err != nil {
		return errors.Wrapf(err, "ingress: starting session %s", s.Name)
	}
	s.conn = conn
	if err := conn.Subscribe(s.TopicFilter, s.QoS, s.handleMessage); err != nil {
		s.mgr.Release(s.ConnectionID, s.consumerID())
		return errors.Wrapf(err, "ingress: subscribing session %s", s.Name)
	}
	return nil
}

// Stop unsubscribes and releases the underlying connection.
func (s *Session) Stop() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Unsubscribe(s.TopicFilter)
	s.mgr.Release(s.ConnectionID, s.consumerID())
	return err
}

func (s *Session) handleMessage(msg mqttbroker.Message) {
	now := time.Now()

	if strings.HasPrefix(strings.ToLower(msg.Topic), "spbv1.0/") {
		dps, err := sparkplug.Decode(msg.Topic, msg.Payload, now)
		if err != nil {
			s.log.Errorw("sparkplug decode failed", "topic", msg.Topic, "error", err)
			return
		}
		metrics.Metrics.IngressDataPoints.Add(float64(len(dps)))
		for _, dp := range dps {
			s.out <- dp
		}
		return
	}

	dps, err := Decompose(msg.Payload, s.Name, "", msg.Topic, now)
	if err != nil {
		s.log.Errorw("decompose failed", "topic", msg.Topic, "error", err)
		return
	}
	metrics.Metrics.IngressDataPoints.Add(float64(len(dps)))
	for _, dp := range dps {
		s.out <- dp
	}
}
