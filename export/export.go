// Package export implements MQTT Data Export (C9): one polling loop per
// enabled output configuration that republishes the latest value of every
// topic passing its filters, suppressing unchanged or too-frequent
// publishes.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"unsbroker/connmgr"
	"unsbroker/datapoint"
	"unsbroker/metrics"
	"unsbroker/storage"
	"unsbroker/topicstore"

	"github.com/pkg/errors"
	"github.com/satori/uuid"
	"go.uber.org/zap"
)

// DataFormat selects the outbound payload encoding.
type DataFormat int

const (
	// FormatRaw stringifies Value directly.
	FormatRaw DataFormat = iota
	// FormatJSON wraps Value in a JSON envelope.
	FormatJSON
	// FormatSparkplugB defers to an external encoder, falling back to
	// FormatJSON if that encoder is unavailable or fails.
	FormatSparkplugB
)

// DataExportConfig controls publish suppression, payload shape, and the
// topic/namespace filters for one output configuration.
type DataExportConfig struct {
	PublishOnChange      bool
	MinPublishIntervalMs int
	MaxDataAgeMinutes    int
	DataFormat           DataFormat
	IncludeTimestamp     bool
	IncludeQuality       bool
	UseUNSPathAsTopic    bool
	NamespaceFilter      []string
	TopicFilter          []string
}

// OutputConfig is one enabled MQTT data-export destination.
type OutputConfig struct {
	ConnectionID string
	TopicPrefix  string
	QoS          byte
	Retain       bool
	Export       DataExportConfig
}

// publishKey identifies the per-(configId, topic) suppression state.
type publishKey struct {
	configID string
	topic    string
}

type lastPublished struct {
	value datapoint.Value
	at    time.Time
}

// DataExporter runs the 1 Hz polling loop for one OutputConfig.
type DataExporter struct {
	id       string
	cfg      OutputConfig
	topics   topicstore.Store
	realtime storage.RealtimeValueStore
	mgr      *connmgr.Manager
	log      *zap.SugaredLogger

	// last is exclusive to the loop goroutine -- never touched from
	// another goroutine, so it needs no mutex.
	last map[publishKey]lastPublished

	stop chan struct{}
	done chan struct{}
}

// New creates a DataExporter. It does not start the polling loop.
func New(cfg OutputConfig, topics topicstore.Store, realtime storage.RealtimeValueStore, mgr *connmgr.Manager, log *zap.SugaredLogger) *DataExporter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DataExporter{
		id:       uuid.NewV4().String(),
		cfg:      cfg,
		topics:   topics,
		realtime: realtime,
		mgr:      mgr,
		log:      log,
		last:     make(map[publishKey]lastPublished),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (e *DataExporter) consumerID() string { return "DataExport_" + e.id }

// Start acquires the output connection and runs the poll loop in a new
// goroutine until Stop is called.
func (e *DataExporter) Start(ctx context.Context) error {
	conn, err := e.mgr.Acquire(e.cfg.ConnectionID, e.consumerID())
	if err != nil {
		return errors.Wrap(err, "export: acquiring connection")
	}
	go e.run(ctx, conn)
	return nil
}

// Stop signals the loop to exit and releases the connection. It blocks
// until the loop has actually exited.
func (e *DataExporter) Stop() {
	close(e.stop)
	<-e.done
	e.mgr.Release(e.cfg.ConnectionID, e.consumerID())
}

func (e *DataExporter) run(ctx context.Context, conn connmgr.Conn) {
	defer close(e.done)
	interval := time.Second
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := e.pollOnce(ctx, conn); err != nil {
			e.log.Errorw("export poll failed", "connection", e.cfg.ConnectionID, "error", err)
			interval = 5 * time.Second
		} else {
			interval = time.Second
		}
	}
}

func (e *DataExporter) pollOnce(ctx context.Context, conn connmgr.Conn) error {
	topics, err := e.topics.GetAll(ctx, false)
	if err != nil {
		return errors.Wrap(err, "export: listing topics")
	}
	maxAge := time.Duration(e.cfg.Export.MaxDataAgeMinutes) * time.Minute

	for _, tc := range topics {
		if !e.passesFilters(tc) {
			continue
		}
		dp, ok := e.realtime.GetLatest(ctx, tc.Topic)
		if !ok {
			continue
		}
		if maxAge > 0 && time.Since(dp.Timestamp) > maxAge {
			continue
		}
		if e.shouldSuppress(tc.Topic, dp) {
			metrics.Metrics.ExportSuppressed.Inc()
			continue
		}
		if err := e.publish(conn, tc, dp); err != nil {
			e.log.Errorw("export publish failed", "topic", tc.Topic, "error", err)
			continue
		}
		metrics.Metrics.ExportPublished.Inc()
		e.last[publishKey{configID: e.id, topic: tc.Topic}] = lastPublished{value: dp.Value, at: time.Now()}
	}
	return nil
}

// shouldSuppress implements the publish decision: equal value (explicit
// null-equality) suppresses regardless of elapsed time; otherwise an
// elapsed time under MinPublishIntervalMs suppresses too. Neither check
// depends on wall-clock drift alone -- both compare against the recorded
// last-publish state for this exact (configId, topic) pair.
func (e *DataExporter) shouldSuppress(topic string, dp *datapoint.DataPoint) bool {
	key := publishKey{configID: e.id, topic: topic}
	prev, ok := e.last[key]
	if !ok {
		return false
	}
	if prev.value.Equal(dp.Value) {
		return true
	}
	minInterval := time.Duration(e.cfg.Export.MinPublishIntervalMs) * time.Millisecond
	return time.Since(prev.at) < minInterval
}

func (e *DataExporter) passesFilters(tc *topicstore.TopicConfiguration) bool {
	if len(e.cfg.Export.TopicFilter) > 0 && !matchAnyTopicFilter(e.cfg.Export.TopicFilter, tc.Topic) {
		return false
	}
	if len(e.cfg.Export.NamespaceFilter) > 0 && !matchAnyNamespaceFilter(e.cfg.Export.NamespaceFilter, tc.NSPath) {
		return false
	}
	return true
}

func matchAnyNamespaceFilter(filters []string, nsPath string) bool {
	for _, f := range filters {
		if strings.Contains(nsPath, f) {
			return true
		}
	}
	return false
}

func matchAnyTopicFilter(filters []string, topic string) bool {
	for _, f := range filters {
		if mqttFilterMatches(f, topic) {
			return true
		}
	}
	return false
}

// mqttFilterMatches implements MQTT-wildcard topic-filter matching: "+"
// matches exactly one level, "#" matches the rest of the topic, and "*" is
// treated as a regex ".*" for user filter strings that use it instead.
func mqttFilterMatches(filter, topic string) bool {
	if strings.Contains(filter, "*") && !strings.ContainsAny(filter, "+#") {
		pattern := "^" + regexp.QuoteMeta(filter)
		pattern = strings.ReplaceAll(pattern, regexp.QuoteMeta("*"), ".*") + "$"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(topic)
	}

	fSegs := strings.Split(filter, "/")
	tSegs := strings.Split(topic, "/")
	for i, fs := range fSegs {
		if fs == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if fs == "+" {
			continue
		}
		if fs != tSegs[i] {
			return false
		}
	}
	return len(fSegs) == len(tSegs)
}

func (e *DataExporter) outboundTopic(tc *topicstore.TopicConfiguration) string {
	var segs []string
	if e.cfg.TopicPrefix != "" {
		segs = append(segs, e.cfg.TopicPrefix)
	}
	if e.cfg.Export.UseUNSPathAsTopic {
		if tc.HierarchicalPath != nil {
			if p := tc.HierarchicalPath.FullPath(); p != "" {
				segs = append(segs, p)
			}
		}
		if tc.UNSName != "" {
			segs = append(segs, tc.UNSName)
		}
	} else {
		segs = append(segs, tc.Topic)
	}
	return strings.Join(segs, "/")
}

type jsonEnvelope struct {
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp,omitempty"`
	Quality   string      `json:"quality,omitempty"`
	Source    string      `json:"source,omitempty"`
}

func (e *DataExporter) encode(dp *datapoint.DataPoint) ([]byte, error) {
	format := e.cfg.Export.DataFormat
	if format == FormatSparkplugB {
		// The real Sparkplug B encoder is an external collaborator; fall
		// back to JSON when it isn't available.
		format = FormatJSON
	}

	switch format {
	case FormatRaw:
		return []byte(dp.Value.String()), nil
	default:
		env := jsonEnvelope{Value: jsonValue(dp.Value)}
		if e.cfg.Export.IncludeTimestamp {
			env.Timestamp = dp.Timestamp.Format(time.RFC3339)
		}
		if e.cfg.Export.IncludeQuality {
			env.Quality = "Good"
			env.Source = dp.Source
		}
		return json.Marshal(env)
	}
}

func jsonValue(v datapoint.Value) interface{} {
	switch v.Kind {
	case datapoint.KindNull:
		return nil
	case datapoint.KindBool:
		return v.Bool
	case datapoint.KindInt64:
		return v.Int64
	case datapoint.KindFloat64:
		return v.Float
	case datapoint.KindString:
		return v.Str
	case datapoint.KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	default:
		return nil
	}
}

func (e *DataExporter) publish(conn connmgr.Conn, tc *topicstore.TopicConfiguration, dp *datapoint.DataPoint) error {
	payload, err := e.encode(dp)
	if err != nil {
		return errors.Wrap(err, "export: encoding payload")
	}
	topic := e.outboundTopic(tc)
	return conn.Publish(topic, e.cfg.QoS, e.cfg.Retain, payload)
}
