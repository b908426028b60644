package ingress

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"unsbroker/datapoint"
)

// unicodeEscapeRE matches a literal four-hex-digit \uXXXX sequence left
// over in a string leaf after JSON decoding -- e.g. a payload that double-
// encoded its unicode escapes.
var unicodeEscapeRE = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

func unescapeUnicode(s string) string {
	return unicodeEscapeRE.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseInt(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

// Decompose walks payload as a JSON-like tree (falling back to a single
// raw-bytes leaf if it does not parse as JSON), emitting one DataPoint per
// leaf per the ingress pipeline's depth-first envelope-detection rules.
// connName and eventName become source metadata. Every emitted topic is
// baseTopicPath, then eventName, then the accumulated path, with empty
// parts left out; connName is not part of the topic.
func Decompose(payload []byte, connName, eventName, baseTopicPath string, now time.Time) ([]*datapoint.DataPoint, error) {
	var tree interface{}
	if err := json.Unmarshal(payload, &tree); err != nil {
		d := &decomposer{
			baseSegs: baseSegments(baseTopicPath, eventName),
			now:      now,
			connName: connName,
			eventName: eventName,
			base:     baseTopicPath,
		}
		d.emit(nil, datapoint.BytesValue(payload), now, false)
		return d.out, nil
	}

	d := &decomposer{
		baseSegs:  baseSegments(baseTopicPath, eventName),
		now:       now,
		connName:  connName,
		eventName: eventName,
		base:      baseTopicPath,
	}
	d.walk(tree, nil, 0)
	return d.out, nil
}

func baseSegments(baseTopicPath, eventName string) []string {
	var segs []string
	for _, s := range strings.Split(baseTopicPath, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	for _, s := range strings.Split(eventName, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

type decomposer struct {
	base      string
	eventName string
	connName  string
	baseSegs  []string
	now       time.Time
	out       []*datapoint.DataPoint
}

func (d *decomposer) isDuplicateOfBase(name string) bool {
	for _, seg := range d.baseSegs {
		if strings.EqualFold(seg, name) {
			return true
		}
	}
	return false
}

func (d *decomposer) walk(node interface{}, path []string, depth int) {
	switch v := node.(type) {
	case map[string]interface{}:
		if val, ts, ok := extractEnvelope(v); ok {
			d.emit(path, toValue(val), ts, true)
			return
		}
		for key, child := range v {
			childPath := path
			if depth == 0 && d.isDuplicateOfBase(key) {
				// Skip this level's name to avoid e.g. "Enterprise/Enterprise/..."
			} else {
				childPath = appendSeg(path, key)
			}
			d.walk(child, childPath, depth+1)
		}
	case []interface{}:
		for i, child := range v {
			d.walk(child, appendSeg(path, "["+strconv.Itoa(i)+"]"), depth+1)
		}
	default:
		d.emit(path, toValue(v), d.now, false)
	}
}

func appendSeg(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

func (d *decomposer) emit(path []string, val datapoint.Value, ts time.Time, envelope bool) {
	segs := make([]string, 0, len(path)+2)
	if d.base != "" {
		segs = append(segs, d.base)
	}
	if d.eventName != "" {
		segs = append(segs, d.eventName)
	}
	segs = append(segs, path...)

	d.out = append(d.out, &datapoint.DataPoint{
		Topic:     strings.Join(segs, "/"),
		Value:     val,
		Timestamp: ts,
		Source:    d.connName,
		Metadata: datapoint.Metadata{
			ConnectionName:  d.connName,
			EventName:       d.eventName,
			EnvelopeDetected: envelope,
		},
	})
}

// extractEnvelope reports whether m is a value/timestamp envelope: exactly
// two fields named (case-insensitively) "value" and "timestamp".
func extractEnvelope(m map[string]interface{}) (interface{}, time.Time, bool) {
	if len(m) != 2 {
		return nil, time.Time{}, false
	}
	var valKey, tsKey string
	for k := range m {
		switch strings.ToLower(k) {
		case "value":
			valKey = k
		case "timestamp":
			tsKey = k
		default:
			return nil, time.Time{}, false
		}
	}
	if valKey == "" || tsKey == "" {
		return nil, time.Time{}, false
	}
	ts, ok := parseTimestamp(m[tsKey])
	if !ok {
		return nil, time.Time{}, false
	}
	return m[valKey], ts, true
}

// parseTimestamp accepts an ISO-8601 string, or a numeric Unix timestamp
// (seconds if <= 10^12, else milliseconds).
func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case float64:
		if t <= 1e12 {
			return time.Unix(int64(t), 0), true
		}
		return time.UnixMilli(int64(t)), true
	default:
		return time.Time{}, false
	}
}

func toValue(raw interface{}) datapoint.Value {
	switch v := raw.(type) {
	case nil:
		return datapoint.NullValue()
	case bool:
		return datapoint.BoolValue(v)
	case float64:
		if v == float64(int64(v)) {
			return datapoint.Int64Value(int64(v))
		}
		return datapoint.FloatValue(v)
	case string:
		return datapoint.StringValue(unescapeUnicode(v))
	default:
		return datapoint.NullValue()
	}
}
