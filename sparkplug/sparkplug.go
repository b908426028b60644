// Package sparkplug is a placeholder for the Sparkplug B decoder, which is
// an external collaborator per this system's scope: real Sparkplug B
// payloads are protobuf-encoded and require a license-encumbered schema
// this codebase does not vendor. Decode exists so the ingress pipeline has
// a stable seam to call through; it does not parse the Sparkplug B wire
// format.
package sparkplug

import (
	"strings"
	"time"

	"unsbroker/datapoint"
)

// Decode turns a raw Sparkplug B payload received on topic into the
// data points ingress forwards onto the bus unchanged. This stub does not
// decode the protobuf body -- it emits a single raw-bytes DataPoint on the
// topic's own path, tagged so callers can distinguish a real decode from
// the placeholder.
func Decode(topic string, payload []byte, now time.Time) ([]*datapoint.DataPoint, error) {
	segs := strings.Split(strings.TrimPrefix(topic, "spBv1.0/"), "/")
	return []*datapoint.DataPoint{{
		Topic:     topic,
		Value:     datapoint.BytesValue(payload),
		Timestamp: now,
		Source:    "sparkplug",
		Metadata: datapoint.Metadata{
			ConnectionName: "sparkplug",
			EventName:      strings.Join(segs, "/"),
		},
	}}, nil
}
