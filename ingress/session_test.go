package ingress

import (
	"testing"

	"unsbroker/datapoint"
	"unsbroker/mqttbroker"
)

func TestHandleMessageRoutesSparkplugPrefixCaseInsensitively(t *testing.T) {
	out := make(chan *datapoint.DataPoint, 8)
	s := NewSession("conn1", "conn1", "spBv1.0/#", 0, nil, out, nil)

	// A well-formed Sparkplug NBIRTH payload would decode via sparkplug.Decode;
	// an empty payload fails to decode and is dropped (logged), not routed
	// through Decompose -- either way the decisive thing under test is which
	// path handleMessage takes, not the decode outcome.
	for _, topic := range []string{"spBv1.0/Group/NBIRTH/Node", "SPBV1.0/Group/NBIRTH/Node", "SpBv1.0/Group/NBIRTH/Node"} {
		s.handleMessage(mqttbroker.Message{Topic: topic, Payload: []byte{}})
	}
	select {
	case dp := <-out:
		t.Fatalf("unexpected data point from Sparkplug-prefixed topic, got %+v (want Decompose not to run)", dp)
	default:
	}
}

func TestHandleMessageDecomposesNonSparkplugTopic(t *testing.T) {
	out := make(chan *datapoint.DataPoint, 8)
	s := NewSession("conn1", "conn1", "plant/#", 0, nil, out, nil)

	s.handleMessage(mqttbroker.Message{Topic: "plant/line1/temp", Payload: []byte("42")})

	select {
	case dp := <-out:
		if dp.Topic != "plant/line1/temp" {
			t.Errorf("Topic = %q, want plant/line1/temp", dp.Topic)
		}
	default:
		t.Fatal("expected a decomposed data point, got none")
	}
}
