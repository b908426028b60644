package config

import (
	"strings"
	"testing"
)

const sampleConfig = `[
	{"name": "plcIn", "serviceType": "MqttInput", "settings": {"connectionId": "plc1", "topicFilter": "plc/#", "qos": 1}},
	{"name": "scadaOut", "serviceType": "MqttOutput", "settings": {"connectionId": "out1", "topicPrefix": "export", "minPublishIntervalMs": 500}},
	{"name": "modelOut", "serviceType": "ModelOutput", "settings": {"connectionId": "out1", "republishIntervalMinutes": 60}},
	{"name": "bogus", "serviceType": "NotARealType", "settings": {}}
]`

func TestDecodeConnectionsDispatchesByServiceType(t *testing.T) {
	conns, errs := DecodeConnections(strings.NewReader(sampleConfig))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly 1 for the unknown serviceType entry", errs)
	}
	if len(conns.MQTTInputs) != 1 || conns.MQTTInputs[0].ConnectionID != "plc1" {
		t.Fatalf("MQTTInputs = %+v", conns.MQTTInputs)
	}
	if len(conns.MQTTOutputs) != 1 || conns.MQTTOutputs[0].MinPublishIntervalMs != 500 {
		t.Fatalf("MQTTOutputs = %+v", conns.MQTTOutputs)
	}
	if len(conns.ModelOutputs) != 1 || conns.ModelOutputs[0].RepublishIntervalMinutes != 60 {
		t.Fatalf("ModelOutputs = %+v", conns.ModelOutputs)
	}
}

func TestDecodeConnectionsRejectsMalformedSettingsWithoutAbortingTheRest(t *testing.T) {
	doc := `[
		{"name": "bad", "serviceType": "MqttInput", "settings": {"qos": "not-a-number"}},
		{"name": "good", "serviceType": "MqttInput", "settings": {"connectionId": "ok", "qos": 2}}
	]`
	conns, errs := DecodeConnections(strings.NewReader(doc))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly 1 for the malformed entry", errs)
	}
	if len(conns.MQTTInputs) != 1 || conns.MQTTInputs[0].ConnectionID != "ok" {
		t.Fatalf("MQTTInputs = %+v, want the well-formed entry to survive", conns.MQTTInputs)
	}
}
