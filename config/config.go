// Package config implements daemon-level configuration (via tagged
// environment variables, all prefixed UNSBROKERD_*) and the
// per-connection JSON configuration file, whose entries are dispatched by
// ServiceType to a concrete Go type rather than deserialized reflectively.
package config

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/tomazk/envcfg"
)

// Daemon holds the process-wide environment configuration.
type Daemon struct {
	MQTTBrokerAddress  string `envcfg:"UNSBROKERD_MQTT_BROKER_ADDRESS"`
	MQTTClientID       string `envcfg:"UNSBROKERD_MQTT_CLIENT_ID"`
	MQTTUsername       string `envcfg:"UNSBROKERD_MQTT_USERNAME"`
	MQTTPassword       string `envcfg:"UNSBROKERD_MQTT_PASSWORD"`
	MQTTCACertPath     string `envcfg:"UNSBROKERD_MQTT_CA_CERT_PATH"`
	MQTTClientCertPath string `envcfg:"UNSBROKERD_MQTT_CLIENT_CERT_PATH"`
	MQTTClientKeyPath  string `envcfg:"UNSBROKERD_MQTT_CLIENT_KEY_PATH"`

	PostgresConnection string `envcfg:"UNSBROKERD_POSTGRES_CONNECTION"`
	ConfigFile         string `envcfg:"UNSBROKERD_CONFIG_FILE"`

	PrometheusPort string `envcfg:"UNSBROKERD_PROMETHEUS_PORT"`
	HealthPort     string `envcfg:"UNSBROKERD_HEALTH_PORT"`
	LogLevel       string `envcfg:"UNSBROKERD_LOG_LEVEL"`
}

// LoadDaemon reads the process environment into a Daemon config.
func LoadDaemon() (*Daemon, error) {
	var d Daemon
	if err := envcfg.Unmarshal(&d); err != nil {
		return nil, errors.Wrap(err, "config: reading environment")
	}
	return &d, nil
}

// ServiceType names a per-connection configuration variant in the JSON
// configuration file, dispatching to a concrete Go type instead of a
// runtime-reflective decode of a heterogeneous union.
type ServiceType string

// Known connection service types.
const (
	ServiceMQTTInput    ServiceType = "MqttInput"
	ServiceMQTTOutput   ServiceType = "MqttOutput"
	ServiceSocketIOInput ServiceType = "SocketIOInput"
	ServiceModelOutput  ServiceType = "ModelOutput"
)

// ConnectionEntry is one raw entry from the configuration file, before its
// ServiceType-specific Settings payload is decoded.
type ConnectionEntry struct {
	Name        string          `json:"name"`
	ServiceType ServiceType     `json:"serviceType"`
	Settings    json.RawMessage `json:"settings"`
}

// MQTTInputSettings configures an ingress session (C6).
type MQTTInputSettings struct {
	ConnectionID string `json:"connectionId"`
	TopicFilter  string `json:"topicFilter"`
	QoS          byte   `json:"qos"`
}

// MQTTOutputSettings configures a data-export destination (C9).
type MQTTOutputSettings struct {
	ConnectionID         string   `json:"connectionId"`
	TopicPrefix          string   `json:"topicPrefix"`
	QoS                  byte     `json:"qos"`
	Retain               bool     `json:"retain"`
	PublishOnChange      bool     `json:"publishOnChange"`
	MinPublishIntervalMs int      `json:"minPublishIntervalMs"`
	MaxDataAgeMinutes    int      `json:"maxDataAgeMinutes"`
	DataFormat           string   `json:"dataFormat"`
	IncludeTimestamp     bool     `json:"includeTimestamp"`
	IncludeQuality       bool     `json:"includeQuality"`
	UseUNSPathAsTopic    bool     `json:"useUnsPathAsTopic"`
	NamespaceFilter      []string `json:"namespaceFilter"`
	TopicFilter          []string `json:"topicFilter"`
}

// ModelOutputSettings configures a model-export destination (C10).
type ModelOutputSettings struct {
	ConnectionID             string   `json:"connectionId"`
	TopicPrefix              string   `json:"topicPrefix"`
	ModelAttributeName       string   `json:"modelAttributeName"`
	RepublishIntervalMinutes int      `json:"republishIntervalMinutes"`
	Retain                   bool     `json:"retain"`
	QoS                      byte     `json:"qos"`
	NamespaceFilter          []string `json:"namespaceFilter"`
	HierarchyLevelFilter     []string `json:"hierarchyLevelFilter"`
}

// SocketIOInputSettings configures a non-MQTT ingress source. The broker
// only records its shape here; no SocketIO client is implemented.
type SocketIOInputSettings struct {
	ConnectionID string `json:"connectionId"`
	URL          string `json:"url"`
	EventName    string `json:"eventName"`
}

// Connections is the decoded, dispatch-typed form of the configuration
// file: one slice per known ServiceType.
type Connections struct {
	MQTTInputs    []MQTTInputSettings
	MQTTOutputs   []MQTTOutputSettings
	ModelOutputs  []ModelOutputSettings
	SocketIOInputs []SocketIOInputSettings
}

// LoadConnections reads and dispatches the connection configuration file at
// path. An entry whose ServiceType is unrecognized or whose Settings fail
// to decode is logged and dropped by the caller -- this function instead
// collects every such error and returns them alongside whatever connections
// it could decode, so a malformed entry never blocks the rest.
func LoadConnections(path string) (*Connections, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{errors.Wrap(err, "config: opening connection file")}
	}
	defer f.Close()
	return DecodeConnections(f)
}

// DecodeConnections parses the connection configuration document from r.
func DecodeConnections(r io.Reader) (*Connections, []error) {
	var entries []ConnectionEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, []error{errors.Wrap(err, "config: decoding connection file")}
	}

	var out Connections
	var errs []error
	for _, e := range entries {
		switch e.ServiceType {
		case ServiceMQTTInput:
			var s MQTTInputSettings
			if err := json.Unmarshal(e.Settings, &s); err != nil {
				errs = append(errs, errors.Wrapf(err, "config: decoding MqttInput settings for %q", e.Name))
				continue
			}
			out.MQTTInputs = append(out.MQTTInputs, s)
		case ServiceMQTTOutput:
			var s MQTTOutputSettings
			if err := json.Unmarshal(e.Settings, &s); err != nil {
				errs = append(errs, errors.Wrapf(err, "config: decoding MqttOutput settings for %q", e.Name))
				continue
			}
			out.MQTTOutputs = append(out.MQTTOutputs, s)
		case ServiceModelOutput:
			var s ModelOutputSettings
			if err := json.Unmarshal(e.Settings, &s); err != nil {
				errs = append(errs, errors.Wrapf(err, "config: decoding ModelOutput settings for %q", e.Name))
				continue
			}
			out.ModelOutputs = append(out.ModelOutputs, s)
		case ServiceSocketIOInput:
			var s SocketIOInputSettings
			if err := json.Unmarshal(e.Settings, &s); err != nil {
				errs = append(errs, errors.Wrapf(err, "config: decoding SocketIOInput settings for %q", e.Name))
				continue
			}
			out.SocketIOInputs = append(out.SocketIOInputs, s)
		default:
			errs = append(errs, errors.Errorf("config: unknown serviceType %q for connection %q", e.ServiceType, e.Name))
		}
	}
	return &out, errs
}
