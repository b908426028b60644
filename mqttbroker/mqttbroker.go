// Package mqttbroker wraps github.com/eclipse/paho.mqtt.golang into the
// generic broker connection used by ingress (C6), data export (C9), and
// model export (C10). It generalizes the connection-plumbing pattern this
// codebase previously used for a single cloud-specific MQTT endpoint into
// one that takes arbitrary broker addresses, credentials, and TLS material
// per connection.
package mqttbroker

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"unsbroker/unsutil"
)

// Config describes how to reach and authenticate to a broker.
type Config struct {
	Address               string // e.g. "ssl://broker.example.com:8883"
	ClientID              string
	Username              string
	Password              string
	CACertPEM             []byte // optional, for a private CA
	ClientCertPEM         []byte // optional, for mutual TLS
	ClientKeyPEM          []byte
	CleanSession          bool
	KeepAlive             time.Duration
	ReconnectDelay        time.Duration // initial backoff
	MaxReconnectDelay     time.Duration // backoff ceiling
	AutoReconnect         bool
	LastWillTopic         string
	LastWillPayload       string
	LastWillQoS           byte
	LastWillRetain        bool

	// ReconnectLog, if set, throttles the connection-lost/reconnecting log
	// lines below instead of letting paho's retry loop flood the log on a
	// flapping link. One instance may be shared by several connections
	// (unsbrokerd shares one across all of them); its backoff then paces
	// these lines for every connection together.
	ReconnectLog *unsutil.ThrottledLogger
}

// Message is an inbound publication delivered to a Subscribe callback.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Client is a connected broker session.
type Client struct {
	inner mqtt.Client
	log   *zap.SugaredLogger
}

// LogToZap routes the paho library's own logger through logger, matching
// the verbosity mapping this codebase has always used: paho's WARN level
// is noisy enough to log at Info instead.
func LogToZap(logger *zap.Logger) {
	mqtt.DEBUG, _ = zap.NewStdLogAt(logger, zapcore.DebugLevel)
	mqtt.WARN, _ = zap.NewStdLogAt(logger, zapcore.InfoLevel)
	mqtt.ERROR, _ = zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	mqtt.CRITICAL, _ = zap.NewStdLogAt(logger, zapcore.PanicLevel)
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	if len(cfg.CACertPEM) == 0 && len(cfg.ClientCertPEM) == 0 {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if len(cfg.CACertPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACertPEM) {
			return nil, errors.New("mqttbroker: failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if len(cfg.ClientCertPEM) > 0 {
		cert, err := tls.X509KeyPair(cfg.ClientCertPEM, cfg.ClientKeyPEM)
		if err != nil {
			return nil, errors.Wrap(err, "mqttbroker: failed to parse client certificate")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// Connect dials cfg.Address and blocks until the initial connection
// succeeds or fails. Reconnection after that point is handled by the
// underlying client per cfg.AutoReconnect/ReconnectDelay.
func Connect(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Address)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(cfg.AutoReconnect)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30 * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	delay := cfg.ReconnectDelay
	if delay == 0 {
		delay = time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay == 0 {
		maxDelay = 2 * time.Minute
	}
	opts.SetConnectRetryInterval(delay)
	opts.SetMaxReconnectInterval(maxDelay)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.LastWillTopic != "" {
		opts.SetWill(cfg.LastWillTopic, cfg.LastWillPayload, cfg.LastWillQoS, cfg.LastWillRetain)
	}

	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if cfg.ReconnectLog != nil {
			cfg.ReconnectLog.Warnw("broker connection lost", "client", cfg.ClientID, "error", err)
			return
		}
		log.Warnw("broker connection lost", "client", cfg.ClientID, "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		if cfg.ReconnectLog != nil {
			cfg.ReconnectLog.Infow("reconnecting to broker", "client", cfg.ClientID)
			return
		}
		log.Infow("reconnecting to broker", "client", cfg.ClientID)
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "mqttbroker: connecting %s", cfg.ClientID)
	}
	return &Client{inner: c, log: log}, nil
}

// Publish sends payload to topic and waits for broker acknowledgment.
func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte) error {
	token := c.inner.Publish(topic, qos, retain, payload)
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "mqttbroker: publish %s", topic)
	}
	return nil
}

// Subscribe registers handler for every message matching filter (which may
// contain MQTT wildcards "+"/"#").
func (c *Client) Subscribe(filter string, qos byte, handler func(Message)) error {
	token := c.inner.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), QoS: m.Qos(), Retain: m.Retained()})
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "mqttbroker: subscribe %s", filter)
	}
	return nil
}

// Unsubscribe removes a previously registered subscription.
func (c *Client) Unsubscribe(filter string) error {
	token := c.inner.Unsubscribe(filter)
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "mqttbroker: unsubscribe %s", filter)
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.inner.IsConnected()
}

// Disconnect closes the session, waiting up to quiesce for in-flight work.
func (c *Client) Disconnect(quiesce time.Duration) {
	c.inner.Disconnect(uint(quiesce.Milliseconds()))
}
