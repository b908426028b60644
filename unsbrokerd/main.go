// unsbrokerd is the Unified Namespace broker daemon: it wires together
// hierarchy configuration, the namespace tree, topic storage, the event
// bus, ingress sessions, auto-mapping, storage fan-out, data export, and
// model export into one running process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"unsbroker/automap"
	"unsbroker/browser"
	"unsbroker/config"
	"unsbroker/connmgr"
	"unsbroker/datapoint"
	"unsbroker/eventbus"
	"unsbroker/export"
	"unsbroker/hierarchy"
	"unsbroker/ingress"
	"unsbroker/metrics"
	"unsbroker/modelexport"
	"unsbroker/mqttbroker"
	"unsbroker/namespace"
	"unsbroker/storage"
	"unsbroker/topicstore"
	"unsbroker/unsutil"

	"go.uber.org/zap"
)

const pname = "unsbrokerd"

var (
	logLevel    = flag.String("log-level", "", "log level [debug,info,warn,error]")
	configFile  = flag.String("config-file", "", "connection configuration file (overrides UNSBROKERD_CONFIG_FILE)")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus /metrics listen address (overrides UNSBROKERD_PROMETHEUS_PORT)")
)

// daemon holds every connection-derived runtime (ingress sessions, data
// exporters, model exporters) keyed by ConnectionID, plus the settings each
// one was last started with, so a SIGHUP reload can diff the newly loaded
// Connections against what is actually running.
type daemon struct {
	mgr       *connmgr.Manager
	topics    topicstore.Store
	realtime  storage.RealtimeValueStore
	nsService *namespace.Service
	dpOut     chan *datapoint.DataPoint
	slog      *zap.SugaredLogger

	sessions   map[string]*ingress.Session
	sessionCfg map[string]config.MQTTInputSettings

	exporters   map[string]*export.DataExporter
	exporterCfg map[string]config.MQTTOutputSettings

	modelExporters   map[string]*modelexport.Publisher
	modelExporterCfg map[string]config.ModelOutputSettings
}

func newDaemon(mgr *connmgr.Manager, topics topicstore.Store, realtime storage.RealtimeValueStore, nsService *namespace.Service, dpOut chan *datapoint.DataPoint, slog *zap.SugaredLogger) *daemon {
	return &daemon{
		mgr:              mgr,
		topics:           topics,
		realtime:         realtime,
		nsService:        nsService,
		dpOut:            dpOut,
		slog:             slog,
		sessions:         make(map[string]*ingress.Session),
		sessionCfg:       make(map[string]config.MQTTInputSettings),
		exporters:        make(map[string]*export.DataExporter),
		exporterCfg:      make(map[string]config.MQTTOutputSettings),
		modelExporters:   make(map[string]*modelexport.Publisher),
		modelExporterCfg: make(map[string]config.ModelOutputSettings),
	}
}

// applyConnections reconciles the running ingress sessions, data exporters,
// and model exporters against a freshly loaded Connections: entries no
// longer present are stopped, new entries are started, and entries whose
// settings changed are restarted. Grounded in ap.mcp's loadDefinitions()
// diff-and-apply reload, invoked both at startup and on every SIGHUP.
func (d *daemon) applyConnections(ctx context.Context, conns *config.Connections) {
	wantInputs := make(map[string]config.MQTTInputSettings, len(conns.MQTTInputs))
	for _, in := range conns.MQTTInputs {
		wantInputs[in.ConnectionID] = in
	}
	for id, s := range d.sessions {
		if _, ok := wantInputs[id]; !ok {
			s.Stop()
			delete(d.sessions, id)
			delete(d.sessionCfg, id)
		}
	}
	for id, in := range wantInputs {
		if cur, ok := d.sessionCfg[id]; ok && reflect.DeepEqual(cur, in) {
			continue
		}
		if s, ok := d.sessions[id]; ok {
			s.Stop()
		}
		s := ingress.NewSession(in.ConnectionID, in.ConnectionID, in.TopicFilter, in.QoS, d.mgr, d.dpOut, d.slog)
		if err := s.Start(); err != nil {
			d.slog.Errorw("starting ingress session", "connection", id, "error", err)
			delete(d.sessions, id)
			delete(d.sessionCfg, id)
			continue
		}
		d.sessions[id] = s
		d.sessionCfg[id] = in
	}

	wantOutputs := make(map[string]config.MQTTOutputSettings, len(conns.MQTTOutputs))
	for _, out := range conns.MQTTOutputs {
		wantOutputs[out.ConnectionID] = out
	}
	for id, e := range d.exporters {
		if _, ok := wantOutputs[id]; !ok {
			e.Stop()
			delete(d.exporters, id)
			delete(d.exporterCfg, id)
		}
	}
	for id, out := range wantOutputs {
		if cur, ok := d.exporterCfg[id]; ok && reflect.DeepEqual(cur, out) {
			continue
		}
		if e, ok := d.exporters[id]; ok {
			e.Stop()
		}
		e := export.New(exportConfigFrom(out), d.topics, d.realtime, d.mgr, d.slog)
		if err := e.Start(ctx); err != nil {
			d.slog.Errorw("starting data exporter", "connection", id, "error", err)
			delete(d.exporters, id)
			delete(d.exporterCfg, id)
			continue
		}
		d.exporters[id] = e
		d.exporterCfg[id] = out
	}

	wantModels := make(map[string]config.ModelOutputSettings, len(conns.ModelOutputs))
	for _, out := range conns.ModelOutputs {
		wantModels[out.ConnectionID] = out
	}
	for id, p := range d.modelExporters {
		if _, ok := wantModels[id]; !ok {
			p.Stop()
			delete(d.modelExporters, id)
			delete(d.modelExporterCfg, id)
		}
	}
	for id, out := range wantModels {
		if cur, ok := d.modelExporterCfg[id]; ok && reflect.DeepEqual(cur, out) {
			continue
		}
		if p, ok := d.modelExporters[id]; ok {
			p.Stop()
		}
		p := modelexport.New(modelExportConfigFrom(out), d.nsService, d.mgr, d.slog)
		if err := p.Start(ctx); err != nil {
			d.slog.Errorw("starting model exporter", "connection", id, "error", err)
			delete(d.modelExporters, id)
			delete(d.modelExporterCfg, id)
			continue
		}
		d.modelExporters[id] = p
		d.modelExporterCfg[id] = out
	}
}

func (d *daemon) stopAll() {
	for _, s := range d.sessions {
		s.Stop()
	}
	for _, e := range d.exporters {
		e.Stop()
	}
	for _, p := range d.modelExporters {
		p.Stop()
	}
}

func exportConfigFrom(out config.MQTTOutputSettings) export.OutputConfig {
	return export.OutputConfig{
		ConnectionID: out.ConnectionID,
		TopicPrefix:  out.TopicPrefix,
		QoS:          out.QoS,
		Retain:       out.Retain,
		Export: export.DataExportConfig{
			PublishOnChange:      out.PublishOnChange,
			MinPublishIntervalMs: out.MinPublishIntervalMs,
			MaxDataAgeMinutes:    out.MaxDataAgeMinutes,
			IncludeTimestamp:     out.IncludeTimestamp,
			IncludeQuality:       out.IncludeQuality,
			UseUNSPathAsTopic:    out.UseUNSPathAsTopic,
			NamespaceFilter:      out.NamespaceFilter,
			TopicFilter:          out.TopicFilter,
		},
	}
}

func modelExportConfigFrom(out config.ModelOutputSettings) modelexport.Config {
	return modelexport.Config{
		ConnectionID:             out.ConnectionID,
		TopicPrefix:              out.TopicPrefix,
		ModelAttributeName:       out.ModelAttributeName,
		RepublishIntervalMinutes: out.RepublishIntervalMinutes,
		Retain:                   out.Retain,
		QoS:                      out.QoS,
		NamespaceFilter:          out.NamespaceFilter,
		HierarchyLevelFilter:     out.HierarchyLevelFilter,
	}
}

func main() {
	flag.Parse()

	slog := unsutil.NewLogger(pname)
	defer slog.Sync()

	daemonCfg, err := config.LoadDaemon()
	if err != nil {
		slog.Fatalw("reading environment configuration", "error", err)
	}

	level := *logLevel
	if level == "" {
		level = daemonCfg.LogLevel
	}
	if level != "" {
		if err := unsutil.LogSetLevel(level); err != nil {
			slog.Warnw("invalid log level", "level", level, "error", err)
		}
	}

	connFile := *configFile
	if connFile == "" {
		connFile = daemonCfg.ConfigFile
	}

	metricsListen := *metricsAddr
	if metricsListen == "" {
		metricsListen = daemonCfg.PrometheusPort
	}
	if metricsListen != "" {
		metrics.Serve(metricsListen)
	}

	lifecycle := unsutil.NewRegistry()

	bus := eventbus.New(slog)
	hier := hierarchy.NewRegistry()
	var topics topicstore.Store = topicstore.NewMemStore()
	var nsStore namespace.Store = namespace.NewMemStore()
	realtime := storage.NewMemRealtimeValueStore()

	if daemonCfg.PostgresConnection != "" {
		ts, err := topicstore.Connect(daemonCfg.PostgresConnection, hier.Active())
		if err != nil {
			slog.Fatalw("connecting topic store to postgres", "error", err)
		}
		topics = ts

		nss, err := namespace.Connect(daemonCfg.PostgresConnection)
		if err != nil {
			slog.Fatalw("connecting namespace store to postgres", "error", err)
		}
		nsStore = nss
	}

	nsService := namespace.NewService(nsStore, topics, hier, bus)
	mapper, ruleErrs := automap.New(topics, hier, bus, automap.Config{Enabled: true, MinimumConfidence: 0.7})
	for _, e := range ruleErrs {
		slog.Warnw("dropping malformed auto-map rule", "error", e)
	}

	sink := storage.New(realtime, nil, slog)
	browserCache := browser.New(topics, bus, slog)
	defer browserCache.Close()

	connReporter := unsutil.NewReporter("mqtt-broker")
	lifecycle.Register(connReporter)

	// One ThrottledLogger for the "broker connection lost/reconnecting"
	// message class, shared across every connection the daemon holds --
	// same pattern as ap.serviced's dns4.go: the throttle paces a kind of
	// log line, not one specific remote peer.
	reconnectLog := unsutil.GetThrottledLogger(slog, 5*time.Second, 5*time.Minute)

	dialer := func(connectionID string) (connmgr.Conn, error) {
		mqttbroker.LogToZap(slog.Desugar())
		conn, err := mqttbroker.Connect(mqttbroker.Config{
			Address:      daemonCfg.MQTTBrokerAddress,
			ClientID:     daemonCfg.MQTTClientID + "-" + connectionID,
			Username:     daemonCfg.MQTTUsername,
			Password:     daemonCfg.MQTTPassword,
			ReconnectLog: reconnectLog,
		}, slog)
		if err != nil {
			reconnectLog.Errorw("mqtt connect failed", "connection", connectionID, "error", err)
		}
		return conn, err
	}
	mgr := connmgr.New(dialer)

	var conns *config.Connections
	if connFile != "" {
		c, errs := config.LoadConnections(connFile)
		for _, e := range errs {
			slog.Warnw("dropping malformed connection entry", "error", e)
		}
		conns = c
	} else {
		conns = &config.Connections{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	dpOut := make(chan *datapoint.DataPoint, 256)

	d := newDaemon(mgr, topics, realtime, nsService, dpOut, slog)
	d.applyConnections(ctx, conns)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for dp := range dpOut {
			cfg, err := mapper.Resolve(ctx, dp.Topic, "")
			if err != nil {
				slog.Errorw("auto-map resolve failed", "topic", dp.Topic, "error", err)
				continue
			}
			if cfg != nil {
				dp.HierarchicalPath = cfg.HierarchicalPath
			}
			sink.Handle(ctx, dp)
			eventbus.Publish(ctx, bus, eventbus.NewTopicDataUpdated(dp.Topic))
		}
	}()

	connReporter.Set(unsutil.Online)
	slog.Infow("unsbrokerd ready", "ingressSessions", len(d.sessions), "dataExports", len(d.exporters), "modelExports", len(d.modelExporters))

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
MainLoop:
	for {
		s := <-sig
		switch s {
		case syscall.SIGHUP:
			slog.Infow("SIGHUP received, reloading connection configuration")
			if connFile == "" {
				continue
			}
			c, errs := config.LoadConnections(connFile)
			for _, e := range errs {
				slog.Warnw("dropping malformed connection entry on reload", "error", e)
			}
			if c != nil {
				d.applyConnections(ctx, c)
				slog.Infow("connection configuration reloaded", "ingressSessions", len(d.sessions), "dataExports", len(d.exporters), "modelExports", len(d.modelExporters))
			}
		default:
			slog.Infow("signal received, draining", "signal", s)
			break MainLoop
		}
	}

	connReporter.Set(unsutil.Offline)
	d.stopAll()
	close(dpOut)
	cancel()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		slog.Warnw("timed out waiting for in-flight work to drain")
	}

	if err := mgr.StopAll(context.Background(), 5*time.Second); err != nil {
		slog.Errorw("stopping connections", "error", err)
	}
	slog.Infow("exiting")
}
