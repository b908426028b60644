// Package modelexport implements MQTT Model Export (C10): periodic
// publication of a JSON model document per namespace-tree node, on a single
// scheduling primitive rather than one timer per configuration.
package modelexport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"unsbroker/connmgr"
	"unsbroker/namespace"

	"github.com/pkg/errors"
	"github.com/satori/uuid"
	"go.uber.org/zap"
)

// ModelDocument is the JSON document published per namespace-tree node.
type ModelDocument struct {
	Type         string                 `json:"type"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	Children     []string               `json:"children,omitempty"`
	CustomFields map[string]interface{} `json:"customFields,omitempty"`
}

// Config controls one model-export destination.
type Config struct {
	ConnectionID              string
	TopicPrefix               string
	ModelAttributeName        string // default "model"
	RepublishIntervalMinutes  int
	Retain                    bool
	QoS                       byte
	NamespaceFilter           []string
	HierarchyLevelFilter      []string
}

// Publisher walks the namespace tree on a fixed schedule and publishes one
// ModelDocument per matching node.
type Publisher struct {
	id   string
	cfg  Config
	svc  *namespace.Service
	mgr  *connmgr.Manager
	log  *zap.SugaredLogger

	stop chan struct{}
	done chan struct{}
}

// New creates a Publisher. It does not start the schedule.
func New(cfg Config, svc *namespace.Service, mgr *connmgr.Manager, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.ModelAttributeName == "" {
		cfg.ModelAttributeName = "model"
	}
	return &Publisher{
		id:   uuid.NewV4().String(),
		cfg:  cfg,
		svc:  svc,
		mgr:  mgr,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (p *Publisher) consumerID() string { return "ModelExport_" + p.id }

// Start publishes immediately, then re-publishes every
// RepublishIntervalMinutes until Stop is called. It is the single
// scheduling primitive driving every node's republication -- there is no
// per-node timer.
func (p *Publisher) Start(ctx context.Context) error {
	conn, err := p.mgr.Acquire(p.cfg.ConnectionID, p.consumerID())
	if err != nil {
		return errors.Wrap(err, "modelexport: acquiring connection")
	}
	go p.run(ctx, conn)
	return nil
}

// Stop halts the schedule and releases the connection.
func (p *Publisher) Stop() {
	close(p.stop)
	<-p.done
	p.mgr.Release(p.cfg.ConnectionID, p.consumerID())
}

func (p *Publisher) run(ctx context.Context, conn connmgr.Conn) {
	defer close(p.done)

	if err := p.publishAll(ctx, conn); err != nil {
		p.log.Errorw("model export failed", "error", err)
	}

	interval := time.Duration(p.cfg.RepublishIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishAll(ctx, conn); err != nil {
				p.log.Errorw("model export failed", "error", err)
			}
		}
	}
}

func (p *Publisher) publishAll(ctx context.Context, conn connmgr.Conn) error {
	tree, err := p.svc.GetStructure(ctx)
	if err != nil {
		return errors.Wrap(err, "modelexport: loading namespace tree")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, node := range tree {
		wg.Add(1)
		go func(node *namespace.NSTreeNode) {
			defer wg.Done()
			if err := p.publishInstance(conn, node, ""); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(node)
	}
	wg.Wait()
	return firstErr
}

func (p *Publisher) publishInstance(conn connmgr.Conn, node *namespace.NSTreeNode, parentPath string) error {
	if !p.passesLevelFilter(node.Instance.HierarchyNode) {
		return nil
	}
	path := node.Instance.Name
	if parentPath != "" {
		path = parentPath + "/" + node.Instance.Name
	}
	if !p.passesNamespaceFilter(path) {
		return nil
	}

	children := make([]string, 0, len(node.Children)+len(node.Namespaces))
	for _, c := range node.Children {
		children = append(children, c.Instance.Name)
	}
	for _, ns := range node.Namespaces {
		children = append(children, ns.Namespace.Name)
	}

	doc := ModelDocument{
		Type:     node.Instance.HierarchyNode,
		Children: children,
	}
	if node.Instance.Description != "" {
		doc.Description = node.Instance.Description
	}

	if err := p.publishDoc(conn, path, doc); err != nil {
		return err
	}

	for _, ns := range node.Namespaces {
		if err := p.publishNamespace(conn, ns, path); err != nil {
			return err
		}
	}
	for _, c := range node.Children {
		if err := p.publishInstance(conn, c, path); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishNamespace(conn connmgr.Conn, node *namespace.NamespaceNode, parentPath string) error {
	path := parentPath + "/" + node.Namespace.Name
	if !p.passesNamespaceFilter(path) {
		return nil
	}
	children := make([]string, 0, len(node.Children))
	for _, c := range node.Children {
		children = append(children, c.Namespace.Name)
	}
	doc := ModelDocument{Type: "Namespace", Children: children}
	if err := p.publishDoc(conn, path, doc); err != nil {
		return err
	}
	for _, c := range node.Children {
		if err := p.publishNamespace(conn, c, path); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishDoc(conn connmgr.Conn, path string, doc ModelDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "modelexport: encoding model document")
	}
	segs := []string{}
	if p.cfg.TopicPrefix != "" {
		segs = append(segs, p.cfg.TopicPrefix)
	}
	if path != "" {
		segs = append(segs, path)
	}
	segs = append(segs, p.cfg.ModelAttributeName)
	topic := strings.Join(segs, "/")
	return conn.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
}

func (p *Publisher) passesLevelFilter(level string) bool {
	if len(p.cfg.HierarchyLevelFilter) == 0 {
		return true
	}
	for _, l := range p.cfg.HierarchyLevelFilter {
		if l == level {
			return true
		}
	}
	return false
}

func (p *Publisher) passesNamespaceFilter(path string) bool {
	if len(p.cfg.NamespaceFilter) == 0 {
		return true
	}
	for _, f := range p.cfg.NamespaceFilter {
		if strings.Contains(path, f) {
			return true
		}
	}
	return false
}
