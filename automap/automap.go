// Package automap implements Topic Discovery / Auto-Mapping (C7): resolving
// an inbound (topic, sourceType) pair to a persisted TopicConfiguration,
// via stored lookup, user-defined mapping rules, or a default generator.
package automap

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"unsbroker/eventbus"
	"unsbroker/hierarchy"
	"unsbroker/metrics"
	"unsbroker/topicstore"

	"github.com/pkg/errors"
)

// Rule is one user-defined mapping rule: topics matching Pattern have
// Template's "{0}", "{1}", ... and "{name}" placeholders filled in from the
// regex's positional and named capture groups, producing a UNS path.
type Rule struct {
	Pattern  string
	Template string

	compiled *regexp.Regexp
}

// Config is the per-ingress-connection auto-mapper configuration.
type Config struct {
	Enabled           bool
	MinimumConfidence float64
	StripPrefixes     []string
	CaseSensitive     bool
	Rules             []Rule
}

const (
	confidenceExactHit = 1.0
	confidenceRuleMatch = 0.9
	confidenceDefault   = 0.7
)

// Mapper resolves topics to TopicConfigurations.
type Mapper struct {
	store  topicstore.Store
	hier   *hierarchy.Registry
	bus    *eventbus.Bus
	cfg    Config
	rules  []Rule

	mu        sync.RWMutex
	pathCache map[string]bool // known UNS paths, for the "exact tree hit" tier
}

// New compiles cfg's rules (skipping and logging malformed ones via the
// returned errs slice, matching the "log + drop that unit" error policy)
// and wires a Mapper.
func New(store topicstore.Store, hier *hierarchy.Registry, bus *eventbus.Bus, cfg Config) (*Mapper, []error) {
	m := &Mapper{store: store, hier: hier, bus: bus, cfg: cfg, pathCache: make(map[string]bool)}
	var errs []error
	for _, r := range cfg.Rules {
		pattern := r.Pattern
		if !cfg.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "automap: bad rule pattern %q", r.Pattern))
			continue
		}
		r.compiled = compiled
		m.rules = append(m.rules, r)
	}
	if bus != nil {
		eventbus.Subscribe(bus, func(ctx context.Context, ev eventbus.NamespaceStructureChanged) {
			m.InvalidateCache()
		})
	}
	return m, errs
}

// InvalidateCache drops the path-index cache; called on every
// NamespaceStructureChanged event, regardless of its ChangeType.
func (m *Mapper) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathCache = make(map[string]bool)
}

// SeedKnownPath registers path as an exact namespace-tree hit, so a later
// Resolve for a topic whose rule/default-generated path matches it exactly
// gets top confidence. Nothing in this module calls it outside tests;
// InvalidateCache clears what it seeded.
func (m *Mapper) SeedKnownPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathCache[path] = true
}

func (m *Mapper) knownPath(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCache[path]
}

func (m *Mapper) stripPrefixes(topic string) string {
	for _, p := range m.cfg.StripPrefixes {
		if strings.HasPrefix(topic, p) {
			return strings.TrimPrefix(topic, p)
		}
		if !m.cfg.CaseSensitive && len(topic) >= len(p) && strings.EqualFold(topic[:len(p)], p) {
			return topic[len(p):]
		}
	}
	return topic
}

// Resolve maps topic to a TopicConfiguration. If one is already stored and
// active it is returned as-is (no confidence scoring applies). Otherwise a
// mapping rule, or failing that the default generator, proposes a UNS path;
// if its confidence clears cfg.MinimumConfidence the mapping is persisted
// as unverified and TopicAutoMapped is published, else
// TopicAutoMappingFailed is published and nothing is written.
func (m *Mapper) Resolve(ctx context.Context, topic, sourceType string) (*topicstore.TopicConfiguration, error) {
	if existing, err := m.store.Get(ctx, topic); err == nil {
		return existing, nil
	}

	if !m.cfg.Enabled {
		m.publishFailed(ctx, topic, "auto-mapping disabled")
		return nil, nil
	}

	matchTopic := m.stripPrefixes(topic)

	unsName, confidence, ok := m.matchRules(matchTopic)
	if !ok {
		unsName, confidence = m.defaultGenerate(matchTopic)
	}
	if m.knownPath(unsName) {
		confidence = confidenceExactHit
	}

	if confidence < m.cfg.MinimumConfidence {
		metrics.Metrics.AutoMapRejected.Inc()
		m.publishFailed(ctx, topic, "confidence below minimum")
		return nil, nil
	}

	cfg := &topicstore.TopicConfiguration{
		Topic:            topic,
		SourceType:       sourceType,
		HierarchicalPath: hierarchy.FromPath(m.activeConfig(), unsName),
		UNSName:          unsName,
		IsVerified:       false,
	}
	if err := m.store.Save(ctx, cfg); err != nil {
		return nil, errors.Wrapf(err, "automap: saving %s", topic)
	}
	metrics.Metrics.AutoMapResolved.Inc()
	m.publish(ctx, eventbus.NewTopicAutoMapped(topic, confidence))
	return cfg, nil
}

func (m *Mapper) activeConfig() *hierarchy.Configuration {
	if m.hier == nil {
		return nil
	}
	return m.hier.Active()
}

func (m *Mapper) matchRules(topic string) (string, float64, bool) {
	for _, r := range m.rules {
		match := r.compiled.FindStringSubmatch(topic)
		if match == nil {
			continue
		}
		names := r.compiled.SubexpNames()
		out := r.Template
		for i, g := range match {
			out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", g)
			if i < len(names) && names[i] != "" {
				out = strings.ReplaceAll(out, "{"+names[i]+"}", g)
			}
		}
		return out, confidenceRuleMatch, true
	}
	return "", 0, false
}

// defaultGenerate implements the positional/envelope-prefix default
// generator described in §4.7.
func (m *Mapper) defaultGenerate(topic string) (string, float64) {
	var segs []string
	for _, s := range strings.Split(topic, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	if path, ok := envelopePrefixPath(segs); ok {
		return path, confidenceDefault
	}

	upperLevels := []string{"Enterprise", "Site", "Area", "WorkCenter", "WorkUnit"}
	lastIdx := len(segs) - 1
	out := make([]string, 0, len(upperLevels)+1)
	for i, lvl := range upperLevels {
		if i < lastIdx && i < len(segs) {
			out = append(out, segs[i])
		} else {
			out = append(out, lvl)
		}
	}
	if len(segs) > 0 {
		out = append(out, segs[lastIdx])
	} else {
		out = append(out, "Property")
	}
	return strings.Join(out, "/"), confidenceDefault
}

// envelopePrefixPath recognizes "socketio/update/..." and
// "virtualfactory/update/...": the segments after "update" map directly to
// hierarchy levels, in order.
func envelopePrefixPath(segs []string) (string, bool) {
	if len(segs) < 2 {
		return "", false
	}
	prefix := strings.ToLower(segs[0])
	if prefix != "socketio" && prefix != "virtualfactory" {
		return "", false
	}
	if strings.ToLower(segs[1]) != "update" {
		return "", false
	}
	rest := segs[2:]
	if len(rest) == 0 {
		return "", false
	}
	return strings.Join(rest, "/"), true
}

func (m *Mapper) publish(ctx context.Context, ev eventbus.Event) {
	if m.bus == nil {
		return
	}
	eventbus.Publish(ctx, m.bus, ev)
}

func (m *Mapper) publishFailed(ctx context.Context, topic, reason string) {
	m.publish(ctx, eventbus.NewTopicAutoMappingFailed(topic, reason))
}
