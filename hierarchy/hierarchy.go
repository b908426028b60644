/*
 * COPYRIGHT 2024 UNS Broker Authors. All rights reserved.
 */

// Package hierarchy implements the ISA-S95-style hierarchical path (C1):
// an ordered mapping from level-name to level-value, canonicalized against
// a single active HierarchyConfiguration.
package hierarchy

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Level describes one rung of an active hierarchy schema.
type Level struct {
	Name            string
	Order           int
	IsRequired      bool
	AllowedChildren []string
}

// Configuration is a named, versioned schema of allowed levels. Exactly one
// Configuration may be active at a time within a process.
type Configuration struct {
	Name      string
	Version   int
	Levels    []Level
	IsActive  bool
	IsSystem  bool // system-defined configurations cannot be deleted
}

// DefaultLevels is the ISA-S95 default: Enterprise, Site, Area, WorkCenter,
// WorkUnit, Property.
var DefaultLevels = []Level{
	{Name: "Enterprise", Order: 0, IsRequired: true},
	{Name: "Site", Order: 1},
	{Name: "Area", Order: 2},
	{Name: "WorkCenter", Order: 3},
	{Name: "WorkUnit", Order: 4},
	{Name: "Property", Order: 5},
}

// DefaultConfiguration returns the stock ISA-S95 hierarchy configuration.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Name:     "ISA-95 Default",
		Version:  1,
		Levels:   append([]Level(nil), DefaultLevels...),
		IsActive: true,
		IsSystem: true,
	}
}

// registry is the process-wide set of known hierarchy configurations. There
// is deliberately no global lookup API here (per the "no ambient global
// singletons" redesign flag) -- callers thread a *Registry explicitly.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Configuration
	active string
}

// NewRegistry creates a Registry seeded with the default configuration.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Configuration)}
	def := DefaultConfiguration()
	r.byName[def.Name] = def
	r.active = def.Name
	return r
}

// Active returns the currently active HierarchyConfiguration.
func (r *Registry) Active() *Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[r.active]
}

// Add registers a new configuration. It does not activate it.
func (r *Registry) Add(cfg *Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[cfg.Name] = cfg
}

// Activate makes the named configuration the active one.
func (r *Registry) Activate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return errors.Errorf("hierarchy: unknown configuration %q", name)
	}
	r.active = name
	return nil
}

// Delete removes a configuration. Deleting the active configuration is
// refused.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.active {
		return errors.Errorf("hierarchy: cannot delete active configuration %q", name)
	}
	delete(r.byName, name)
	return nil
}

// Path is an ordered {level-name -> level-value} mapping, in the insertion
// order defined by the active HierarchyConfiguration it was built against.
type Path struct {
	cfg    *Configuration
	values map[string]string // lower-cased level name -> value
}

// NewPath returns an empty Path bound to cfg.
func NewPath(cfg *Configuration) *Path {
	return &Path{cfg: cfg, values: make(map[string]string)}
}

func levelKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SetValue assigns value to the named level. Unknown level names are still
// recorded -- callers may be working against a provisional schema -- but
// FullPath only emits the levels defined by cfg, in cfg's order.
func (p *Path) SetValue(level, value string) {
	p.values[levelKey(level)] = value
}

// GetValue returns the value assigned to level, or "" if unset.
func (p *Path) GetValue(level string) string {
	return p.values[levelKey(level)]
}

// FullPath joins the non-empty level values, in schema order, with "/".
func (p *Path) FullPath() string {
	var segs []string
	for _, lvl := range p.orderedLevels() {
		if v := p.values[levelKey(lvl.Name)]; v != "" {
			segs = append(segs, v)
		}
	}
	return strings.Join(segs, "/")
}

func (p *Path) orderedLevels() []Level {
	if p.cfg == nil {
		return nil
	}
	levels := append([]Level(nil), p.cfg.Levels...)
	// Levels are expected to already be in Order; a defensive stable sort
	// keeps FullPath correct even if a caller built Levels out of order.
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Order < levels[j-1].Order; j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
	return levels
}

// Equal compares two paths by their non-empty level values only, so a Path
// missing an optional level compares equal to one where that level is the
// empty string.
func (p *Path) Equal(o *Path) bool {
	if o == nil {
		return false
	}
	seen := make(map[string]bool)
	for k, v := range p.values {
		seen[k] = true
		if v != "" && v != o.values[k] {
			return false
		}
	}
	for k, v := range o.values {
		if seen[k] {
			continue
		}
		if v != "" && v != p.values[k] {
			return false
		}
	}
	return true
}

// FromPath splits s on "/" and assigns segments to the active
// configuration's ordered levels. Segments in excess of the number of
// levels collapse into the last level's value.
func FromPath(cfg *Configuration, s string) *Path {
	p := NewPath(cfg)
	if s == "" {
		return p
	}
	var segs []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	levels := p.orderedLevels()
	if len(levels) == 0 {
		return p
	}
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if i < len(levels)-1 {
			p.SetValue(levels[i].Name, seg)
		} else {
			// surplus segments collapse into the last level
			last := p.GetValue(levels[len(levels)-1].Name)
			if last == "" {
				p.SetValue(levels[len(levels)-1].Name, strings.Join(segs[i:], "/"))
			}
			break
		}
	}
	return p
}
