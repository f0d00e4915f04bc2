package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tethys-irc/tethys/internal/config"
)

// Registry holds the resolved, ordered plugin list and answers "which
// plugins are active for this network/channel scope". All capability
// dependency and conflict checking happens once, at construction
// against the configuration; per-message dispatch only filters.
type Registry struct {
	descriptors []*Descriptor // sorted by Priority, then Name
	global      config.PluginToggles
}

// NewRegistry orders the descriptors and validates capability
// dependencies and conflicts for every scope the configuration can
// produce. Any violation is fatal configuration, reported before a
// single network starts.
func NewRegistry(descriptors []*Descriptor, cfg *config.Config) (*Registry, error) {
	sorted := make([]*Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})

	seen := make(map[string]bool, len(sorted))
	for _, d := range sorted {
		if d.Name == "" {
			return nil, fmt.Errorf("plugin with empty name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate plugin %q", d.Name)
		}
		seen[d.Name] = true
	}

	r := &Registry{descriptors: sorted}
	if cfg != nil {
		r.global = cfg.Plugins
		if err := r.validate(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// validate checks every network scope and every channel override scope
// for unmet requirements and capability conflicts among the plugins
// that resolve to active there.
func (r *Registry) validate(cfg *config.Config) error {
	for name, net := range cfg.Networks {
		scopes := [][]*Descriptor{r.ActiveFor(net, "")}
		for channel := range net.Channels {
			scopes = append(scopes, r.ActiveFor(net, channel))
		}
		for _, active := range scopes {
			if err := checkCapabilities(active); err != nil {
				return &config.Error{Network: name, Message: err.Error()}
			}
		}
	}
	return nil
}

func checkCapabilities(active []*Descriptor) error {
	provided := make(map[string][]string) // capability -> provider names
	for _, d := range active {
		for _, capability := range d.Provides {
			provided[capability] = append(provided[capability], d.Name)
		}
	}

	for _, d := range active {
		for _, req := range d.Requires {
			if len(provided[req]) == 0 {
				return fmt.Errorf("plugin %q requires capability %q, provided by no active plugin", d.Name, req)
			}
		}
		for _, conflict := range d.Conflicts {
			for _, other := range provided[conflict] {
				if other != d.Name {
					return fmt.Errorf("plugins %q and %q conflict over capability %q", d.Name, other, conflict)
				}
			}
		}
	}
	return nil
}

// ActiveFor resolves the active plugin chain for a network, optionally
// narrowed to one channel. A plugin is active when it is globally
// enabled and not disabled globally or for the network, or when the
// network or channel explicitly enables it; a channel-level override
// always wins.
func (r *Registry) ActiveFor(net *config.NetworkConfig, channel string) []*Descriptor {
	var active []*Descriptor
	for _, d := range r.descriptors {
		if r.enabled(d.Name, net, channel) {
			active = append(active, d)
		}
	}
	return active
}

func (r *Registry) enabled(name string, net *config.NetworkConfig, channel string) bool {
	if channel != "" && net != nil {
		for chName, ch := range net.Channels {
			if ch.Plugins == nil || !strings.EqualFold(chName, channel) {
				continue
			}
			if override, ok := ch.Plugins[name]; ok {
				return override
			}
		}
	}
	if net != nil {
		if net.Plugins.HasEnabled(name) {
			return true
		}
		if net.Plugins.HasDisabled(name) {
			return false
		}
	}
	return r.global.HasEnabled(name) && !r.global.HasDisabled(name)
}

// Descriptors returns the full ordered descriptor list.
func (r *Registry) Descriptors() []*Descriptor {
	return r.descriptors
}
