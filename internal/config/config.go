// Package config loads and validates the runtime configuration: the set
// of networks, their server lists and identities, and plugin enablement.
// The rest of the program consumes resolved NetworkConfig records and
// never re-reads the file; a reload means building a new Config and
// restarting the affected supervisors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error is a fatal configuration problem. It aborts startup before any
// network supervisor is created.
type Error struct {
	Network string // empty for global problems
	Message string
}

func (e *Error) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("config: network %q: %s", e.Network, e.Message)
	}
	return "config: " + e.Message
}

// ServerEndpoint is one address a network can be reached at. Endpoints
// are immutable and ordered; the supervisor walks the list round-robin.
type ServerEndpoint struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLS        bool   `yaml:"tls"`
	VerifyCert bool   `yaml:"verify_cert"`
}

func (s ServerEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerEndpoint) String() string {
	if s.TLS {
		return fmt.Sprintf("%s:+%d", s.Host, s.Port)
	}
	return s.Addr()
}

// UnmarshalYAML accepts either a mapping or the compact string form
// "host:port", with "host:+port" marking a TLS endpoint.
func (s *ServerEndpoint) UnmarshalYAML(value *yaml.Node) error {
	s.VerifyCert = true

	if value.Kind == yaml.ScalarNode {
		return s.fromString(value.Value)
	}

	type plain ServerEndpoint
	p := plain{VerifyCert: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = ServerEndpoint(p)
	s.applyDefaultPort()
	return nil
}

func (s *ServerEndpoint) fromString(str string) error {
	host, portStr, found := strings.Cut(str, ":")
	if found {
		if strings.HasPrefix(portStr, "+") {
			s.TLS = true
			portStr = portStr[1:]
		}
		if portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port in server %q", str)
			}
			s.Port = port
		}
	}
	s.Host = host
	s.applyDefaultPort()
	return nil
}

func (s *ServerEndpoint) applyDefaultPort() {
	if s.Port == 0 {
		if s.TLS {
			s.Port = 6697
		} else {
			s.Port = 6667
		}
	}
}

// ChannelConfig holds per-channel options: an optional join key and
// plugin overrides (true forces a plugin on in this channel, false
// forces it off).
type ChannelConfig struct {
	Key      string          `yaml:"key"`
	NoJoin   bool            `yaml:"no_join"`
	Plugins  map[string]bool `yaml:"plugins"`
	Settings map[string]any  `yaml:"settings"`
}

// PluginToggles is an enable/disable list pair used at both global and
// network scope.
type PluginToggles struct {
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
}

func (t PluginToggles) HasEnabled(name string) bool  { return contains(t.Enabled, name) }
func (t PluginToggles) HasDisabled(name string) bool { return contains(t.Disabled, name) }

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// SASLConfig configures authentication during registration. Password
// may be the literal string "keyring" to resolve the secret from the OS
// keychain at startup.
type SASLConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

func (s SASLConfig) Enabled() bool { return s.Mechanism != "" }

// NetworkConfig is the fully resolved settings record for one network.
// It is owned by that network's supervisor and never mutated after
// loading.
type NetworkConfig struct {
	Name string `yaml:"-"`

	Nick     string `yaml:"nick"`
	User     string `yaml:"user"`
	Realname string `yaml:"realname"`

	// Password is the server password (PASS), optionally "keyring".
	Password string     `yaml:"password"`
	SASL     SASLConfig `yaml:"sasl"`

	Encoding         string `yaml:"encoding"`
	FallbackEncoding string `yaml:"fallback_encoding"`

	Servers  []ServerEndpoint          `yaml:"servers"`
	Channels map[string]*ChannelConfig `yaml:"channels"`

	Plugins        PluginToggles             `yaml:"plugins"`
	PluginSettings map[string]map[string]any `yaml:"plugin_settings"`
}

// Config is the whole file: global plugin toggles plus one record per
// network.
type Config struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Plugins  PluginToggles             `yaml:"plugins"`
	Networks map[string]*NetworkConfig `yaml:"networks"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return Parse(raw)
}

// Parse builds a Config from YAML bytes and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if len(c.Networks) == 0 {
		return &Error{Message: "no networks configured"}
	}
	for name, net := range c.Networks {
		if net == nil {
			return &Error{Network: name, Message: "empty network section"}
		}
		net.Name = name
		if net.Encoding == "" {
			net.Encoding = "utf-8"
		}
		if net.FallbackEncoding == "" {
			net.FallbackEncoding = "latin1"
		}
		// Channel names without a type sigil get one, matching the
		// shorthand users write in the channels mapping.
		normalized := make(map[string]*ChannelConfig, len(net.Channels))
		for chName, chConf := range net.Channels {
			if chName == "" {
				return &Error{Network: name, Message: "empty channel name"}
			}
			if chConf == nil {
				chConf = &ChannelConfig{}
			}
			if !strings.ContainsAny(chName[:1], "#&+!") {
				chName = "#" + chName
			}
			normalized[chName] = chConf
		}
		net.Channels = normalized
	}
	return nil
}
