package config

import (
	"fmt"
	"strings"

	"github.com/tethys-irc/tethys/internal/codec"
)

// Validate checks every network record. Any failure is fatal: a half
// valid configuration never reaches a supervisor.
func (c *Config) Validate() error {
	for name, net := range c.Networks {
		if err := net.validate(); err != nil {
			return &Error{Network: name, Message: err.Error()}
		}
	}
	return nil
}

func (n *NetworkConfig) validate() error {
	if strings.TrimSpace(n.Nick) == "" {
		return fmt.Errorf("nick is required")
	}
	if strings.TrimSpace(n.User) == "" {
		return fmt.Errorf("user is required")
	}
	if strings.TrimSpace(n.Realname) == "" {
		return fmt.Errorf("realname is required")
	}
	if len(n.Servers) == 0 {
		return fmt.Errorf("at least one server is required")
	}
	for i, srv := range n.Servers {
		if err := validateServer(srv); err != nil {
			return fmt.Errorf("server %d: %w", i+1, err)
		}
	}
	for ch := range n.Channels {
		if err := ValidateChannelName(ch); err != nil {
			return err
		}
	}
	if _, err := codec.New(n.Encoding, n.FallbackEncoding); err != nil {
		return err
	}
	if n.SASL.Enabled() {
		switch n.SASL.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("unsupported SASL mechanism %q", n.SASL.Mechanism)
		}
		if n.SASL.Username == "" {
			return fmt.Errorf("SASL username is required")
		}
	}
	return nil
}

func validateServer(s ServerEndpoint) error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("server host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateChannelName checks an IRC channel name.
func ValidateChannelName(channel string) error {
	if channel == "" {
		return fmt.Errorf("channel name is required")
	}
	if !strings.ContainsAny(channel[:1], "#&+!") {
		return fmt.Errorf("channel name %q must start with #, &, + or !", channel)
	}
	if len(channel) > 200 {
		return fmt.Errorf("channel name %q too long (max 200 characters)", channel)
	}
	if strings.ContainsAny(channel, " \x00\x07\x0a\x0d,") {
		return fmt.Errorf("channel name %q contains invalid characters", channel)
	}
	return nil
}

// SecretStore resolves passwords kept outside the config file.
// *security.Keychain satisfies it.
type SecretStore interface {
	GetPassword(key string) (string, error)
}

// ResolveSecrets replaces every password set to the literal "keyring"
// with the value stored in the OS keychain. A missing secret is fatal,
// same as any other configuration error.
func (c *Config) ResolveSecrets(store SecretStore) error {
	for name, net := range c.Networks {
		if net.Password == "keyring" {
			pw, err := store.GetPassword(name)
			if err != nil || pw == "" {
				return &Error{Network: name, Message: "server password not found in keychain"}
			}
			net.Password = pw
		}
		if net.SASL.Enabled() && net.SASL.Password == "keyring" {
			pw, err := store.GetPassword(name + "/sasl")
			if err != nil || pw == "" {
				return &Error{Network: name, Message: "SASL password not found in keychain"}
			}
			net.SASL.Password = pw
		}
	}
	return nil
}
