package irc

import (
	"fmt"

	"github.com/tethys-irc/tethys/internal/config"
)

// saslClient drives one authentication exchange. Step receives the
// decoded server challenge (nil for the initial "+") and returns the
// payload to send back; an empty payload becomes "AUTHENTICATE +".
type saslClient interface {
	Mechanism() string
	Step(challenge []byte) ([]byte, error)
}

func newSASLClient(cfg config.SASLConfig) (saslClient, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return &plainClient{username: cfg.Username, password: cfg.Password}, nil
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		return newScramClient(cfg.Mechanism, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
}

type plainClient struct {
	username string
	password string
	done     bool
}

func (p *plainClient) Mechanism() string { return "PLAIN" }

func (p *plainClient) Step(challenge []byte) ([]byte, error) {
	if p.done {
		return nil, fmt.Errorf("unexpected PLAIN challenge %q", challenge)
	}
	p.done = true
	resp := make([]byte, 0, len(p.username)*2+len(p.password)+2)
	resp = append(resp, p.username...)
	resp = append(resp, 0)
	resp = append(resp, p.username...)
	resp = append(resp, 0)
	resp = append(resp, p.password...)
	return resp, nil
}
