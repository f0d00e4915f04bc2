package irc

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/plugin"
	"github.com/tethys-irc/tethys/internal/retry"
)

func startListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func endpointFor(ln net.Listener) config.ServerEndpoint {
	addr := ln.Addr().(*net.TCPAddr)
	return config.ServerEndpoint{Host: "127.0.0.1", Port: addr.Port}
}

func networkConfig(eps ...config.ServerEndpoint) (*config.Config, *config.NetworkConfig) {
	netCfg := &config.NetworkConfig{
		Name:             "testnet",
		Nick:             "Bot",
		User:             "bot",
		Realname:         "Bot",
		Encoding:         "utf-8",
		FallbackEncoding: "latin1",
		Servers:          eps,
	}
	cfg := &config.Config{Networks: map[string]*config.NetworkConfig{"testnet": netCfg}}
	return cfg, netCfg
}

func newTestNetwork(t *testing.T, cfg *config.Config, netCfg *config.NetworkConfig) *Network {
	t.Helper()
	reg, err := plugin.NewRegistry(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	n, err := NewNetwork(netCfg, plugin.NewDispatcher(reg))
	if err != nil {
		t.Fatal(err)
	}
	n.backoff = &retry.Backoff{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return n
}

// session is the server half of one accepted connection, driven from
// the test goroutine.
type session struct {
	conn net.Conn
	r    *bufio.Reader
}

func accept(t *testing.T, ln net.Listener) *session {
	t.Helper()
	if tl, ok := ln.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(10 * time.Second))
	}
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return &session{conn: conn, r: bufio.NewReader(conn)}
}

func (s *session) readLine(t *testing.T) (string, bool) {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// expect reads lines until one starts with prefix, failing the test
// when the link ends first.
func (s *session) expect(t *testing.T, prefix string) string {
	t.Helper()
	for {
		line, ok := s.readLine(t)
		if !ok {
			t.Fatalf("connection ended while waiting for %q", prefix)
		}
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func (s *session) sendf(t *testing.T, format string, args ...any) {
	t.Helper()
	if _, err := fmt.Fprintf(s.conn, format+"\r\n", args...); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (s *session) welcome(t *testing.T, nick string) {
	s.sendf(t, ":srv 001 %s :welcome", nick)
}

func collectUntil(t *testing.T, ch <-chan Status, want Status) []Status {
	t.Helper()
	var seen []Status
	deadline := time.After(10 * time.Second)
	for {
		select {
		case s := <-ch:
			seen = append(seen, s)
			if s == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("never reached %v, saw %v", want, seen)
		}
	}
}

func statusString(seen []Status) string {
	parts := make([]string, len(seen))
	for i, s := range seen {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func TestFailoverAndEndpointReuse(t *testing.T) {
	bad := startListener(t)
	badEp := endpointFor(bad)
	bad.Close()

	good := startListener(t)
	defer good.Close()

	cfg, netCfg := networkConfig(badEp, endpointFor(good))
	n := newTestNetwork(t, cfg, netCfg)

	statusCh := make(chan Status, 64)
	n.OnStatus = func(s Status) { statusCh <- s }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	s1 := accept(t, good)
	s1.expect(t, "NICK Bot")
	s1.expect(t, "USER bot")
	s1.welcome(t, "Bot")

	seen := collectUntil(t, statusCh, StatusReady)
	if got := statusString(seen); got != "connecting,connecting,registering,ready" {
		t.Errorf("first connection transitions: %s", got)
	}

	// Drop the link. The supervisor must lead with the endpoint that
	// worked, so the second connection arrives at the same listener
	// after a single connecting attempt.
	s1.conn.Close()
	s2 := accept(t, good)
	s2.expect(t, "NICK Bot")
	s2.welcome(t, "Bot")

	seen = collectUntil(t, statusCh, StatusReady)
	if got := statusString(seen); got != "disconnected,connecting,registering,ready" {
		t.Errorf("reconnect transitions: %s", got)
	}

	cancel()
	s2.expect(t, "QUIT")
	s2.conn.Close()
	<-done

	if n.Status() != StatusStopped {
		t.Errorf("final status = %v", n.Status())
	}
}

func TestNickCollisionRetryAndAutojoin(t *testing.T) {
	good := startListener(t)
	defer good.Close()

	cfg, netCfg := networkConfig(endpointFor(good))
	netCfg.Channels = map[string]*config.ChannelConfig{
		"#ops":   {Key: "sesame"},
		"#later": {NoJoin: true},
	}
	n := newTestNetwork(t, cfg, netCfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	s := accept(t, good)
	s.expect(t, "NICK Bot")
	s.sendf(t, ":srv 433 * Bot :Nickname is already in use")
	s.expect(t, "NICK Bot1")
	s.welcome(t, "Bot1")

	s.expect(t, "MODE Bot1 +B")
	if line := s.expect(t, "JOIN"); line != "JOIN #ops sesame" {
		t.Errorf("autojoin line = %q", line)
	}

	cancel()
	for {
		line, ok := s.readLine(t)
		if !ok {
			t.Fatal("connection ended before QUIT")
		}
		if strings.HasPrefix(line, "JOIN") {
			t.Errorf("no_join channel was joined: %q", line)
		}
		if strings.HasPrefix(line, "QUIT") {
			break
		}
	}
	s.conn.Close()
	<-done
}

func TestSASLPlainHandshake(t *testing.T) {
	good := startListener(t)
	defer good.Close()

	cfg, netCfg := networkConfig(endpointFor(good))
	netCfg.SASL = config.SASLConfig{Mechanism: "PLAIN", Username: "alice", Password: "sesame"}
	n := newTestNetwork(t, cfg, netCfg)

	statusCh := make(chan Status, 64)
	n.OnStatus = func(s Status) { statusCh <- s }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	s := accept(t, good)
	s.expect(t, "CAP REQ sasl")
	s.expect(t, "NICK Bot")
	s.sendf(t, ":srv CAP * ACK :sasl")
	s.expect(t, "AUTHENTICATE PLAIN")
	s.sendf(t, "AUTHENTICATE +")

	want := base64.StdEncoding.EncodeToString([]byte("alice\x00alice\x00sesame"))
	if line := s.expect(t, "AUTHENTICATE"); line != "AUTHENTICATE "+want {
		t.Errorf("credentials line = %q", line)
	}
	s.sendf(t, ":srv 903 Bot :SASL authentication successful")
	s.expect(t, "CAP END")
	s.welcome(t, "Bot")

	collectUntil(t, statusCh, StatusReady)

	cancel()
	s.expect(t, "QUIT")
	s.conn.Close()
	<-done
}
