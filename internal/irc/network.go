package irc

import (
	"context"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"

	"github.com/tethys-irc/tethys/internal/codec"
	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/logger"
	"github.com/tethys-irc/tethys/internal/plugin"
	"github.com/tethys-irc/tethys/internal/retry"
	"github.com/tethys-irc/tethys/internal/state"
)

// Status is the supervisor's lifecycle position.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusRegistering
	StatusReady
	StatusDisconnected
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusRegistering:
		return "registering"
	case StatusReady:
		return "ready"
	case StatusDisconnected:
		return "disconnected"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	keepaliveTick   = 10 * time.Second
	keepaliveIdle   = 60 * time.Second
	pingTimeout     = 30 * time.Second
	stableThreshold = 60 * time.Second
	quitTimeout     = 2 * time.Second
)

// Network supervises one IRC network: it cycles through the configured
// endpoints, registers, keeps the link alive and feeds every incoming
// message through the dispatcher. It owns its Conn and State
// exclusively; a fresh State is built for every connection and the old
// one is dropped on disconnect, never patched.
type Network struct {
	name       string
	cfg        *config.NetworkConfig
	codec      *codec.Codec
	dispatcher *plugin.Dispatcher
	log        zerolog.Logger

	// OnStatus, when set before Run, observes every transition. It is
	// called from the supervisor goroutine.
	OnStatus func(Status)

	mu     sync.Mutex
	status Status

	serverIdx int
	backoff   *retry.Backoff
	epoch     int

	// Connection-scoped, reset by session.
	st           *state.State
	nick         string
	nickTries    int
	sasl         saslClient
	readyAt      time.Time
	lastActivity time.Time
	pingSent     time.Time
	awaitingPong bool
}

// NewNetwork builds a supervisor for cfg. The codec settings were
// validated with the config, so an error here means the config was
// never validated.
func NewNetwork(cfg *config.NetworkConfig, dispatcher *plugin.Dispatcher) (*Network, error) {
	cdc, err := codec.New(cfg.Encoding, cfg.FallbackEncoding)
	if err != nil {
		return nil, err
	}
	return &Network{
		name:       cfg.Name,
		cfg:        cfg,
		codec:      cdc,
		dispatcher: dispatcher,
		log:        logger.ForNetwork(cfg.Name),
		backoff:    retry.DefaultBackoff(),
	}, nil
}

// Status reports the current lifecycle position.
func (n *Network) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Network) setStatus(s Status) {
	n.mu.Lock()
	prev := n.status
	n.status = s
	n.mu.Unlock()
	n.log.Info().Stringer("from", prev).Stringer("to", s).Msg("status change")
	if n.OnStatus != nil {
		n.OnStatus(s)
	}
}

// Run drives the supervisor until ctx is cancelled. It never returns
// early on connection trouble; endpoint failures rotate through the
// server list and established-link losses retry with backoff.
func (n *Network) Run(ctx context.Context) {
	defer n.setStatus(StatusStopped)

	for {
		conn := n.connect(ctx)
		if conn == nil {
			return
		}
		n.session(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		n.setStatus(StatusDisconnected)
		delay := n.backoff.Next()
		n.log.Info().Dur("delay", delay).Msg("reconnect scheduled")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connect tries endpoints in round-robin order until one answers. The
// index advances only on failure, so after a success future reconnects
// lead with the endpoint that worked.
func (n *Network) connect(ctx context.Context) *Conn {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ep := n.cfg.Servers[n.serverIdx]
		n.setStatus(StatusConnecting)

		conn, err := Dial(ctx, ep, n.codec, n.log)
		if err == nil {
			return conn
		}

		n.log.Warn().Err(err).Str("host", ep.Host).Int("port", ep.Port).Msg("endpoint failed")
		n.serverIdx = (n.serverIdx + 1) % len(n.cfg.Servers)

		select {
		case <-time.After(n.backoff.Next()):
		case <-ctx.Done():
			return nil
		}
	}
}

// session runs one connection from registration to link loss or
// shutdown.
func (n *Network) session(ctx context.Context, conn *Conn) {
	defer conn.Close()

	n.epoch++
	n.st = state.New(n.epoch, n.cfg.Nick)
	n.nick = n.cfg.Nick
	n.nickTries = 0
	n.sasl = nil
	n.awaitingPong = false
	n.lastActivity = time.Now()
	pctx := plugin.NewContext(n.name, n.st, n.cfg, conn, n.log)

	n.setStatus(StatusRegistering)
	n.register(conn)

	keepalive := time.NewTicker(keepaliveTick)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			n.quit(conn)
			return

		case <-keepalive.C:
			if !n.checkLiveness(conn) {
				// Closed; drain until the reader winds down.
				continue
			}

		case msg, ok := <-conn.Incoming():
			if !ok {
				if err := conn.Err(); err != nil {
					n.log.Warn().Err(err).Msg("connection lost")
				}
				return
			}
			n.lastActivity = time.Now()
			n.handle(conn, msg)
			n.dispatcher.Dispatch(pctx, msg)
		}
	}
}

func (n *Network) register(conn *Conn) {
	if n.cfg.SASL.Enabled() {
		client, err := newSASLClient(n.cfg.SASL)
		if err != nil {
			// Mechanism was validated with the config.
			n.log.Error().Err(err).Msg("SASL setup failed")
		} else {
			n.sasl = client
			conn.Send(ircmsg.MakeMessage(nil, "", "CAP", "REQ", "sasl"))
		}
	}
	if n.cfg.Password != "" {
		conn.Send(ircmsg.MakeMessage(nil, "", "PASS", n.cfg.Password))
	}
	conn.Send(ircmsg.MakeMessage(nil, "", "NICK", n.nick))
	conn.Send(ircmsg.MakeMessage(nil, "", "USER", n.cfg.User, "0", "*", n.cfg.Realname))
}

// handle performs the supervisor's own protocol duties before the
// message reaches the dispatcher: liveness, registration, SASL and
// server-initiated termination.
func (n *Network) handle(conn *Conn, msg ircmsg.Message) {
	switch msg.Command {
	case "PING":
		conn.Send(ircmsg.MakeMessage(nil, "", "PONG", msg.Params...))

	case "PONG":
		if n.awaitingPong {
			n.awaitingPong = false
			n.log.Debug().Dur("latency", time.Since(n.pingSent)).Msg("keepalive pong")
		}

	case "ERROR":
		reason := ""
		if len(msg.Params) > 0 {
			reason = msg.Params[0]
		}
		n.log.Warn().Str("reason", reason).Msg("server terminated connection")
		conn.Close()

	case state.ErrNicknameInUse:
		if n.Status() == StatusRegistering {
			n.nickTries++
			n.nick = n.cfg.Nick + strconv.Itoa(n.nickTries)
			n.log.Info().Str("nick", n.nick).Msg("nick in use, retrying")
			conn.Send(ircmsg.MakeMessage(nil, "", "NICK", n.nick))
		}

	case state.RplWelcome:
		n.readyAt = time.Now()
		n.setStatus(StatusReady)
		if len(msg.Params) > 0 {
			n.nick = msg.Params[0]
		}
		conn.Send(ircmsg.MakeMessage(nil, "", "MODE", n.nick, "+B"))
		n.autojoin(conn)

	case "CAP":
		n.handleCAP(conn, msg)

	case "AUTHENTICATE":
		n.handleAuthenticate(conn, msg)

	case state.RplSASLSuccess:
		n.log.Info().Msg("SASL authentication succeeded")
		n.sasl = nil
		conn.Send(ircmsg.MakeMessage(nil, "", "CAP", "END"))

	case state.ErrSASLFail, state.ErrSASLTooLong, state.ErrSASLAborted, state.ErrSASLAlready:
		if n.sasl != nil {
			n.log.Warn().Str("numeric", msg.Command).Msg("SASL authentication failed")
			n.sasl = nil
			conn.Send(ircmsg.MakeMessage(nil, "", "CAP", "END"))
		}
	}
}

// handleCAP runs the minimal capability exchange around SASL. Anything
// beyond ACK/NAK of the one requested capability is left to the state
// layer, which tracks ACK and DEL for plugins.
func (n *Network) handleCAP(conn *Conn, msg ircmsg.Message) {
	if n.sasl == nil || len(msg.Params) < 3 {
		return
	}
	switch msg.Params[1] {
	case "ACK":
		if capListContains(msg.Params[2], "sasl") {
			conn.Send(ircmsg.MakeMessage(nil, "", "AUTHENTICATE", n.sasl.Mechanism()))
		}
	case "NAK":
		if capListContains(msg.Params[2], "sasl") {
			n.log.Warn().Msg("server refused sasl capability")
			n.sasl = nil
			conn.Send(ircmsg.MakeMessage(nil, "", "CAP", "END"))
		}
	}
}

func (n *Network) handleAuthenticate(conn *Conn, msg ircmsg.Message) {
	if n.sasl == nil || len(msg.Params) < 1 {
		return
	}

	var challenge []byte
	if payload := msg.Params[0]; payload != "+" {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			n.abortSASL(conn, err)
			return
		}
		challenge = decoded
	}

	resp, err := n.sasl.Step(challenge)
	if err != nil {
		n.abortSASL(conn, err)
		return
	}
	if len(resp) == 0 {
		conn.Send(ircmsg.MakeMessage(nil, "", "AUTHENTICATE", "+"))
		return
	}

	// Responses over 400 bytes are split; an exact multiple is
	// terminated with a bare "+".
	encoded := base64.StdEncoding.EncodeToString(resp)
	for len(encoded) > 0 {
		chunk := encoded
		if len(chunk) > 400 {
			chunk = chunk[:400]
		}
		encoded = encoded[len(chunk):]
		conn.Send(ircmsg.MakeMessage(nil, "", "AUTHENTICATE", chunk))
		if len(encoded) == 0 && len(chunk) == 400 {
			conn.Send(ircmsg.MakeMessage(nil, "", "AUTHENTICATE", "+"))
		}
	}
}

func (n *Network) abortSASL(conn *Conn, err error) {
	n.log.Warn().Err(err).Msg("aborting SASL authentication")
	n.sasl = nil
	conn.Send(ircmsg.MakeMessage(nil, "", "AUTHENTICATE", "*"))
	conn.Send(ircmsg.MakeMessage(nil, "", "CAP", "END"))
}

func (n *Network) autojoin(conn *Conn) {
	names := make([]string, 0, len(n.cfg.Channels))
	for name, ch := range n.cfg.Channels {
		if ch == nil || !ch.NoJoin {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		params := []string{name}
		if ch := n.cfg.Channels[name]; ch != nil && ch.Key != "" {
			params = append(params, ch.Key)
		}
		conn.Send(ircmsg.MakeMessage(nil, "", "JOIN", params...))
	}
}

// checkLiveness probes an idle link and tears it down when a probe goes
// unanswered. Returns false if it closed the connection. A long stable
// Ready period also resets the backoff here, so the next disconnect
// retries quickly again.
func (n *Network) checkLiveness(conn *Conn) bool {
	if n.Status() == StatusReady && n.backoff.Failures() > 0 && time.Since(n.readyAt) > stableThreshold {
		n.backoff.Reset()
	}

	if n.awaitingPong {
		if time.Since(n.pingSent) > pingTimeout {
			n.log.Warn().Msg("ping timeout")
			conn.Close()
			return false
		}
		return true
	}
	if time.Since(n.lastActivity) > keepaliveIdle {
		n.pingSent = time.Now()
		n.awaitingPong = true
		conn.Send(ircmsg.MakeMessage(nil, "", "PING",
			"LAG_"+strconv.FormatInt(n.pingSent.UnixMilli(), 10)))
	}
	return true
}

// quit sends a best-effort QUIT and waits briefly for the server to
// close the link, so shutdown never hangs on a dead peer.
func (n *Network) quit(conn *Conn) {
	conn.Send(ircmsg.MakeMessage(nil, "", "QUIT", "shutting down"))

	timeout := time.NewTimer(quitTimeout)
	defer timeout.Stop()
	for {
		select {
		case _, ok := <-conn.Incoming():
			if !ok {
				return
			}
		case <-timeout.C:
			return
		}
	}
}

func capListContains(list, name string) bool {
	for _, capability := range strings.Fields(list) {
		if capability == name || capability == "-"+name {
			return true
		}
	}
	return false
}
