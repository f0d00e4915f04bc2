// Package plugin defines the handler layer that sits behind the
// protocol core: plugin descriptors with capability declarations, the
// registry that resolves which plugins are active where, and the
// dispatcher that feeds messages through state maintenance and the
// plugin chain in order.
package plugin

import (
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"

	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/state"
)

// Verdict is what a handler tells the dispatcher to do next.
type Verdict int

const (
	// Continue passes the message on to the remaining handlers.
	Continue Verdict = iota
	// SuppressRemaining stops dispatch of this message; handlers later
	// in the chain never see it. Built-in state maintenance has already
	// run and cannot be suppressed.
	SuppressRemaining
)

// Handler processes one message. Returning an error marks a plugin
// fault: it is logged and dispatch continues as if the handler had
// returned Continue. A panic inside a handler is treated the same way.
type Handler func(ctx *Context, msg ircmsg.Message) (Verdict, error)

// Wildcard registers a handler for every command.
const Wildcard = "*"

// Descriptor declares one plugin: its identity, its capability tags for
// dependency and conflict resolution, and its handlers keyed by command
// name (or Wildcard).
type Descriptor struct {
	Name string

	// Priority orders plugins in the dispatch chain; lower runs first.
	Priority int

	// Provides, Requires and Conflicts are capability tags. Requires
	// must be provided by some other active plugin in the same scope;
	// two active plugins must never conflict. Both are checked once at
	// configuration resolution, not per message.
	Provides  []string
	Requires  []string
	Conflicts []string

	Handlers map[string]Handler
}

// Sender enqueues an outgoing message on the network's connection. It
// is safe to call from inside a handler; the send is queued, not
// written inline.
type Sender interface {
	Send(msg ircmsg.Message) error
}

// Context is passed to every handler invocation. It carries the
// network's per-epoch State (read access is consistent at call time;
// handlers mutate the network only through messages, never by holding
// connection internals) and the resolved network configuration.
type Context struct {
	Network string
	State   *state.State
	Config  *config.NetworkConfig
	Log     zerolog.Logger

	sender Sender
}

// NewContext builds a dispatch context for one network epoch.
func NewContext(network string, st *state.State, cfg *config.NetworkConfig, sender Sender, log zerolog.Logger) *Context {
	return &Context{
		Network: network,
		State:   st,
		Config:  cfg,
		Log:     log,
		sender:  sender,
	}
}

// Send enqueues a raw message.
func (c *Context) Send(msg ircmsg.Message) error {
	return c.sender.Send(msg)
}

// SendCmd enqueues a command with parameters.
func (c *Context) SendCmd(command string, params ...string) error {
	return c.Send(ircmsg.MakeMessage(nil, "", command, params...))
}

// SendMsg enqueues a PRIVMSG to a channel or nick.
func (c *Context) SendMsg(target, text string) error {
	return c.SendCmd("PRIVMSG", target, text)
}

// SendNotice enqueues a NOTICE to a channel or nick.
func (c *Context) SendNotice(target, text string) error {
	return c.SendCmd("NOTICE", target, text)
}

// SendCTCPReply enqueues a CTCP reply, which the protocol carries as a
// NOTICE wrapped in \x01 markers.
func (c *Context) SendCTCPReply(target, command, text string) error {
	if text != "" {
		text = " " + text
	}
	return c.SendNotice(target, "\x01"+command+text+"\x01")
}

// Settings returns the per-plugin settings mapping for name, or nil.
func (c *Context) Settings(name string) map[string]any {
	if c.Config == nil {
		return nil
	}
	return c.Config.PluginSettings[name]
}
