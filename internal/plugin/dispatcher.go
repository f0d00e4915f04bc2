package plugin

import (
	"fmt"

	"github.com/ergochat/irc-go/ircmsg"
)

// Result reports what one dispatch did.
type Result struct {
	// Invoked is the number of plugin handlers that ran.
	Invoked int
	// SuppressedBy names the plugin that stopped the chain, if any.
	SuppressedBy string
	// Faults is the number of handlers that errored or panicked.
	Faults int
}

// Dispatcher routes each message through built-in state maintenance and
// then the active plugin chain. It is stateless: everything per-network
// travels in the Context, so one Dispatcher can serve every network.
// The calling supervisor invokes Dispatch sequentially per network,
// which is what keeps messages ordered.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch applies msg to the state, then invokes the plugin handlers
// registered for its command (or the wildcard) in priority order.
// Plugins enabled only for specific channels are filtered by the
// message's channel, when it has one. A handler fault never propagates:
// it is logged and the chain continues.
func (d *Dispatcher) Dispatch(ctx *Context, msg ircmsg.Message) Result {
	// Built-in maintenance always runs first and cannot be suppressed,
	// so every plugin observes a state consistent with this message.
	ctx.State.Apply(msg)

	var res Result
	channel := d.messageChannel(ctx, msg)

	for _, desc := range d.registry.ActiveFor(ctx.Config, channel) {
		handler := desc.Handlers[msg.Command]
		if handler == nil {
			handler = desc.Handlers[Wildcard]
		}
		if handler == nil {
			continue
		}

		verdict, err := d.invoke(ctx, desc, handler, msg)
		res.Invoked++
		if err != nil {
			res.Faults++
			ctx.Log.Warn().
				Err(err).
				Str("plugin", desc.Name).
				Str("command", msg.Command).
				Msg("plugin handler fault")
			continue
		}
		if verdict == SuppressRemaining {
			res.SuppressedBy = desc.Name
			break
		}
	}
	return res
}

// invoke runs one handler with panic containment.
func (d *Dispatcher) invoke(ctx *Context, desc *Descriptor, handler Handler, msg ircmsg.Message) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Continue
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// messageChannel extracts the channel scope of a message, or "" when it
// is not channel-directed.
func (d *Dispatcher) messageChannel(ctx *Context, msg ircmsg.Message) string {
	if len(msg.Params) == 0 {
		return ""
	}
	if ctx.State != nil && ctx.State.Options.IsChannel(msg.Params[0]) {
		return msg.Params[0]
	}
	return ""
}
