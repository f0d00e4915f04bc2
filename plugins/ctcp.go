package plugins

import (
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/tethys-irc/tethys/internal/plugin"
)

const defaultVersion = "tethys"

// CTCP answers VERSION, TIME and PING requests and swallows every CTCP
// request once handled, so later plugins never see the raw framing.
// ACTION is passed through untouched.
func CTCP() *plugin.Descriptor {
	return &plugin.Descriptor{
		Name:     "ctcp",
		Priority: 10,
		Provides: []string{"ctcp-replies"},
		Handlers: map[string]plugin.Handler{
			"PRIVMSG": handleCTCP,
		},
	}
}

func handleCTCP(ctx *plugin.Context, msg ircmsg.Message) (plugin.Verdict, error) {
	if len(msg.Params) < 2 {
		return plugin.Continue, nil
	}
	command, args, ok := parseCTCP(msg.Params[1])
	if !ok || command == "ACTION" {
		return plugin.Continue, nil
	}

	nick := sourceNick(msg)
	if nick == "" || ctx.State.IsSelf(nick) {
		return plugin.Continue, nil
	}

	switch command {
	case "VERSION":
		version := defaultVersion
		if settings := ctx.Settings("ctcp"); settings != nil {
			if v, ok := settings["version"].(string); ok && v != "" {
				version = v
			}
		}
		ctx.SendCTCPReply(nick, "VERSION", version)
	case "TIME":
		ctx.SendCTCPReply(nick, "TIME", time.Now().Format(time.RFC1123))
	case "PING":
		ctx.SendCTCPReply(nick, "PING", args)
	default:
		ctx.Log.Debug().Str("command", command).Str("from", nick).Msg("unhandled CTCP request")
	}
	return plugin.SuppressRemaining, nil
}
