package plugins

import (
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/gen2brain/beeep"

	"github.com/tethys-irc/tethys/internal/plugin"
)

// Notify raises a desktop notification for direct messages and channel
// messages that mention the own nick.
func Notify() *plugin.Descriptor {
	return &plugin.Descriptor{
		Name:     "notify",
		Priority: 60,
		Handlers: map[string]plugin.Handler{
			"PRIVMSG": handleNotify,
		},
	}
}

func handleNotify(ctx *plugin.Context, msg ircmsg.Message) (plugin.Verdict, error) {
	if len(msg.Params) < 2 {
		return plugin.Continue, nil
	}
	nick := sourceNick(msg)
	if nick == "" || ctx.State.IsSelf(nick) {
		return plugin.Continue, nil
	}
	target, text := msg.Params[0], msg.Params[1]
	if strings.HasPrefix(text, "\x01") {
		return plugin.Continue, nil
	}

	var title string
	switch {
	case !ctx.State.Options.IsChannel(target):
		title = fmt.Sprintf("%s (%s)", nick, ctx.Network)
	case mentionsNick(ctx, text):
		title = fmt.Sprintf("%s in %s (%s)", nick, target, ctx.Network)
	default:
		return plugin.Continue, nil
	}

	if err := beeep.Notify(title, text, ""); err != nil {
		return plugin.Continue, fmt.Errorf("desktop notification: %w", err)
	}
	return plugin.Continue, nil
}

func mentionsNick(ctx *plugin.Context, text string) bool {
	fold := ctx.State.Options.Fold
	return strings.Contains(fold(text), fold(ctx.State.Nick))
}
