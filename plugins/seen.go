package plugins

import (
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/tethys-irc/tethys/internal/plugin"
	"github.com/tethys-irc/tethys/internal/store"
)

// Seen records the last observed activity of every nick and answers
// "!seen <nick>" queries from the shared store. Sightings survive
// reconnects and restarts.
func Seen(st *store.Store) *plugin.Descriptor {
	s := &seenPlugin{store: st}
	return &plugin.Descriptor{
		Name:     "seen",
		Priority: 50,
		Provides: []string{"sightings"},
		Handlers: map[string]plugin.Handler{
			"PRIVMSG": s.handlePrivmsg,
			"JOIN":    s.record("join"),
			"PART":    s.record("part"),
			"QUIT":    s.record("quit"),
			"NICK":    s.record("nick"),
		},
	}
}

type seenPlugin struct {
	store *store.Store
}

func (s *seenPlugin) handlePrivmsg(ctx *plugin.Context, msg ircmsg.Message) (plugin.Verdict, error) {
	if len(msg.Params) < 2 {
		return plugin.Continue, nil
	}
	nick := sourceNick(msg)
	if nick == "" || ctx.State.IsSelf(nick) {
		return plugin.Continue, nil
	}
	target, text := msg.Params[0], msg.Params[1]

	channel := ""
	if ctx.State.Options.IsChannel(target) {
		channel = target
	}
	if err := s.store.RecordSighting(store.Sighting{
		Network: ctx.Network,
		Nick:    ctx.State.Options.Fold(nick),
		Channel: channel,
		Action:  "message",
		Detail:  text,
		SeenAt:  time.Now().UTC(),
	}); err != nil {
		return plugin.Continue, fmt.Errorf("record sighting: %w", err)
	}

	if query, ok := strings.CutPrefix(text, "!seen "); ok {
		replyTo := channel
		if replyTo == "" {
			replyTo = nick
		}
		return plugin.Continue, s.answer(ctx, replyTo, strings.TrimSpace(query))
	}
	return plugin.Continue, nil
}

func (s *seenPlugin) answer(ctx *plugin.Context, replyTo, query string) error {
	if query == "" {
		return nil
	}
	if ctx.State.IsSelf(query) {
		return ctx.SendMsg(replyTo, "that would be me")
	}

	sighting, err := s.store.LastSighting(ctx.Network, ctx.State.Options.Fold(query))
	if err != nil {
		return fmt.Errorf("look up sighting: %w", err)
	}
	if sighting == nil {
		return ctx.SendMsg(replyTo, fmt.Sprintf("I have not seen %s", query))
	}

	where := ""
	if sighting.Channel != "" {
		where = " in " + sighting.Channel
	}
	return ctx.SendMsg(replyTo, fmt.Sprintf("%s was last seen %s%s (%s)",
		query, sighting.SeenAt.Format("2006-01-02 15:04:05 MST"), where, sighting.Action))
}

// record returns a handler that notes presence changes.
func (s *seenPlugin) record(action string) plugin.Handler {
	return func(ctx *plugin.Context, msg ircmsg.Message) (plugin.Verdict, error) {
		nick := sourceNick(msg)
		if nick == "" || ctx.State.IsSelf(nick) {
			return plugin.Continue, nil
		}
		channel := ""
		detail := ""
		if len(msg.Params) > 0 {
			if ctx.State.Options.IsChannel(msg.Params[0]) {
				channel = msg.Params[0]
			} else if action == "quit" || action == "nick" {
				detail = msg.Params[0]
			}
		}
		err := s.store.RecordSighting(store.Sighting{
			Network: ctx.Network,
			Nick:    ctx.State.Options.Fold(nick),
			Channel: channel,
			Action:  action,
			Detail:  detail,
			SeenAt:  time.Now().UTC(),
		})
		if err != nil {
			err = fmt.Errorf("record sighting: %w", err)
		}
		return plugin.Continue, err
	}
}
