// Package plugins holds the built-in plugin set. Each constructor
// returns a Descriptor; the application registers them all and the
// configuration decides which ones actually run where.
package plugins

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/tethys-irc/tethys/internal/plugin"
	"github.com/tethys-irc/tethys/internal/store"
)

// All returns every built-in plugin, wired to the shared store.
func All(st *store.Store) []*plugin.Descriptor {
	return []*plugin.Descriptor{
		CTCP(),
		Seen(st),
		Notify(),
	}
}

// sourceNick extracts the nick from a nick!user@host source. Server
// sources (no "!") come back whole.
func sourceNick(msg ircmsg.Message) string {
	nick, _, _ := strings.Cut(msg.Source, "!")
	return nick
}

// parseCTCP splits a \x01-framed payload into its command and argument.
func parseCTCP(text string) (command, args string, ok bool) {
	if len(text) < 2 || text[0] != 0x01 {
		return "", "", false
	}
	body := strings.TrimSuffix(text[1:], "\x01")
	command, args, _ = strings.Cut(body, " ")
	return strings.ToUpper(command), args, command != ""
}
