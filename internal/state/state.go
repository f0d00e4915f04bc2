// Package state tracks everything known about one IRC network during a
// single connection epoch: joined channels and their members, visible
// users, the client's own nick, negotiated capabilities and server
// options. A State is created fresh for every connection and discarded
// wholesale on disconnect; nothing in it survives a reconnect.
package state

import (
	"strings"
)

// State is the per-epoch snapshot. It is confined to its network's
// supervisor goroutine and needs no locking: all mutation happens in
// dispatch order on that one goroutine.
type State struct {
	// Epoch numbers connections within one supervisor, starting at 1.
	Epoch int

	// Nick is the client's own current nickname. It can change through
	// the protocol (433 fallback, NICK).
	Nick string

	// Channels maps folded channel name to channel state.
	Channels map[string]*Channel
	// Users maps folded nick to user state, for users sharing at least
	// one channel with us.
	Users map[string]*User

	// Caps holds acknowledged capability names and their values.
	Caps map[string]string

	// Options is the ISUPPORT view.
	Options *Options

	// Anomalies counts messages whose parameter shape did not match
	// what the maintenance handlers expect. Never fatal.
	Anomalies int
}

// Channel is the state of one joined channel.
type Channel struct {
	Name    string
	Topic   string
	Modes   map[byte]string // mode letter -> argument ("" for flags)
	Members map[string]*Member

	// namesPending is set while a NAMES burst is being collected so the
	// first 353 of a burst resets the member list.
	namesPending bool
}

// Member is one nick's membership in one channel.
type Member struct {
	Nick  string
	Modes string // membership mode letters, e.g. "o" for +o
}

// HasMode reports whether the member holds the given membership mode.
func (m *Member) HasMode(mode byte) bool {
	return strings.IndexByte(m.Modes, mode) >= 0
}

// User is what we know about a nick across channels.
type User struct {
	Nick    string
	User    string
	Host    string
	Account string
	Away    bool
}

// New creates an empty State for a new connection epoch.
func New(epoch int, nick string) *State {
	return &State{
		Epoch:    epoch,
		Nick:     nick,
		Channels: make(map[string]*Channel),
		Users:    make(map[string]*User),
		Caps:     make(map[string]string),
		Options:  NewOptions(),
	}
}

// IsSelf reports whether nick is our own, under the casemapping.
func (s *State) IsSelf(nick string) bool {
	return s.Options.Eq(nick, s.Nick)
}

// Channel returns the channel state for name, or nil.
func (s *State) Channel(name string) *Channel {
	return s.Channels[s.Options.Fold(name)]
}

// User returns the user state for nick, or nil.
func (s *State) User(nick string) *User {
	return s.Users[s.Options.Fold(nick)]
}

func (s *State) ensureChannel(name string) *Channel {
	key := s.Options.Fold(name)
	ch := s.Channels[key]
	if ch == nil {
		ch = &Channel{
			Name:    name,
			Modes:   make(map[byte]string),
			Members: make(map[string]*Member),
		}
		s.Channels[key] = ch
	}
	return ch
}

func (s *State) ensureUser(nick string) *User {
	key := s.Options.Fold(nick)
	u := s.Users[key]
	if u == nil {
		u = &User{Nick: nick}
		s.Users[key] = u
	}
	return u
}

// splitNUH splits a "nick!user@host" source into its parts. Server
// sources (no '!') come back with only nick set.
func splitNUH(source string) (nick, user, host string) {
	nick = source
	if i := strings.IndexByte(nick, '!'); i >= 0 {
		nick, user = nick[:i], nick[i+1:]
		if j := strings.IndexByte(user, '@'); j >= 0 {
			user, host = user[:j], user[j+1:]
		}
	} else if i := strings.IndexByte(nick, '@'); i >= 0 {
		nick, host = nick[:i], nick[i+1:]
	}
	return nick, user, host
}

// seenElsewhere reports whether nick is a member of any channel other
// than except (folded).
func (s *State) seenElsewhere(foldedNick, exceptChannel string) bool {
	for key, ch := range s.Channels {
		if key == exceptChannel {
			continue
		}
		if _, ok := ch.Members[foldedNick]; ok {
			return true
		}
	}
	return false
}

// removeFromChannel removes nick from channel, dropping the user record
// when they are no longer visible anywhere, and dropping the whole
// channel (plus newly invisible users) when the nick is our own.
func (s *State) removeFromChannel(nick, channel string) {
	lch := s.Options.Fold(channel)
	lnick := s.Options.Fold(nick)

	ch := s.Channels[lch]
	if ch == nil {
		return
	}

	if s.IsSelf(nick) {
		delete(s.Channels, lch)
		for member := range ch.Members {
			if member != lnick && !s.seenElsewhere(member, lch) {
				delete(s.Users, member)
			}
		}
		return
	}

	delete(ch.Members, lnick)
	if !s.seenElsewhere(lnick, "") {
		delete(s.Users, lnick)
	}
}

// removeEverywhere handles a QUIT: the nick leaves all channels and the
// user table.
func (s *State) removeEverywhere(nick string) {
	lnick := s.Options.Fold(nick)
	for _, ch := range s.Channels {
		delete(ch.Members, lnick)
	}
	delete(s.Users, lnick)
}
