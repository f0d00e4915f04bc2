package state

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// Server reply numerics the maintenance handlers care about.
const (
	RplWelcome     = "001"
	RplISupport    = "005"
	RplChannelMode = "324"
	RplNoTopic     = "331"
	RplTopic       = "332"
	RplNamReply    = "353"
	RplEndOfNames  = "366"

	ErrNicknameInUse = "433"

	RplSASLSuccess = "903"
	ErrSASLFail    = "904"
	ErrSASLTooLong = "905"
	ErrSASLAborted = "906"
	ErrSASLAlready = "907"
)

// Apply updates the state for one incoming message. It runs before any
// plugin sees the message, so plugins always observe a State consistent
// with it. Apply never fails: messages with unexpected parameter shapes
// are counted as anomalies and otherwise ignored.
func (s *State) Apply(msg ircmsg.Message) {
	switch msg.Command {
	case RplWelcome:
		// The server confirms (and may have rewritten) our nick.
		if len(msg.Params) >= 1 {
			s.Nick = msg.Params[0]
		}
	case RplISupport:
		s.applyISupport(msg)
	case "CAP":
		s.applyCap(msg)
	case "NICK":
		s.applyNick(msg)
	case "JOIN":
		s.applyJoin(msg)
	case "PART":
		s.applyPart(msg)
	case "KICK":
		s.applyKick(msg)
	case "QUIT":
		s.applyQuit(msg)
	case "MODE":
		s.applyMode(msg)
	case "TOPIC":
		s.applyTopic(msg)
	case RplNoTopic:
		if ch := s.paramChannel(msg, 1); ch != nil {
			ch.Topic = ""
		}
	case RplTopic:
		if len(msg.Params) >= 3 {
			if ch := s.paramChannel(msg, 1); ch != nil {
				ch.Topic = msg.Params[2]
			}
		} else {
			s.Anomalies++
		}
	case RplChannelMode:
		// 324 <us> <channel> <modes> [args...]
		if len(msg.Params) >= 3 {
			s.applyModeChange(msg.Params[1], msg.Params[2:])
		}
	case RplNamReply:
		s.applyNames(msg)
	case RplEndOfNames:
		if ch := s.paramChannel(msg, 1); ch != nil {
			ch.namesPending = false
		}
	case "AWAY":
		if u := s.sourceUser(msg); u != nil {
			u.Away = len(msg.Params) > 0 && msg.Params[0] != ""
		}
	case "ACCOUNT":
		if u := s.sourceUser(msg); u != nil && len(msg.Params) >= 1 {
			if msg.Params[0] == "*" {
				u.Account = ""
			} else {
				u.Account = msg.Params[0]
			}
		}
	}
}

// paramChannel fetches a known channel named by parameter idx, counting
// an anomaly when the parameter is missing.
func (s *State) paramChannel(msg ircmsg.Message, idx int) *Channel {
	if len(msg.Params) <= idx {
		s.Anomalies++
		return nil
	}
	return s.Channel(msg.Params[idx])
}

// sourceUser returns the user record for the message source, updating
// ident/host from the prefix as a side effect.
func (s *State) sourceUser(msg ircmsg.Message) *User {
	nick, user, host := splitNUH(msg.Source)
	if nick == "" {
		return nil
	}
	u := s.User(nick)
	if u != nil {
		if user != "" {
			u.User = user
		}
		if host != "" {
			u.Host = host
		}
	}
	return u
}

func (s *State) applyISupport(msg ircmsg.Message) {
	// 005 <us> TOKEN... :are supported by this server
	if len(msg.Params) < 2 {
		s.Anomalies++
		return
	}
	for _, token := range msg.Params[1 : len(msg.Params)-1] {
		s.Options.Set(token)
	}
}

func (s *State) applyCap(msg ircmsg.Message) {
	// CAP <us> ACK/DEL :cap1 cap2 ...
	if len(msg.Params) < 3 {
		return
	}
	caps := strings.Fields(msg.Params[len(msg.Params)-1])
	switch msg.Params[1] {
	case "ACK":
		for _, c := range caps {
			if name, ok := strings.CutPrefix(c, "-"); ok {
				delete(s.Caps, name)
				continue
			}
			name, value, _ := strings.Cut(c, "=")
			s.Caps[name] = value
		}
	case "DEL":
		for _, c := range caps {
			delete(s.Caps, c)
		}
	}
}

func (s *State) applyNick(msg ircmsg.Message) {
	oldNick, _, _ := splitNUH(msg.Source)
	if oldNick == "" || len(msg.Params) < 1 {
		s.Anomalies++
		return
	}
	newNick := msg.Params[0]

	lold := s.Options.Fold(oldNick)
	lnew := s.Options.Fold(newNick)

	if u, ok := s.Users[lold]; ok {
		delete(s.Users, lold)
		u.Nick = newNick
		s.Users[lnew] = u
	}
	for _, ch := range s.Channels {
		if m, ok := ch.Members[lold]; ok {
			delete(ch.Members, lold)
			m.Nick = newNick
			ch.Members[lnew] = m
		}
	}

	if s.Options.Eq(oldNick, s.Nick) {
		s.Nick = newNick
	}
}

func (s *State) applyJoin(msg ircmsg.Message) {
	nick, user, host := splitNUH(msg.Source)
	if nick == "" || len(msg.Params) < 1 {
		s.Anomalies++
		return
	}
	channel := msg.Params[0]

	var ch *Channel
	if s.IsSelf(nick) {
		ch = s.ensureChannel(channel)
	} else {
		ch = s.Channel(channel)
		if ch == nil {
			// JOIN for a channel we are not in; nothing to track.
			s.Anomalies++
			return
		}
	}

	u := s.ensureUser(nick)
	if user != "" {
		u.User = user
	}
	if host != "" {
		u.Host = host
	}
	// extended-join carries account and realname as extra params.
	if len(msg.Params) >= 3 && msg.Params[1] != "*" {
		u.Account = msg.Params[1]
	}

	lnick := s.Options.Fold(nick)
	if _, ok := ch.Members[lnick]; !ok {
		ch.Members[lnick] = &Member{Nick: nick}
	}
}

func (s *State) applyPart(msg ircmsg.Message) {
	nick, _, _ := splitNUH(msg.Source)
	if nick == "" || len(msg.Params) < 1 {
		s.Anomalies++
		return
	}
	s.removeFromChannel(nick, msg.Params[0])
}

func (s *State) applyKick(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		s.Anomalies++
		return
	}
	s.removeFromChannel(msg.Params[1], msg.Params[0])
}

func (s *State) applyQuit(msg ircmsg.Message) {
	nick, _, _ := splitNUH(msg.Source)
	if nick == "" {
		s.Anomalies++
		return
	}
	s.removeEverywhere(nick)
}

func (s *State) applyTopic(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		s.Anomalies++
		return
	}
	ch := s.Channel(msg.Params[0])
	if ch == nil {
		return
	}
	if len(msg.Params) >= 2 {
		ch.Topic = msg.Params[1]
	} else {
		ch.Topic = ""
	}
}

func (s *State) applyMode(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		s.Anomalies++
		return
	}
	target := msg.Params[0]
	if !s.Options.IsChannel(target) {
		return // user modes not tracked
	}
	s.applyModeChange(target, msg.Params[1:])
}

// applyModeChange walks a channel mode string, toggling membership modes
// on members and flag/arg modes on the channel. Argument consumption
// follows CHANMODES=A,B,C,D: types A and B always take one, C only when
// setting, D never; membership (PREFIX) modes always take one.
func (s *State) applyModeChange(channel string, params []string) {
	ch := s.Channel(channel)
	if ch == nil || len(params) == 0 {
		return
	}

	chanmodes := s.Options.Get("chanmodes")
	if chanmodes == "" {
		chanmodes = "b,k,l,imnpst"
	}
	groups := strings.SplitN(chanmodes, ",", 4)
	for len(groups) < 4 {
		groups = append(groups, "")
	}
	typeA, typeB, typeC := groups[0], groups[1], groups[2]
	prefixModes := s.Options.PrefixModes()

	modes := params[0]
	args := params[1:]
	adding := true

	takeArg := func() string {
		if len(args) == 0 {
			return ""
		}
		arg := args[0]
		args = args[1:]
		return arg
	}

	for i := 0; i < len(modes); i++ {
		mode := modes[i]
		switch mode {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		switch {
		case strings.IndexByte(prefixModes, mode) >= 0:
			nick := takeArg()
			if nick == "" {
				s.Anomalies++
				continue
			}
			if m, ok := ch.Members[s.Options.Fold(nick)]; ok {
				if adding {
					if !m.HasMode(mode) {
						m.Modes += string(mode)
					}
				} else {
					m.Modes = strings.ReplaceAll(m.Modes, string(mode), "")
				}
			}
		case strings.IndexByte(typeA, mode) >= 0:
			// List modes (bans etc.): argument consumed, list itself
			// not tracked.
			takeArg()
		case strings.IndexByte(typeB, mode) >= 0:
			arg := takeArg()
			if adding {
				ch.Modes[mode] = arg
			} else {
				delete(ch.Modes, mode)
			}
		case strings.IndexByte(typeC, mode) >= 0:
			if adding {
				ch.Modes[mode] = takeArg()
			} else {
				delete(ch.Modes, mode)
			}
		default:
			if adding {
				ch.Modes[mode] = ""
			} else {
				delete(ch.Modes, mode)
			}
		}
	}
}

func (s *State) applyNames(msg ircmsg.Message) {
	// 353 <us> <symbol> <channel> :@nick1 +nick2 nick3
	if len(msg.Params) < 4 {
		s.Anomalies++
		return
	}
	ch := s.Channel(msg.Params[2])
	if ch == nil {
		s.Anomalies++
		return
	}

	// The first reply of a burst replaces the member list, so a manual
	// NAMES refresh converges instead of accumulating stale entries.
	if !ch.namesPending {
		ch.namesPending = true
		ch.Members = make(map[string]*Member)
	}

	for _, prefixed := range strings.Fields(msg.Params[3]) {
		nick, modes := s.Options.SplitPrefixes(prefixed)
		if nick == "" {
			continue
		}
		s.ensureUser(nick)
		ch.Members[s.Options.Fold(nick)] = &Member{Nick: nick, Modes: modes}
	}
}
