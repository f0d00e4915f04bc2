package state

import (
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
)

func parse(t *testing.T, line string) ircmsg.Message {
	t.Helper()
	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", line, err)
	}
	return msg
}

func apply(t *testing.T, s *State, lines ...string) {
	t.Helper()
	for _, line := range lines {
		s.Apply(parse(t, line))
	}
}

func TestJoinThenTopicOrdering(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":alice!a@h TOPIC #a :some topic text",
	)

	ch := s.Channel("#a")
	if ch == nil {
		t.Fatal("channel #a not tracked")
	}
	if _, ok := ch.Members[s.Options.Fold("Bot")]; !ok {
		t.Error("joined member missing")
	}
	if ch.Topic != "some topic text" {
		t.Errorf("topic: got %q", ch.Topic)
	}
}

func TestNickRenamePreservesIdentity(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":alice!alice@wonderland JOIN #a",
	)

	before := s.User("alice")
	if before == nil || before.Host != "wonderland" {
		t.Fatalf("alice not tracked: %+v", before)
	}

	apply(t, s, ":alice!alice@wonderland NICK malice")

	if s.User("alice") != nil {
		t.Error("old nick still resolvable")
	}
	after := s.User("malice")
	if after == nil {
		t.Fatal("new nick not resolvable")
	}
	if after != before {
		t.Error("rename created a new user record instead of moving it")
	}
	if after.Nick != "malice" {
		t.Errorf("nick field not updated: %q", after.Nick)
	}

	ch := s.Channel("#a")
	if _, ok := ch.Members[s.Options.Fold("malice")]; !ok {
		t.Error("membership not moved to new nick")
	}
}

func TestOwnNickChange(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s, ":Bot!bot@host NICK Bot2")
	if s.Nick != "Bot2" {
		t.Errorf("own nick not updated: %q", s.Nick)
	}
}

func TestWelcomeConfirmsNick(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s, ":irc.example.org 001 Bot_ :Welcome")
	if s.Nick != "Bot_" {
		t.Errorf("nick not taken from welcome: %q", s.Nick)
	}
}

func TestPartQuitVisibility(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":Bot!bot@host JOIN #b",
		":alice!a@h JOIN #a",
		":alice!a@h JOIN #b",
		":carol!c@h JOIN #a",
	)

	// alice leaves #a but stays visible through #b.
	apply(t, s, ":alice!a@h PART #a :bye")
	if s.User("alice") == nil {
		t.Error("alice dropped while still visible in #b")
	}
	if _, ok := s.Channel("#a").Members[s.Options.Fold("alice")]; ok {
		t.Error("alice still member of #a")
	}

	// carol leaves her only shared channel and becomes invisible.
	apply(t, s, ":carol!c@h PART #a")
	if s.User("carol") != nil {
		t.Error("carol not dropped after last shared channel")
	}

	// quit removes from everything.
	apply(t, s, ":alice!a@h QUIT :gone")
	if s.User("alice") != nil {
		t.Error("alice survived QUIT")
	}
	if _, ok := s.Channel("#b").Members[s.Options.Fold("alice")]; ok {
		t.Error("alice still member of #b after QUIT")
	}
}

func TestSelfPartDropsChannel(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":alice!a@h JOIN #a",
	)
	apply(t, s, ":Bot!bot@host PART #a")

	if s.Channel("#a") != nil {
		t.Error("channel survived our own PART")
	}
	if s.User("alice") != nil {
		t.Error("alice survived losing her only shared channel")
	}
}

func TestKick(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":alice!a@h JOIN #a",
		":op!o@h KICK #a alice :behave",
	)
	if _, ok := s.Channel("#a").Members[s.Options.Fold("alice")]; ok {
		t.Error("kicked member still present")
	}
}

func TestNamesBurstResets(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":Bot!bot@host JOIN #a",
		":irc 353 Bot = #a :@alice +bob carol",
		":irc 353 Bot = #a :dave",
		":irc 366 Bot #a :End of /NAMES list",
	)

	ch := s.Channel("#a")
	if len(ch.Members) != 4 {
		t.Fatalf("expected 4 members, got %d", len(ch.Members))
	}
	if m := ch.Members["alice"]; m == nil || !m.HasMode('o') {
		t.Errorf("alice should be op: %+v", m)
	}
	if m := ch.Members["bob"]; m == nil || !m.HasMode('v') {
		t.Errorf("bob should be voiced: %+v", m)
	}

	// A second burst replaces rather than accumulates.
	apply(t, s,
		":irc 353 Bot = #a :@alice",
		":irc 366 Bot #a :End of /NAMES list",
	)
	if len(ch.Members) != 1 {
		t.Errorf("second burst should replace members, have %d", len(ch.Members))
	}
}

func TestModeChanges(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":irc 005 Bot PREFIX=(ov)@+ CHANMODES=b,k,l,imnpst :are supported by this server",
		":Bot!bot@host JOIN #a",
		":alice!a@h JOIN #a",
		":op!o@h MODE #a +ok alice secret",
	)

	ch := s.Channel("#a")
	if m := ch.Members["alice"]; m == nil || !m.HasMode('o') {
		t.Errorf("alice should have op after +o: %+v", m)
	}
	if ch.Modes['k'] != "secret" {
		t.Errorf("key mode argument lost: %v", ch.Modes)
	}

	apply(t, s, ":op!o@h MODE #a -o+m alice")
	if m := ch.Members["alice"]; m.HasMode('o') {
		t.Error("op not removed")
	}
	if _, ok := ch.Modes['m']; !ok {
		t.Error("+m flag not recorded")
	}
}

func TestISupportCaseMapping(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s, ":irc 005 Bot CASEMAPPING=rfc1459 CHANTYPES=#& :are supported by this server")

	if !s.Options.Eq("nick[a]", "NICK{A}") {
		t.Error("rfc1459 casemapping not applied")
	}
	if s.Options.IsChannel("+listchan") {
		t.Error("CHANTYPES override ignored")
	}
}

func TestCapAckTracking(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		":irc CAP Bot ACK :sasl away-notify",
		":irc CAP Bot ACK :-away-notify",
	)
	if _, ok := s.Caps["sasl"]; !ok {
		t.Error("sasl cap not recorded")
	}
	if _, ok := s.Caps["away-notify"]; ok {
		t.Error("negated cap still recorded")
	}
}

func TestMalformedMessagesAreAnomalies(t *testing.T) {
	s := New(1, "Bot")
	apply(t, s,
		"JOIN",            // no source, no params
		":a!b@c KICK #a",  // missing kick target
		":irc 353 Bot =",  // truncated names
	)
	if s.Anomalies == 0 {
		t.Error("expected anomaly count > 0")
	}
	// and nothing crashed, which is the real contract
}

func TestEpochIsolation(t *testing.T) {
	s1 := New(1, "Bot")
	apply(t, s1, ":Bot!bot@host JOIN #a")

	s2 := New(2, "Bot")
	if s2.Channel("#a") != nil {
		t.Error("fresh epoch inherited channel state")
	}
	if s1.Epoch == s2.Epoch {
		t.Error("epochs should differ")
	}
}
