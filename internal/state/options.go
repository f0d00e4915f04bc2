package state

import (
	"strings"
)

// Options is a case-insensitive view of the 005 RPL_ISUPPORT tokens the
// server advertised, with typed accessors for the ones state tracking
// needs.
type Options struct {
	values map[string]string

	// prefix mode/sigil pairs parsed from PREFIX=(ov)@+; parallel slices
	// in advertised (descending) order.
	prefixModes   []byte
	prefixSymbols []byte
}

func NewOptions() *Options {
	o := &Options{values: make(map[string]string)}
	// Conservative defaults until the server tells us otherwise.
	o.setPrefix("(ov)@+")
	o.values["chantypes"] = "#&"
	o.values["casemapping"] = "rfc1459"
	return o
}

// Set records one KEY or KEY=VALUE token.
func (o *Options) Set(token string) {
	key, value, _ := strings.Cut(token, "=")
	key = strings.ToLower(key)
	o.values[key] = value
	if key == "prefix" {
		o.setPrefix(value)
	}
}

// Get returns the raw value of a token, or "" if absent.
func (o *Options) Get(key string) string {
	return o.values[strings.ToLower(key)]
}

func (o *Options) setPrefix(value string) {
	// Format: (modes)symbols, e.g. "(qaohv)~&@%+".
	if !strings.HasPrefix(value, "(") {
		return
	}
	modes, symbols, found := strings.Cut(value[1:], ")")
	if !found || len(modes) != len(symbols) {
		return
	}
	o.prefixModes = []byte(modes)
	o.prefixSymbols = []byte(symbols)
}

// SplitPrefixes separates leading membership sigils (e.g. "@+") from a
// NAMES entry and returns the bare nick plus the corresponding mode
// letters.
func (o *Options) SplitPrefixes(prefixed string) (nick string, modes string) {
	var mb strings.Builder
	for i := 0; i < len(prefixed); i++ {
		mode, ok := o.symbolToMode(prefixed[i])
		if !ok {
			return prefixed[i:], mb.String()
		}
		mb.WriteByte(mode)
	}
	return "", mb.String()
}

func (o *Options) symbolToMode(symbol byte) (byte, bool) {
	for i, s := range o.prefixSymbols {
		if s == symbol {
			return o.prefixModes[i], true
		}
	}
	return 0, false
}

// IsChannel reports whether target names a channel under the advertised
// CHANTYPES.
func (o *Options) IsChannel(target string) bool {
	return target != "" && strings.IndexByte(o.Get("chantypes"), target[0]) >= 0
}

// PrefixModes returns the membership mode letters in advertised order,
// most privileged first.
func (o *Options) PrefixModes() string {
	return string(o.prefixModes)
}

// Fold lowercases a nick or channel name per the advertised
// CASEMAPPING, so map keys compare the way the server compares names.
// Under rfc1459, []\^ and {}|~ are case pairs.
func (o *Options) Fold(name string) string {
	ascii := o.Get("casemapping") == "ascii"
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		case ascii:
		case c == '[':
			c = '{'
		case c == ']':
			c = '}'
		case c == '\\':
			c = '|'
		case c == '^':
			c = '~'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Eq reports whether two names are equal under the casemapping.
func (o *Options) Eq(a, b string) bool {
	return o.Fold(a) == o.Fold(b)
}
