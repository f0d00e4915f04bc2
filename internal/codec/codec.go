// Package codec converts raw IRC wire lines to structured messages and
// back. Parsing and serialization of the IRC grammar (tags, prefix,
// command, params) is delegated to ircmsg; this package adds the
// per-network character encoding layer with a guaranteed-total fallback.
package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// MaxLineLen is the maximum length of an outgoing line including the
// trailing CRLF, per RFC 1459.
const MaxLineLen = 512

// ProtocolError reports a line that violates the IRC message grammar.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: malformed line %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Codec decodes and encodes IRC lines using a primary character
// encoding and a single-byte fallback. The fallback path cannot fail:
// every byte sequence decodes to some Message as long as the line itself
// is grammatical.
type Codec struct {
	primary  encoding.Encoding
	fallback *charmap.Charmap
	utf8     bool
}

// New resolves the given IANA encoding names into a Codec. The fallback
// must name a single-byte charset (e.g. "latin1", "windows-1252") so
// decoding it is total; anything else is rejected.
func New(primary, fallback string) (*Codec, error) {
	c := &Codec{}

	if isUTF8Name(primary) {
		c.utf8 = true
	} else {
		enc, err := ianaindex.IANA.Encoding(primary)
		if err != nil || enc == nil {
			return nil, fmt.Errorf("unknown encoding %q", primary)
		}
		c.primary = enc
	}

	fb, err := ianaindex.IANA.Encoding(fallback)
	if err != nil || fb == nil {
		return nil, fmt.Errorf("unknown fallback encoding %q", fallback)
	}
	cm, ok := fb.(*charmap.Charmap)
	if !ok {
		return nil, fmt.Errorf("fallback encoding %q is not a single-byte charset", fallback)
	}
	c.fallback = cm

	return c, nil
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "":
		return true
	}
	return false
}

// Decode converts a raw line (without trailing CRLF) into a Message.
// The bytes are first decoded with the primary encoding; if that fails
// the fallback charset is used, which always succeeds. The only error a
// caller can see is a ProtocolError for a line with no command token.
func (c *Codec) Decode(raw []byte) (ircmsg.Message, error) {
	text := c.decodeText(raw)
	msg, err := ircmsg.ParseLineStrict(text, false, 0)
	if err != nil {
		return msg, &ProtocolError{Line: text, Err: err}
	}
	return msg, nil
}

// decodeText converts raw bytes to a string, falling back to the
// single-byte charset when the primary encoding rejects the input.
func (c *Codec) decodeText(raw []byte) string {
	if c.utf8 {
		if utf8.Valid(raw) {
			return string(raw)
		}
		return c.decodeFallback(raw)
	}
	decoded, err := c.primary.NewDecoder().Bytes(raw)
	if err != nil {
		return c.decodeFallback(raw)
	}
	return string(decoded)
}

func (c *Codec) decodeFallback(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, by := range raw {
		r := c.fallback.DecodeByte(by)
		if r == utf8.RuneError {
			// Undefined code point in the charset; keep the raw byte
			// value so the conversion stays total and reversible enough
			// for display.
			r = rune(by)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Encode serializes a Message into a wire line of at most MaxLineLen
// bytes including CRLF. If the line only fits by truncating the trailing
// parameter, truncated is true. The command and earlier parameters are
// never cut: a message whose fixed part alone exceeds the limit is an
// error.
func (c *Codec) Encode(msg ircmsg.Message) (line []byte, truncated bool, err error) {
	line, err = msg.LineBytesStrict(true, MaxLineLen)
	if err == ircmsg.ErrorBodyTooLong {
		truncated = true
		err = nil
	}
	if err != nil {
		return nil, false, err
	}

	if c.utf8 {
		return line, truncated, nil
	}
	encoded, err := encoding.ReplaceUnsupported(c.primary.NewEncoder()).Bytes(line)
	if err != nil {
		return nil, false, err
	}
	return encoded, truncated, nil
}
