package irc

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"

	"github.com/tethys-irc/tethys/internal/codec"
	"github.com/tethys-irc/tethys/internal/config"
)

const (
	connectTimeout = 15 * time.Second
	writeTimeout   = 30 * time.Second

	// A stalled server must surface as a connection failure, not as
	// unbounded buffering, so the queue stays small.
	sendQueueSize = 64
)

// Conn is one live link to a server. Incoming lines are decoded and
// delivered on a channel that closes when the link ends; outgoing
// messages go through a bounded queue drained by a writer goroutine, so
// Send never blocks the caller.
type Conn struct {
	conn  net.Conn
	codec *codec.Codec
	log   zerolog.Logger

	incoming chan ircmsg.Message
	outgoing chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to ep, performing the TLS handshake when the endpoint
// asks for one. Certificate verification is on unless the endpoint
// explicitly disables it.
func Dial(ctx context.Context, ep config.ServerEndpoint, cdc *codec.Codec, log zerolog.Logger) (*Conn, error) {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))

	dialer := net.Dialer{Timeout: connectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Endpoint: addr, Err: err}
	}

	if ep.TLS {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName:         ep.Host,
			InsecureSkipVerify: !ep.VerifyCert,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, &ConnectError{Endpoint: addr, Err: err}
		}
		raw = tlsConn
	}

	return newConn(raw, cdc, log, sendQueueSize), nil
}

func newConn(raw net.Conn, cdc *codec.Codec, log zerolog.Logger, queueSize int) *Conn {
	c := &Conn{
		conn:     raw,
		codec:    cdc,
		log:      log,
		incoming: make(chan ircmsg.Message),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Incoming delivers decoded messages in arrival order. The channel
// closes when the link ends; Err then reports why.
func (c *Conn) Incoming() <-chan ircmsg.Message { return c.incoming }

// Err returns the first error the connection hit (io.EOF for a remote
// close), or nil after a plain local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send encodes msg and queues it. If the queue is full the connection
// is considered dead: it is closed and ErrSendQueueFull is returned.
func (c *Conn) Send(msg ircmsg.Message) error {
	line, truncated, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	if truncated {
		c.log.Debug().Str("command", msg.Command).Msg("outgoing line truncated")
	}

	select {
	case <-c.done:
		return ErrConnClosed
	case c.outgoing <- line:
		return nil
	default:
		c.fail(ErrSendQueueFull)
		return ErrSendQueueFull
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.Close()
}

func (c *Conn) readLoop() {
	defer close(c.incoming)

	r := bufio.NewReaderSize(c.conn, 8192)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimRight(line, "\r\n"); len(trimmed) > 0 {
			msg, derr := c.codec.Decode(trimmed)
			if derr != nil {
				c.fail(derr)
				return
			}
			select {
			case c.incoming <- msg:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case <-c.done:
				// Deliberate local close, not a link error.
			default:
				c.fail(err)
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(line); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
