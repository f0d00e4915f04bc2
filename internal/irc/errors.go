package irc

import (
	"errors"
	"fmt"
)

// ErrSendQueueFull reports that the outgoing queue hit its cap while the
// socket was not draining. The connection is torn down when this
// happens; callers see it again from Err.
var ErrSendQueueFull = errors.New("send queue full")

// ErrConnClosed is returned by Send after the connection shut down.
var ErrConnClosed = errors.New("connection closed")

// ConnectError wraps a failure to establish a connection, including TLS
// handshake and certificate verification failures.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
