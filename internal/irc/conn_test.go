package irc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/tethys-irc/tethys/internal/codec"
	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/logger"
)

func testCodec(t *testing.T) *codec.Codec {
	t.Helper()
	cdc, err := codec.New("utf-8", "latin1")
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	return cdc
}

func recvMsg(t *testing.T, c *Conn) ircmsg.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("incoming closed early: %v", c.Err())
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return ircmsg.Message{}
}

func waitClosed(t *testing.T, c *Conn) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("incoming never closed")
		}
	}
}

func TestConnBuffersPartialLines(t *testing.T) {
	server, client := net.Pipe()
	c := newConn(client, testCodec(t), logger.Log, 8)
	defer c.Close()

	go func() {
		server.Write([]byte("PI"))
		server.Write([]byte("NG :token\r\n\r\n:x!u@h PRIVMSG #a :hi\r\n"))
		server.Close()
	}()

	msg := recvMsg(t, c)
	if msg.Command != "PING" || msg.Params[0] != "token" {
		t.Errorf("first message: %+v", msg)
	}

	// The blank line between the two messages is skipped.
	msg = recvMsg(t, c)
	if msg.Command != "PRIVMSG" || msg.Params[1] != "hi" {
		t.Errorf("second message: %+v", msg)
	}

	waitClosed(t, c)
	if err := c.Err(); !errors.Is(err, io.EOF) {
		t.Errorf("Err() = %v, want EOF", err)
	}
}

func TestConnSendWritesLine(t *testing.T) {
	server, client := net.Pipe()
	c := newConn(client, testCodec(t), logger.Log, 8)
	defer c.Close()
	defer server.Close()

	if err := c.Send(ircmsg.MakeMessage(nil, "", "PONG", "token")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(server).ReadString('\n')
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if line != "PONG token\r\n" {
		t.Errorf("wire line = %q", line)
	}
}

func TestConnSendOverflowKillsConnection(t *testing.T) {
	// The server half never reads, so the writer goroutine blocks and
	// the queue fills.
	server, client := net.Pipe()
	defer server.Close()
	c := newConn(client, testCodec(t), logger.Log, 1)

	var sendErr error
	for i := 0; i < 10; i++ {
		if sendErr = c.Send(ircmsg.MakeMessage(nil, "", "PRIVMSG", "#a", "spam")); sendErr != nil {
			break
		}
	}
	if !errors.Is(sendErr, ErrSendQueueFull) {
		t.Fatalf("send error = %v, want ErrSendQueueFull", sendErr)
	}

	waitClosed(t, c)
	if !errors.Is(c.Err(), ErrSendQueueFull) {
		t.Errorf("Err() = %v, want ErrSendQueueFull", c.Err())
	}
	if err := c.Send(ircmsg.MakeMessage(nil, "", "PING", "x")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send after close = %v, want ErrConnClosed", err)
	}
}

func TestConnMalformedLineIsProtocolError(t *testing.T) {
	server, client := net.Pipe()
	c := newConn(client, testCodec(t), logger.Log, 8)
	defer c.Close()

	go func() {
		server.Write([]byte(":prefix-without-command\r\n"))
		server.Close()
	}()

	waitClosed(t, c)
	var perr *codec.ProtocolError
	if !errors.As(c.Err(), &perr) {
		t.Errorf("Err() = %v, want ProtocolError", c.Err())
	}
}

func TestDialConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ep := config.ServerEndpoint{Host: "127.0.0.1", Port: addr.Port}
	_, err = Dial(context.Background(), ep, testCodec(t), logger.Log)
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("Dial error = %v, want ConnectError", err)
	}
	if !strings.Contains(cerr.Endpoint, "127.0.0.1") {
		t.Errorf("endpoint = %q", cerr.Endpoint)
	}
}
