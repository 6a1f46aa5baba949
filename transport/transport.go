// Package transport provides the duplex message queue the peers talk over.
package transport

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/resonance"
	"github.com/outofforest/tether/wire"
)

// ErrClosed is returned when connection has been closed.
var ErrClosed = errors.New("connection closed")

// Connection sends and receives messages. Send and Receive may be called concurrently with each
// other, but each of them is called by a single goroutine at a time.
type Connection interface {
	Send(msg *wire.Message) error
	Receive() (*wire.Message, error)
	Close() error
}

// Resonance wraps resonance connection.
func Resonance(c *resonance.Connection) Connection {
	return &resonanceConn{
		c: c,
		m: wire.NewMarshaller(),
	}
}

type resonanceConn struct {
	c *resonance.Connection
	m wire.Marshaller
}

func (rc *resonanceConn) Send(msg *wire.Message) error {
	return rc.c.SendProton(msg, rc.m)
}

func (rc *resonanceConn) Receive() (*wire.Message, error) {
	msg, err := rc.c.ReceiveProton(rc.m)
	if err != nil {
		return nil, err
	}
	m, ok := msg.(*wire.Message)
	if !ok {
		return nil, errors.Errorf("unexpected message %T", msg)
	}
	return m, nil
}

func (rc *resonanceConn) Close() error {
	rc.c.Close()
	return nil
}

// WithFirst returns connection replaying msg before anything else is received from conn.
func WithFirst(conn Connection, msg *wire.Message) Connection {
	return &firstConn{
		Connection: conn,
		first:      msg,
	}
}

type firstConn struct {
	Connection

	mu    sync.Mutex
	first *wire.Message
}

func (fc *firstConn) Receive() (*wire.Message, error) {
	fc.mu.Lock()
	msg := fc.first
	fc.first = nil
	fc.mu.Unlock()

	if msg != nil {
		return msg, nil
	}
	return fc.Connection.Receive()
}
