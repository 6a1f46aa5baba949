package transport

import (
	"sync"

	"github.com/outofforest/tether/wire"
)

// Pipe returns two connected in-memory connections. Messages are passed by pointer, so sender
// must not modify message after sending it.
func Pipe(capacity int) (Connection, Connection) {
	ab := make(chan *wire.Message, capacity)
	ba := make(chan *wire.Message, capacity)
	closed := make(chan struct{})
	once := &sync.Once{}

	return &pipeConn{
			sendCh: ab,
			recvCh: ba,
			closed: closed,
			once:   once,
		}, &pipeConn{
			sendCh: ba,
			recvCh: ab,
			closed: closed,
			once:   once,
		}
}

type pipeConn struct {
	sendCh chan<- *wire.Message
	recvCh <-chan *wire.Message
	closed chan struct{}
	once   *sync.Once
}

func (pc *pipeConn) Send(msg *wire.Message) error {
	select {
	case <-pc.closed:
		return ErrClosed
	default:
	}

	select {
	case <-pc.closed:
		return ErrClosed
	case pc.sendCh <- msg:
		return nil
	}
}

// Receive returns messages sent before the pipe was closed, then ErrClosed.
func (pc *pipeConn) Receive() (*wire.Message, error) {
	select {
	case msg := <-pc.recvCh:
		return msg, nil
	case <-pc.closed:
	}

	select {
	case msg := <-pc.recvCh:
		return msg, nil
	default:
		return nil, ErrClosed
	}
}

func (pc *pipeConn) Close() error {
	pc.once.Do(func() {
		close(pc.closed)
	})
	return nil
}
