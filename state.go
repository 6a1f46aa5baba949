package tether

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/transport"
	"github.com/outofforest/tether/wire"
)

const sendQueueSize = 1024

// ConnectionState is the immutable snapshot of the peer connection.
type ConnectionState struct {
	// Handshake is the handshake received from the remote peer, nil when disconnected.
	Handshake *wire.Handshake

	// Error is the error which caused the last disconnection.
	Error error

	// TryIndex is the number of failed connection attempts since the last successful one.
	TryIndex int

	closed bool
	conn   transport.Connection
	sendCh chan *wire.Message
	done   <-chan struct{}
	cancel context.CancelCauseFunc
	next   chan struct{}
}

func newConnectionState() *ConnectionState {
	return &ConnectionState{
		next: make(chan struct{}),
	}
}

// IsConnected tells whether the state represents established connection.
func (s *ConnectionState) IsConnected() bool {
	return s.conn != nil
}

// IsClosed tells whether peer has been closed.
func (s *ConnectionState) IsClosed() bool {
	return s.closed
}

// Changed is closed when the state is replaced by the next one.
func (s *ConnectionState) Changed() <-chan struct{} {
	return s.next
}

func (s *ConnectionState) connected(
	conn transport.Connection,
	handshake *wire.Handshake,
	done <-chan struct{},
	cancel context.CancelCauseFunc,
) *ConnectionState {
	return &ConnectionState{
		Handshake: handshake,
		conn:      conn,
		sendCh:    make(chan *wire.Message, sendQueueSize),
		done:      done,
		cancel:    cancel,
		next:      make(chan struct{}),
	}
}

func (s *ConnectionState) disconnected(err error) *ConnectionState {
	return &ConnectionState{
		Error:    err,
		TryIndex: s.TryIndex + 1,
		next:     make(chan struct{}),
	}
}

func (s *ConnectionState) terminated(err error) *ConnectionState {
	return &ConnectionState{
		Error:    err,
		TryIndex: s.TryIndex,
		closed:   true,
		next:     make(chan struct{}),
	}
}

func (s *ConnectionState) send(ctx context.Context, msg *wire.Message) error {
	if !s.IsConnected() {
		return disconnectedError(s.Error)
	}

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-s.done:
		return disconnectedError(nil)
	case s.sendCh <- msg:
		return nil
	}
}

// trySend sends message if it doesn't need to wait.
func (s *ConnectionState) trySend(msg *wire.Message) bool {
	if !s.IsConnected() {
		return false
	}

	select {
	case <-s.done:
		return false
	case s.sendCh <- msg:
		return true
	default:
		return false
	}
}
