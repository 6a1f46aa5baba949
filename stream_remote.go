package tether

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/wire"
)

// remoteStream receives items of the stream shared by the remote peer.
type remoteStream struct {
	peer        *Peer
	id          ObjectID
	ackDistance uint64

	mu       sync.Mutex
	queue    [][]byte
	expected uint64
	consumed uint64
	lastAck  uint64
	started  bool
	ended    bool
	endErr   error
	failure  error
	closed   bool
	notify   chan struct{}
}

func newRemoteStream(p *Peer, id ObjectID, ackDistance uint64) *remoteStream {
	return &remoteStream{
		peer:        p,
		id:          id,
		ackDistance: ackDistance,
		notify:      make(chan struct{}, 1),
	}
}

// ObjectID returns ID of the stream.
func (s *remoteStream) ObjectID() ObjectID {
	return s.id
}

// OnItems receives items starting at index.
func (s *remoteStream) OnItems(index uint64, values [][]byte) {
	s.mu.Lock()
	if s.ended || s.closed || s.failure != nil {
		s.mu.Unlock()
		return
	}
	if index > s.expected {
		expected := s.expected
		s.mu.Unlock()

		s.trySendAck(expected, true)
		return
	}

	if skip := s.expected - index; skip < uint64(len(values)) {
		s.queue = append(s.queue, values[skip:]...)
		s.expected += uint64(len(values)) - skip
	}
	s.mu.Unlock()

	s.signal()
}

// OnEnd receives the end of the stream.
func (s *remoteStream) OnEnd(index uint64, err error) {
	s.mu.Lock()
	if s.ended || s.closed || s.failure != nil {
		s.mu.Unlock()
		return
	}
	if err == nil && index != s.expected {
		expected := s.expected
		s.mu.Unlock()

		if index > expected {
			s.trySendAck(expected, true)
		}
		return
	}
	s.ended = true
	s.endErr = err
	s.mu.Unlock()

	s.forget()
	s.signal()
}

// Reconnect asks the owner to resend everything not received yet.
func (s *remoteStream) Reconnect(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.ended || s.closed || s.failure != nil {
		s.mu.Unlock()
		return
	}
	expected := s.expected
	s.mu.Unlock()

	_ = s.sendAck(ctx, expected, true)
}

// Disconnect fails the stream.
func (s *remoteStream) Disconnect(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()

	s.signal()
}

// Next returns next item. It returns io.EOF when stream ends.
func (s *remoteStream) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errors.WithStack(ErrStreamClosed)
		}

		if !s.started {
			s.started = true
			s.mu.Unlock()

			// If connection is lost meanwhile, the reset ack sent on reconnection starts the stream.
			_ = s.sendAck(ctx, 0, false)
			continue
		}

		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.consumed++

			var ack uint64
			sendAck := !s.ended && s.consumed-s.lastAck >= s.ackDistance
			if sendAck {
				s.lastAck = s.consumed
				ack = s.consumed
			}
			s.mu.Unlock()

			if sendAck {
				// Lost ack is recovered by the reset ack sent on reconnection.
				_ = s.sendAck(ctx, ack, false)
			}
			return item, nil
		}

		if s.ended {
			err := s.endErr
			s.mu.Unlock()

			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if s.failure != nil {
			err := s.failure
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-s.notify:
		}
	}
}

// Close releases the stream.
func (s *remoteStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ended := s.ended
	s.queue = nil
	s.mu.Unlock()

	if !ended {
		s.forget()
	}
	s.signal()
}

// forget stops tracking the stream and tells the owner to dispose it.
func (s *remoteStream) forget() {
	s.peer.remote.Unregister(s.id)

	state := s.peer.State()
	if state.IsConnected() && state.Handshake.PeerID == s.id.HostID {
		s.peer.sendObjects(methodRelease, []uint64{s.id.LocalID})
	}
}

func (s *remoteStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *remoteStream) ackMessage(nextIndex uint64, reset bool) (*wire.Message, error) {
	return systemMessage(methodAck, s.id.LocalID, &wire.Ack{NextIndex: nextIndex, Reset: reset})
}

func (s *remoteStream) sendAck(ctx context.Context, nextIndex uint64, reset bool) error {
	msg, err := s.ackMessage(nextIndex, reset)
	if err != nil {
		return err
	}
	return s.peer.send(ctx, msg)
}

func (s *remoteStream) trySendAck(nextIndex uint64, reset bool) {
	msg, err := s.ackMessage(nextIndex, reset)
	if err != nil {
		return
	}
	s.peer.State().trySend(msg)
}
