package tether

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/tether/wire"
)

// sharedStream delivers items produced by the source to the remote consumer. Items are sent only
// up to AdvanceDistance ahead of the last acknowledged index.
type sharedStream struct {
	peer   *Peer
	id     uint64
	source erasedSource
	buffer *ring[[]byte]

	mu       sync.Mutex
	ack      *wire.Ack
	ackCh    chan struct{}
	cancel   context.CancelFunc
	disposed bool
}

func newSharedStream(p *Peer, source erasedSource) *sharedStream {
	return &sharedStream{
		peer:   p,
		source: source,
		buffer: newRing[[]byte](p.config.StreamAdvanceDistance),
		ackCh:  make(chan struct{}, 1),
	}
}

// OnAck stores the ack. Newer ack replaces the one not processed yet.
func (s *sharedStream) OnAck(ack wire.Ack) {
	s.mu.Lock()
	s.ack = &ack
	s.mu.Unlock()

	select {
	case s.ackCh <- struct{}{}:
	default:
	}
}

// Dispose stops the stream.
func (s *sharedStream) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disposed = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *sharedStream) takeAck() (wire.Ack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ack == nil {
		return wire.Ack{}, false
	}
	ack := *s.ack
	s.ack = nil
	return ack, true
}

func (s *sharedStream) waitAck(ctx context.Context) (wire.Ack, bool) {
	for {
		if ack, exists := s.takeAck(); exists {
			return ack, true
		}
		select {
		case <-ctx.Done():
			return wire.Ack{}, false
		case <-s.ackCh:
		}
	}
}

type pulledItem struct {
	data []byte
	err  error
}

func (s *sharedStream) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.disposed {
		cancel()
	}
	s.mu.Unlock()

	defer func() {
		s.Dispose()
		s.peer.shared.Unregister(s.id, s)
	}()

	requests := make(chan struct{})
	items := make(chan pulledItem)

	_ = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("source", parallel.Continue, func(ctx context.Context) error {
			s.runSource(ctx, requests, items)
			return nil
		})
		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			s.runSender(ctx, requests, items)
			return nil
		})
		return nil
	})
}

// runSource pulls one item from the source per request, so sender stays responsive to acks while
// the source blocks.
func (s *sharedStream) runSource(ctx context.Context, requests <-chan struct{}, items chan<- pulledItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
		}

		var item pulledItem
		v, err := s.pull(ctx)
		if err == nil {
			item.data, err = s.peer.hub.codec.Encode(v, s.source.polymorphic)
		}
		item.err = err

		select {
		case <-ctx.Done():
			return
		case items <- item:
		}
	}
}

func (s *sharedStream) pull(ctx context.Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("stream source panicked: %v", r)
		}
	}()
	return s.source.next(ctx)
}

func (s *sharedStream) runSender(ctx context.Context, requests chan<- struct{}, items <-chan pulledItem) {
	log := logger.Get(ctx).With(zap.Uint64("streamID", s.id))

	var pos uint64
	var sourceErr error
	var exhausted, endSent, pulling bool

	ack, ok := s.waitAck(ctx)
	for ok {
		if ack.NextIndex < s.buffer.Start() || ack.NextIndex > s.buffer.End() {
			log.Debug("Stream position is not available", zap.Uint64("index", ack.NextIndex))
			_ = s.sendEnd(ctx, ack.NextIndex, errors.Wrapf(ErrInvalidPosition, "index %d is out of [%d, %d]",
				ack.NextIndex, s.buffer.Start(), s.buffer.End()))
			return
		}

		if ack.Reset || ack.NextIndex > pos {
			pos = ack.NextIndex
			endSent = false
		}
		ceiling := ack.NextIndex + s.peer.config.StreamAdvanceDistance

	send:
		for {
			if newAck, exists := s.takeAck(); exists {
				ack = newAck
				break
			}

			switch {
			case pos < s.buffer.End() && pos < ceiling:
				n, err := s.replay(ctx, pos, min(s.buffer.End(), ceiling))
				pos += n
				if err != nil {
					ack, ok = s.waitAck(ctx)
					break send
				}
			case pos == s.buffer.End() && exhausted:
				if !endSent {
					if err := s.sendEnd(ctx, pos, sourceErr); err != nil {
						ack, ok = s.waitAck(ctx)
						break send
					}
					endSent = true
				}
				ack, ok = s.waitAck(ctx)
				break send
			case pos >= ceiling:
				ack, ok = s.waitAck(ctx)
				break send
			default:
				if !pulling {
					select {
					case <-ctx.Done():
						return
					case requests <- struct{}{}:
						pulling = true
					}
				}

				select {
				case <-ctx.Done():
					return
				case <-s.ackCh:
					// Ack is taken at the top of the loop.
				case item := <-items:
					pulling = false
					if item.err == nil {
						s.buffer.Push(item.data)
						continue
					}

					exhausted = true
					if !errors.Is(item.err, io.EOF) {
						log.Debug("Stream source failed", zap.Error(item.err))
						sourceErr = item.err
					}
				}
			}
		}
	}
}

// replay sends buffered items [from, to). It returns the number of items sent.
func (s *sharedStream) replay(ctx context.Context, from, to uint64) (uint64, error) {
	values := make([][]byte, 0, to-from)
	for i := from; i < to; i++ {
		v, _ := s.buffer.Get(i)
		values = append(values, v)
	}

	var sent uint64
	for _, chunk := range lo.Chunk(values, s.peer.config.StreamBatchSize) {
		var msg *wire.Message
		var err error
		if len(chunk) == 1 {
			msg, err = systemMessage(methodItem, s.id, &wire.Item{Index: from + sent, Value: chunk[0]})
		} else {
			msg, err = systemMessage(methodBatch, s.id, &wire.Batch{Index: from + sent, Values: chunk})
		}
		if err != nil {
			return sent, err
		}
		if err := s.peer.send(ctx, msg); err != nil {
			return sent, err
		}
		sent += uint64(len(chunk))

		if s.hasAck() {
			break
		}
	}
	return sent, nil
}

func (s *sharedStream) hasAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ack != nil
}

func (s *sharedStream) sendEnd(ctx context.Context, index uint64, err error) error {
	end := &wire.End{Index: index}
	if err != nil {
		end.Error = toWireError(err)
	}
	msg, err := systemMessage(methodEnd, s.id, end)
	if err != nil {
		return err
	}
	return s.peer.send(ctx, msg)
}
