package tether

import (
	"context"
	"io"
	"reflect"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/codec"
	"github.com/outofforest/tether/wire"
)

// StreamRef is the result of stream method sent to the caller.
type StreamRef struct {
	HostID          wire.PeerID
	LocalID         uint64
	AckDistance     uint64
	AdvanceDistance uint64
}

// Stream is the stream of items returned by stream method.
type Stream[T any] struct {
	remote      *remoteStream
	codec       codec.Codec
	polymorphic bool

	local Source[T]
}

// Next returns next item. It returns io.EOF when stream ends.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var v T
	if s.local != nil {
		return s.local(ctx)
	}

	data, err := s.remote.Next(ctx)
	if err != nil {
		return v, err
	}
	if err := s.codec.Decode(data, &v, s.polymorphic); err != nil {
		return v, err
	}
	return v, nil
}

// Close releases the stream. Items not read yet are dropped.
func (s *Stream[T]) Close() {
	if s.remote != nil {
		s.remote.Close()
	}
}

// Collect reads all the items of the stream.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var items []T
	for {
		item, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

// OpenStream calls stream method and returns the stream of its items.
func OpenStream[Req, Item any](
	ctx context.Context,
	caller Caller,
	service, method string,
	req Req,
	opts ...CallOption,
) (*Stream[Item], error) {
	var stream *Stream[Item]

	r := newOutboundRequest(service, method, methodStream, req, opts)
	r.ResultPolymorphic = isPolymorphic[Item]()
	r.SetRemoteStream = func(rs *remoteStream, c codec.Codec) {
		stream = &Stream[Item]{
			remote:      rs,
			codec:       c,
			polymorphic: r.ResultPolymorphic,
		}
	}
	r.SetLocalStream = func(source erasedSource) {
		stream = &Stream[Item]{
			local: func(ctx context.Context) (Item, error) {
				var zero Item
				v, err := source.next(ctx)
				if err != nil {
					return zero, err
				}
				item, ok := v.(Item)
				if !ok {
					return zero, errors.Errorf("expected item of type %s, got %T", reflect.TypeFor[Item](), v)
				}
				return item, nil
			},
		}
	}

	if err := caller.invoke(ctx, r); err != nil {
		return nil, err
	}
	return stream, nil
}

func (p *Peer) openRemoteStream(r *outboundRequest, result []byte) error {
	var ref StreamRef
	if err := p.hub.codec.Decode(result, &ref, false); err != nil {
		return errors.Wrapf(ErrProtocol, "decoding stream reference failed: %s", err)
	}
	if ref.AckDistance == 0 || ref.AckDistance > ref.AdvanceDistance {
		return errors.Wrapf(ErrProtocol, "invalid stream distances: ack %d, advance %d",
			ref.AckDistance, ref.AdvanceDistance)
	}

	rs := newRemoteStream(p, ObjectID{HostID: ref.HostID, LocalID: ref.LocalID}, ref.AckDistance)
	if err := registerRemote(p.remote, rs); err != nil {
		return err
	}
	r.SetRemoteStream(rs, p.hub.codec)
	return nil
}
