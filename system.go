package tether

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/tether/wire"
)

// System methods.
const (
	methodHandshake  = "handshake"
	methodOk         = "ok"
	methodError      = "error"
	methodCancel     = "cancel"
	methodKeepAlive  = "keepAlive"
	methodRelease    = "release"
	methodDisconnect = "disconnect"
	methodAck        = "ack"
	methodItem       = "item"
	methodBatch      = "batch"
	methodEnd        = "end"
)

var systemMarshaller = wire.NewMarshaller()

func systemMessage(method string, relatedID uint64, args any) (*wire.Message, error) {
	msg := &wire.Message{
		CallType:  wire.CallTypeSystem,
		RelatedID: relatedID,
		Service:   systemService,
		Method:    method,
	}
	if args == nil {
		return msg, nil
	}

	size, err := systemMarshaller.Size(args)
	if err != nil {
		return nil, err
	}
	msg.Arguments = make([]byte, size)
	if _, _, err := systemMarshaller.Marshal(args, msg.Arguments); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeSystem[T any](msg *wire.Message) (*T, error) {
	v := new(T)
	id, err := systemMarshaller.ID(v)
	if err != nil {
		return nil, err
	}

	decoded, _, err := systemMarshaller.Unmarshal(id, msg.Arguments)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "decoding arguments of %s failed: %s", msg.Method, err)
	}
	v, ok := decoded.(*T)
	if !ok {
		return nil, errors.Wrapf(ErrProtocol, "unexpected arguments %T of %s", decoded, msg.Method)
	}
	return v, nil
}

func decodeHandshake(msg *wire.Message) (*wire.Handshake, error) {
	if msg.CallType != wire.CallTypeSystem || msg.Service != systemService || msg.Method != methodHandshake {
		return nil, errors.Wrapf(ErrProtocol, "handshake expected, got %s.%s", msg.Service, msg.Method)
	}
	return decodeSystem[wire.Handshake](msg)
}

// dispatch routes message received from the connection established with handshake hs.
func (p *Peer) dispatch(ctx context.Context, spawn parallel.SpawnFn, hs *wire.Handshake, msg *wire.Message) {
	switch msg.CallType {
	case wire.CallTypeSystem:
		if err := p.dispatchSystem(hs, msg); err != nil {
			logger.Get(ctx).Error("Invalid system call",
				zap.String("method", msg.Method),
				zap.Uint64("relatedID", msg.RelatedID),
				zap.Error(err))
		}
	case wire.CallTypeRegular, wire.CallTypeNoWait:
		p.dispatchRequest(ctx, spawn, msg)
	default:
		logger.Get(ctx).Error("Unknown call type, dropping message", zap.Uint64("callType", uint64(msg.CallType)))
	}
}

func (p *Peer) dispatchSystem(hs *wire.Handshake, msg *wire.Message) error {
	if msg.Service != systemService {
		return errors.Wrapf(ErrProtocol, "unexpected system service %q", msg.Service)
	}

	switch msg.Method {
	case methodHandshake:
		return errors.Wrap(ErrProtocol, "unexpected handshake")
	case methodOk:
		args, err := decodeSystem[wire.Ok](msg)
		if err != nil {
			return err
		}
		p.completeCall(msg.RelatedID, args.Result, nil)
	case methodError:
		args, err := decodeSystem[wire.Error](msg)
		if err != nil {
			return err
		}
		callErr := fromWireError(*args)
		if callErr == nil {
			return errors.Wrap(ErrProtocol, "error without kind")
		}
		p.completeCall(msg.RelatedID, nil, callErr)
	case methodCancel:
		p.cancelInbound(msg.RelatedID)
	case methodKeepAlive:
		args, err := decodeSystem[wire.KeepAlive](msg)
		if err != nil {
			return err
		}
		if unknown := p.shared.KeepAlive(args.ObjectIDs); len(unknown) > 0 {
			p.sendObjects(methodDisconnect, unknown)
		}
	case methodRelease:
		args, err := decodeSystem[wire.Release](msg)
		if err != nil {
			return err
		}
		p.shared.Release(args.ObjectIDs)
	case methodDisconnect:
		args, err := decodeSystem[wire.Release](msg)
		if err != nil {
			return err
		}
		p.remote.DisconnectIDs(hs.PeerID, args.ObjectIDs)
	case methodAck:
		args, err := decodeSystem[wire.Ack](msg)
		if err != nil {
			return err
		}
		stream, exists := p.sharedStream(msg.RelatedID)
		if !exists {
			p.sendObjects(methodDisconnect, []uint64{msg.RelatedID})
			return nil
		}
		stream.OnAck(*args)
	case methodItem:
		args, err := decodeSystem[wire.Item](msg)
		if err != nil {
			return err
		}
		if stream, exists := p.remoteStream(hs, msg.RelatedID); exists {
			stream.OnItems(args.Index, [][]byte{args.Value})
		}
	case methodBatch:
		args, err := decodeSystem[wire.Batch](msg)
		if err != nil {
			return err
		}
		if stream, exists := p.remoteStream(hs, msg.RelatedID); exists {
			stream.OnItems(args.Index, args.Values)
		}
	case methodEnd:
		args, err := decodeSystem[wire.End](msg)
		if err != nil {
			return err
		}
		if stream, exists := p.remoteStream(hs, msg.RelatedID); exists {
			stream.OnEnd(args.Index, fromWireError(args.Error))
		}
	default:
		return errors.Wrapf(ErrProtocol, "unknown system method %q", msg.Method)
	}
	return nil
}

func (p *Peer) sharedStream(id uint64) (*sharedStream, bool) {
	obj, exists := p.shared.Get(id)
	if !exists {
		return nil, false
	}
	stream, ok := obj.(*sharedStream)
	return stream, ok
}

// remoteStream returns the stream proxy items are delivered to. Items for proxies which are gone
// are answered with release so the owner stops producing them.
func (p *Peer) remoteStream(hs *wire.Handshake, id uint64) (*remoteStream, bool) {
	obj, exists := p.remote.Get(ObjectID{HostID: hs.PeerID, LocalID: id})
	if exists {
		if stream, ok := obj.(*remoteStream); ok {
			return stream, true
		}
	}
	p.sendObjects(methodRelease, []uint64{id})
	return nil, false
}

func (p *Peer) sendObjects(method string, ids []uint64) {
	msg, err := systemMessage(method, 0, &wire.Release{ObjectIDs: ids})
	if err != nil {
		return
	}
	p.State().trySend(msg)
}
