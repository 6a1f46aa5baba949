package tether

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/tether/wire"
)

type inboundCall struct {
	id     uint64
	method *resolvedMethod
	msg    *wire.Message
	result *future[[]byte]

	mu         sync.Mutex
	cancel     context.CancelCauseFunc
	cancelling bool
}

func (c *inboundCall) setCancel(cancel context.CancelCauseFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel = cancel
	if c.cancelling {
		cancel(ErrCancelled)
	}
}

func (c *inboundCall) requestCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result.IsSettled() {
		return
	}
	c.cancelling = true
	if c.cancel != nil {
		c.cancel(ErrCancelled)
	}
}

func (c *inboundCall) isCancelling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelling
}

func (p *Peer) dispatchRequest(ctx context.Context, spawn parallel.SpawnFn, msg *wire.Message) {
	log := logger.Get(ctx).With(
		zap.String("service", msg.Service),
		zap.String("method", msg.Method),
		zap.Uint64("callID", msg.RelatedID))

	m, exists := p.hub.services.Resolve(msg.Service, msg.Method)
	if !exists {
		if msg.CallType == wire.CallTypeNoWait {
			log.Warn("Method not found, dropping notification")
			return
		}
		p.respond(ctx, msg.RelatedID, nil, errors.Wrapf(ErrNotFound, "%s.%s", msg.Service, msg.Method))
		return
	}

	if msg.CallType == wire.CallTypeNoWait {
		spawn("notification", parallel.Continue, func(ctx context.Context) error {
			if _, err := p.execute(ctx, m, msg); err != nil {
				log.Error("Notification failed", zap.Error(err))
			}
			return nil
		})
		return
	}

	if msg.RelatedID == 0 {
		log.Error("Call without ID, dropping it")
		return
	}

	if kind, _ := findHeader(msg.Headers, kindHeader); (kind == streamKind) != (m.kind == methodStream) {
		p.respond(ctx, msg.RelatedID, nil, errors.Wrapf(ErrIncompatibleArguments,
			"%s.%s is called with incompatible method kind", msg.Service, msg.Method))
		return
	}

	call, isNew := p.inbound.GetOrRegister(msg.RelatedID, func() *inboundCall {
		return &inboundCall{
			id:     msg.RelatedID,
			method: m,
			msg:    msg,
			result: newFuture[[]byte](),
		}
	})
	if !isNew {
		// Redelivered call is attached to the running one. If it has completed meanwhile, the
		// response is sent again.
		if call.result.IsSettled() {
			result, err := call.result.Result()
			p.respond(ctx, call.id, result, err)
		}
		return
	}

	spawn("call", parallel.Continue, func(ctx context.Context) error {
		p.runInbound(ctx, spawn, call)
		return nil
	})
}

func (p *Peer) runInbound(ctx context.Context, spawn parallel.SpawnFn, call *inboundCall) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	call.setCancel(cancel)

	result, err := p.execute(ctx, call.method, call.msg)
	var data []byte
	if err == nil {
		data, err = p.encodeResult(ctx, spawn, call.method, result)
	}

	if err != nil {
		call.result.TrySetError(err)
	} else {
		call.result.TrySetResult(data)
	}
	p.inbound.Unregister(call.id, call)

	if call.isCancelling() {
		return
	}
	p.respond(ctx, call.id, data, err)
}

func (p *Peer) execute(ctx context.Context, m *resolvedMethod, msg *wire.Message) (any, error) {
	call := &CallContext{
		Peer:    p,
		ID:      msg.RelatedID,
		Service: msg.Service,
		Method:  msg.Method,
		Headers: msg.Headers,
	}

	if tag, exists := call.Header(argsTagHeader); exists && m.ArgsTag != "" && tag != m.ArgsTag {
		return nil, errors.Wrapf(ErrIncompatibleArguments, "expected %s, got %s", m.ArgsTag, tag)
	}

	args, err := m.decode(p.hub.codec, msg.Arguments)
	if err != nil {
		return nil, err
	}
	return p.hub.execute(ctx, m, call, args)
}

func (p *Peer) encodeResult(ctx context.Context, spawn parallel.SpawnFn, m *resolvedMethod, result any) ([]byte, error) {
	if m.kind != methodStream {
		return p.hub.codec.Encode(result, m.resultPolymorphic)
	}

	source, ok := result.(erasedSource)
	if !ok {
		return nil, errors.Errorf("stream method returned %T", result)
	}

	stream := newSharedStream(p, source)
	id, err := p.shared.Register(stream)
	if err != nil {
		return nil, err
	}
	stream.id = id

	spawn("stream", parallel.Continue, func(ctx context.Context) error {
		stream.run(ctx)
		return nil
	})

	return p.hub.codec.Encode(StreamRef{
		HostID:          p.hub.id,
		LocalID:         id,
		AckDistance:     p.config.StreamAckDistance,
		AdvanceDistance: p.config.StreamAdvanceDistance,
	}, false)
}

func (p *Peer) respond(ctx context.Context, id uint64, result []byte, err error) {
	var msg *wire.Message
	var msgErr error
	if err != nil {
		wireErr := toWireError(err)
		msg, msgErr = systemMessage(methodError, id, &wireErr)
	} else {
		msg, msgErr = systemMessage(methodOk, id, &wire.Ok{Result: result})
	}
	if msgErr != nil {
		logger.Get(ctx).Error("Encoding response failed", zap.Uint64("callID", id), zap.Error(msgErr))
		return
	}

	if err := p.send(ctx, msg); err != nil {
		logger.Get(ctx).Debug("Sending response failed", zap.Uint64("callID", id), zap.Error(err))
	}
}

// abortInbound cancels calls delivered by the lost connection. Their callers have failed them
// already, so no response is sent.
func (p *Peer) abortInbound() {
	for _, call := range p.inbound.Drain() {
		call.requestCancel()
	}
}

func (p *Peer) cancelInbound(id uint64) {
	if call, exists := p.inbound.Get(id); exists {
		call.requestCancel()
	}
}
