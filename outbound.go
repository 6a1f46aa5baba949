package tether

import (
	"context"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/codec"
	"github.com/outofforest/tether/wire"
)

const (
	argsTagHeader = "@a"
	kindHeader    = "@k"

	streamKind = "stream"
)

// Caller executes outbound calls. *Peer sends them to the remote peer, *Hub routes them to the
// peer chosen by its router or serves them locally.
type Caller interface {
	invoke(ctx context.Context, r *outboundRequest) error
}

// CallOption configures outbound call.
type CallOption func(o *callOptions)

type callOptions struct {
	connectTimeout *time.Duration
	callTimeout    *time.Duration
	headers        []wire.Header
}

// WithConnectTimeout sets the time call waits for the peer to connect.
func WithConnectTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.connectTimeout = &timeout
	}
}

// WithCallTimeout sets the time after which call fails with ErrTimeout.
func WithCallTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.callTimeout = &timeout
	}
}

// WithHeaders attaches headers to the call.
func WithHeaders(headers ...wire.Header) CallOption {
	return func(o *callOptions) {
		o.headers = append(o.headers, headers...)
	}
}

type outboundRequest struct {
	Service           string
	Method            string
	Kind              methodKind
	Args              any
	ArgsType          reflect.Type
	ArgsPolymorphic   bool
	ResultPolymorphic bool
	Options           callOptions

	// DecodeResult receives result of remote call.
	DecodeResult func(c codec.Codec, data []byte) error

	// SetResult receives result of local call.
	SetResult func(v any) error

	SetRemoteStream func(rs *remoteStream, c codec.Codec)
	SetLocalStream  func(source erasedSource)
}

func newOutboundRequest[Req any](service, method string, kind methodKind, req Req, opts []CallOption) *outboundRequest {
	r := &outboundRequest{
		Service:         service,
		Method:          method,
		Kind:            kind,
		Args:            req,
		ArgsType:        reflect.TypeFor[Req](),
		ArgsPolymorphic: isPolymorphic[Req](),
	}
	for _, opt := range opts {
		opt(&r.Options)
	}
	return r
}

// Call calls the method and waits for its result.
func Call[Req, Resp any](
	ctx context.Context,
	caller Caller,
	service, method string,
	req Req,
	opts ...CallOption,
) (Resp, error) {
	var resp Resp

	r := newOutboundRequest(service, method, methodRegular, req, opts)
	r.ResultPolymorphic = isPolymorphic[Resp]()
	r.DecodeResult = func(c codec.Codec, data []byte) error {
		return c.Decode(data, &resp, r.ResultPolymorphic)
	}
	r.SetResult = func(v any) error {
		if v == nil {
			return nil
		}
		result, ok := v.(Resp)
		if !ok {
			return errors.Errorf("expected result of type %s, got %T", reflect.TypeFor[Resp](), v)
		}
		resp = result
		return nil
	}

	if err := caller.invoke(ctx, r); err != nil {
		var zero Resp
		return zero, err
	}
	return resp, nil
}

// Notify calls the method without waiting for any confirmation.
func Notify[Req any](ctx context.Context, caller Caller, service, method string, req Req, opts ...CallOption) error {
	return caller.invoke(ctx, newOutboundRequest(service, method, methodNoWait, req, opts))
}

type outboundCall struct {
	id     uint64
	result *future[[]byte]
}

func (p *Peer) invoke(ctx context.Context, r *outboundRequest) error {
	args, err := p.hub.codec.Encode(r.Args, r.ArgsPolymorphic)
	if err != nil {
		return errors.Wrapf(err, "encoding arguments of %s.%s failed", r.Service, r.Method)
	}

	headers := append([]wire.Header{}, r.Options.headers...)
	if tag := typeTag(p.hub.types, r.ArgsType); tag != "" {
		headers = append(headers, wire.Header{Name: argsTagHeader, Value: tag})
	}
	if r.Kind == methodStream {
		headers = append(headers, wire.Header{Name: kindHeader, Value: streamKind})
	}

	msg := &wire.Message{
		Service:   r.Service,
		Method:    r.Method,
		Arguments: args,
		Headers:   headers,
	}

	connectTimeout := p.config.ConnectTimeout
	if r.Options.connectTimeout != nil {
		connectTimeout = *r.Options.connectTimeout
	}

	if r.Kind == methodNoWait {
		msg.CallType = wire.CallTypeNoWait
		state, err := p.waitConnected(ctx, connectTimeout)
		if err != nil {
			return err
		}
		return state.send(ctx, msg)
	}

	callTimeout := p.config.CallTimeout
	if r.Options.callTimeout != nil {
		callTimeout = *r.Options.callTimeout
	}
	if callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, callTimeout, ErrTimeout)
		defer cancel()
	}

	msg.CallType = wire.CallTypeRegular
	result, err := p.call(ctx, msg, connectTimeout)
	if err != nil {
		return err
	}

	if r.Kind == methodStream {
		return p.openRemoteStream(r, result)
	}
	return r.DecodeResult(p.hub.codec, result)
}

func (p *Peer) call(ctx context.Context, msg *wire.Message, connectTimeout time.Duration) ([]byte, error) {
	var call *outboundCall
	for {
		state, err := p.waitConnected(ctx, connectTimeout)
		if err != nil {
			return nil, callError(ctx, err)
		}

		var id uint64
		id, call = p.outbound.Register(func(id uint64) *outboundCall {
			return &outboundCall{
				id:     id,
				result: newFuture[[]byte](),
			}
		})

		// Disconnection aborts calls registered before it, so the state must be checked after
		// registering. Calls which weren't sent yet may be retried safely.
		if p.State() != state {
			p.outbound.Unregister(id, call)
			continue
		}

		m := *msg
		m.RelatedID = id
		if err := state.send(ctx, &m); err != nil {
			p.outbound.Unregister(id, call)
			if ctx.Err() != nil {
				return nil, callError(ctx, err)
			}
			continue
		}
		break
	}

	select {
	case <-call.result.Done():
	case <-ctx.Done():
		p.cancelCall(call, callError(ctx, ctx.Err()))
		<-call.result.Done()
	}
	return call.result.Result()
}

// cancelCall settles the call locally and asks the remote peer to cancel it. Remote cancellation
// is best effort, the remote peer reclaims the call anyway when connection is lost.
func (p *Peer) cancelCall(call *outboundCall, err error) {
	if !call.result.TrySetError(err) {
		return
	}
	p.outbound.Unregister(call.id, call)

	msg, err := systemMessage(methodCancel, call.id, nil)
	if err != nil {
		return
	}
	p.State().trySend(msg)
}

func (p *Peer) completeCall(id uint64, result []byte, err error) {
	call, exists := p.outbound.Get(id)
	if !exists {
		return
	}

	if err != nil {
		call.result.TrySetError(err)
	} else {
		call.result.TrySetResult(result)
	}
	p.outbound.Unregister(id, call)
}

func (p *Peer) abortOutbound(err error) {
	err = disconnectedError(err)
	for _, call := range p.outbound.Drain() {
		call.result.TrySetError(err)
	}
}

func callError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
		return errors.WithStack(ErrTimeout)
	}
	return cancelledError(ctx.Err())
}
