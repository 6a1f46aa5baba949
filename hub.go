package tether

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
	"github.com/outofforest/tether/codec"
	"github.com/outofforest/tether/transport"
	"github.com/outofforest/tether/wire"
)

var errConnectionReplaced = errors.New("connection replaced by the new one")

// HubConfig configures hub.
type HubConfig struct {
	Config

	// Services are the services served by the hub.
	Services []Service

	// Types is the table of types allowed in polymorphic arguments.
	Types *codec.Types

	// Codec encodes arguments and results, JSON codec is used by default.
	Codec codec.Codec

	// Hooks wrap execution of served calls, LoggingHook is used by default.
	Hooks []Hook

	// Router selects peer serving the call made through the hub. Calls not routed to any peer are
	// served locally.
	Router func(service, method string) *Peer
}

// Hub is the local endpoint. It serves its services to the peers and calls theirs.
type Hub struct {
	id       wire.PeerID
	config   Config
	types    *codec.Types
	codec    codec.Codec
	services *serviceRegistry
	hooks    []Hook
	router   func(service, method string) *Peer

	mu      sync.Mutex
	peers   map[PeerRef]*Peer
	pending []*Peer
	startCh chan struct{}
}

// NewHub creates hub.
func NewHub(config HubConfig) (*Hub, error) {
	if err := config.Config.Validate(); err != nil {
		return nil, err
	}

	id, err := newHubID()
	if err != nil {
		return nil, err
	}

	types := config.Types
	if types == nil {
		types = codec.NewTypes()
	}
	c := config.Codec
	if c == nil {
		c = codec.NewJSON(types)
	}
	hooks := config.Hooks
	if hooks == nil {
		hooks = []Hook{LoggingHook}
	}

	services, err := newServiceRegistry(types, config.Services)
	if err != nil {
		return nil, err
	}

	return &Hub{
		id:       id,
		config:   config.Config,
		types:    types,
		codec:    c,
		services: services,
		hooks:    hooks,
		router:   config.Router,
		peers:    map[PeerRef]*Peer{},
		startCh:  make(chan struct{}, 1),
	}, nil
}

// ID returns the identity of the hub.
func (h *Hub) ID() wire.PeerID {
	return h.id
}

// Run runs peers of the hub.
func (h *Hub) Run(ctx context.Context) error {
	ctx = logger.WithLogger(ctx, logger.Get(ctx).With(zap.String("hub", peerIDString(h.id))))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("peers", parallel.Fail, func(ctx context.Context) error {
			for {
				for _, p := range h.takePending() {
					spawn("peer", parallel.Continue, func(ctx context.Context) error {
						defer h.removePeer(p)

						if err := p.Run(ctx); err != nil && ctx.Err() == nil {
							logger.Get(ctx).Error("Peer failed", zap.String("peer", string(p.ref)), zap.Error(err))
						}
						return nil
					})
				}

				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case <-h.startCh:
				}
			}
		})
		return nil
	})
}

// Connect returns client peer connected by dialer. If peer exists already, it is returned.
func (h *Hub) Connect(ref PeerRef, dialer Dialer) *Peer {
	p, _ := h.getOrCreatePeer(ref, dialer, false)
	return p
}

// ConnectTCP returns client peer connected to the resonance server at addr.
func (h *Hub) ConnectTCP(addr string) *Peer {
	return h.Connect(PeerRef("tcp/"+addr), ResonanceDialer(addr, h.config))
}

// Peer returns peer.
func (h *Hub) Peer(ref PeerRef) (*Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, exists := h.peers[ref]
	return p, exists
}

// Peers returns all the peers of the hub.
func (h *Hub) Peers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	return lo.Values(h.peers)
}

// RunServer accepts resonance connections from ls.
func (h *Hub) RunServer(ctx context.Context, ls net.Listener) error {
	return resonance.RunServer(ctx, ls, resonance.Config{MaxMessageSize: h.config.MaxMessageSize},
		func(ctx context.Context, c *resonance.Connection) error {
			return h.Accept(ctx, transport.Resonance(c))
		})
}

// Accept serves the connection initiated by the client. Connections of the same client are served
// by the same server peer, so calls and objects survive reconnections.
func (h *Hub) Accept(ctx context.Context, conn transport.Connection) error {
	msg, err := h.receiveHandshake(ctx, conn)
	if err != nil {
		return err
	}
	hs, err := decodeHandshake(msg)
	if err != nil {
		return err
	}
	if hs.PeerID == h.id {
		// Client detects it too, once it receives our handshake.
		if reply, err := systemMessage(methodHandshake, 0, hs); err == nil {
			_ = conn.Send(reply)
		}
		return errors.WithStack(ErrConnectedToSelf)
	}

	ref := PeerRef("server/" + peerIDString(hs.PeerID))
	conn = transport.WithFirst(conn, msg)
	for {
		p, _ := h.getOrCreatePeer(ref, nil, true)
		if p.State().IsConnected() {
			p.Disconnect(errors.WithStack(errConnectionReplaced))
		}

		done := make(chan error, 1)
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-p.terminated:
			h.removePeer(p)
			continue
		case p.accepted <- acceptedConn{conn: conn, done: done}:
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case err := <-done:
			return err
		}
	}
}

func (h *Hub) receiveHandshake(ctx context.Context, conn transport.Connection) (*wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.HandshakeTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	msg, err := conn.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "waiting for handshake failed")
		}
		return nil, err
	}
	return msg, nil
}

func (h *Hub) getOrCreatePeer(ref PeerRef, dialer Dialer, server bool) (*Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, exists := h.peers[ref]; exists {
		return p, false
	}

	p := newPeer(h, ref, dialer, server)
	h.peers[ref] = p
	h.pending = append(h.pending, p)

	select {
	case h.startCh <- struct{}{}:
	default:
	}
	return p, true
}

func (h *Hub) takePending() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	pending := h.pending
	h.pending = nil
	return pending
}

func (h *Hub) removePeer(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.peers[p.ref]; exists && existing == p {
		delete(h.peers, p.ref)
	}
}

func (h *Hub) invoke(ctx context.Context, r *outboundRequest) error {
	if h.router != nil {
		if p := h.router(r.Service, r.Method); p != nil {
			return p.invoke(ctx, r)
		}
	}

	m, exists := h.services.Resolve(r.Service, r.Method)
	if !exists {
		return errors.Wrapf(ErrNotFound, "%s.%s", r.Service, r.Method)
	}
	if tag := typeTag(h.types, r.ArgsType); tag != "" && m.ArgsTag != "" && tag != m.ArgsTag {
		return errors.Wrapf(ErrIncompatibleArguments, "expected %s, got %s", m.ArgsTag, tag)
	}
	if (r.Kind == methodStream) != (m.kind == methodStream) {
		return errors.Wrapf(ErrIncompatibleArguments, "%s.%s is called with incompatible method kind",
			r.Service, r.Method)
	}

	callTimeout := h.config.CallTimeout
	if r.Options.callTimeout != nil {
		callTimeout = *r.Options.callTimeout
	}
	if callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, callTimeout, ErrTimeout)
		defer cancel()
	}

	result, err := h.execute(ctx, m, &CallContext{
		Service: r.Service,
		Method:  r.Method,
		Headers: r.Options.headers,
	}, r.Args)
	if err != nil {
		if r.Kind == methodNoWait {
			logger.Get(ctx).Error("Local notification failed", zap.String("service", r.Service),
				zap.String("method", r.Method), zap.Error(err))
			return nil
		}
		return callError(ctx, err)
	}

	switch r.Kind {
	case methodNoWait:
		return nil
	case methodStream:
		source, ok := result.(erasedSource)
		if !ok {
			return errors.Errorf("stream method returned %T", result)
		}
		r.SetLocalStream(source)
		return nil
	default:
		return r.SetResult(result)
	}
}

func (h *Hub) execute(ctx context.Context, m *resolvedMethod, call *CallContext, args any) (any, error) {
	return runHooks(withCall(ctx, call), h.hooks, call, func(ctx context.Context) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("call %s.%s panicked: %v", call.Service, call.Method, r)
			}
		}()
		return m.invoke(ctx, args)
	})
}

// ResonanceDialer returns dialer connecting to the resonance server at addr.
func ResonanceDialer(addr string, config Config) Dialer {
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}
	return func(ctx context.Context, serve func(ctx context.Context, conn transport.Connection) error) error {
		return resonance.RunClient(ctx, addr, connConfig, func(ctx context.Context, c *resonance.Connection) error {
			return serve(ctx, transport.Resonance(c))
		})
	}
}
