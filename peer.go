package tether

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/tether/transport"
	"github.com/outofforest/tether/wire"
)

var errPeerIdle = errors.New("peer is idle")

// Dialer establishes transport connection and serves it until it is closed.
type Dialer func(ctx context.Context, serve func(ctx context.Context, conn transport.Connection) error) error

// PeerRef identifies peer within the hub.
type PeerRef string

type acceptedConn struct {
	conn transport.Connection
	done chan<- error
}

// Peer is the remote endpoint the hub exchanges calls with. It owns everything scoped to that
// endpoint: calls in flight, shared and remote objects, and the connection itself.
type Peer struct {
	ref    PeerRef
	hub    *Hub
	config Config
	dialer Dialer
	server bool

	outbound *registry[*outboundCall]
	inbound  *registry[*inboundCall]
	shared   *SharedObjects
	remote   *RemoteObjects

	handshakeIndex atomic.Uint64
	accepted       chan acceptedConn
	terminated     chan struct{}

	mu     sync.Mutex
	state  *ConnectionState
	cancel context.CancelFunc
	closed bool
}

func newPeer(hub *Hub, ref PeerRef, dialer Dialer, server bool) *Peer {
	p := &Peer{
		ref:        ref,
		hub:        hub,
		config:     hub.config,
		dialer:     dialer,
		server:     server,
		outbound:   newRegistry[*outboundCall](),
		inbound:    newRegistry[*inboundCall](),
		accepted:   make(chan acceptedConn),
		terminated: make(chan struct{}),
		state:      newConnectionState(),
	}
	p.shared = newSharedObjects(p)
	p.remote = newRemoteObjects(p)
	if server {
		p.dialer = p.acceptDialer
	}
	return p
}

// Ref returns reference of the peer.
func (p *Peer) Ref() PeerRef {
	return p.ref
}

// State returns current connection state.
func (p *Peer) State() *ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// WhenConnected waits until peer is connected.
func (p *Peer) WhenConnected(ctx context.Context) (*ConnectionState, error) {
	return p.waitConnected(ctx, 0)
}

// Disconnect drops the current connection. Peer reconnects afterwards.
func (p *Peer) Disconnect(err error) {
	state := p.State()
	if state.IsConnected() {
		state.cancel(err)
	}
}

// Close closes the peer.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run runs the peer.
func (p *Peer) Run(ctx context.Context) error {
	defer close(p.terminated)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.terminate(ErrPeerClosed)
		return errors.WithStack(ErrPeerClosed)
	}
	p.cancel = cancel
	p.mu.Unlock()

	ctx = logger.WithLogger(ctx, logger.Get(ctx).With(zap.String("peer", string(p.ref))))

	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("connections", parallel.Exit, func(ctx context.Context) error {
			return p.runConnections(ctx, spawn)
		})
		spawn("keepAlive", parallel.Fail, p.remote.run)
		spawn("release", parallel.Fail, p.shared.run)
		return nil
	})

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed && errors.Is(err, context.Canceled) {
		err = nil
	}

	cause := err
	if cause == nil {
		cause = ErrPeerClosed
	}
	p.terminate(cause)
	return err
}

func (p *Peer) runConnections(ctx context.Context, spawn parallel.SpawnFn) error {
	log := logger.Get(ctx)

	for {
		err := p.dialer(ctx, func(ctx context.Context, conn transport.Connection) error {
			return p.serveConnection(ctx, spawn, conn)
		})

		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		if errors.Is(err, errPeerIdle) {
			log.Info("Client has not reconnected, closing peer")
			return nil
		}
		if err == nil {
			err = errors.WithStack(transport.ErrClosed)
		}

		state := p.markDisconnected(p.State(), err)
		if errors.Is(err, ErrConnectedToSelf) {
			return err
		}

		log.Error("Peer connection failed", zap.Int("tryIndex", state.TryIndex), zap.Error(err))

		if p.server {
			continue
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(backoffDelay(p.config.Backoff, state.TryIndex)):
		}
	}
}

func (p *Peer) serveConnection(ctx context.Context, spawn parallel.SpawnFn, conn transport.Connection) error {
	defer conn.Close()

	hs, err := p.handshake(ctx, conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	state := p.markConnected(conn, hs, ctx.Done(), cancel)
	if state == nil {
		return errors.WithStack(ErrPeerClosed)
	}

	logger.Get(ctx).Info("Peer connected",
		zap.String("remotePeerID", peerIDString(hs.PeerID)),
		zap.Uint64("handshakeIndex", hs.Index))

	p.shared.OnConnected()

	err = parallel.Run(ctx, func(ctx context.Context, spawnConn parallel.SpawnFn) error {
		spawnConn("receiver", parallel.Fail, func(ctx context.Context) error {
			for {
				msg, err := conn.Receive()
				if err != nil {
					return err
				}
				p.dispatch(ctx, spawn, hs, msg)
			}
		})
		spawnConn("sender", parallel.Fail, func(ctx context.Context) error {
			defer conn.Close()

			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case msg := <-state.sendCh:
					if err := conn.Send(msg); err != nil {
						return err
					}
				}
			}
		})
		spawnConn("reconnect", parallel.Continue, func(ctx context.Context) error {
			p.remote.Reconnect(ctx, hs)
			return nil
		})
		return nil
	})

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func (p *Peer) handshake(ctx context.Context, conn transport.Connection) (*wire.Handshake, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.HandshakeTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	msg, err := systemMessage(methodHandshake, 0, &wire.Handshake{
		PeerID: p.hub.id,
		Index:  p.handshakeIndex.Add(1),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Send(msg); err != nil {
		return nil, err
	}

	msg, err = conn.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "waiting for handshake failed")
		}
		return nil, err
	}

	hs, err := decodeHandshake(msg)
	if err != nil {
		return nil, err
	}
	if hs.PeerID == p.hub.id {
		return nil, errors.WithStack(ErrConnectedToSelf)
	}
	return hs, nil
}

func (p *Peer) acceptDialer(ctx context.Context, serve func(ctx context.Context, conn transport.Connection) error) error {
	timer := time.NewTimer(p.config.ServerPeerCloseTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		return errors.WithStack(errPeerIdle)
	case a := <-p.accepted:
		err := serve(ctx, a.conn)
		a.done <- err
		return err
	}
}

func (p *Peer) markConnected(
	conn transport.Connection,
	hs *wire.Handshake,
	done <-chan struct{},
	cancel context.CancelCauseFunc,
) *ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.closed {
		return nil
	}

	prev := p.state
	p.state = prev.connected(conn, hs, done, cancel)
	close(prev.next)
	return p.state
}

// markDisconnected moves peer to disconnected state if expected is still the current one.
// Concurrent triggers collapse into one transition.
func (p *Peer) markDisconnected(expected *ConnectionState, err error) *ConnectionState {
	p.mu.Lock()
	if p.state != expected || expected.closed {
		state := p.state
		p.mu.Unlock()
		return state
	}
	next := expected.disconnected(err)
	p.state = next
	close(expected.next)
	p.mu.Unlock()

	if expected.IsConnected() {
		expected.cancel(err)
		p.abortOutbound(err)
		p.abortInbound()
	}
	return next
}

func (p *Peer) terminate(err error) {
	p.mu.Lock()
	prev := p.state
	if prev.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state = prev.terminated(err)
	close(prev.next)
	p.mu.Unlock()

	if prev.IsConnected() {
		prev.cancel(err)
	}
	p.abortOutbound(err)
	p.abortInbound()
	p.shared.Abort()
	p.remote.Abort(err)
}

func (p *Peer) waitConnected(ctx context.Context, timeout time.Duration) (*ConnectionState, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		state := p.State()
		if state.IsConnected() {
			// Connection which is being torn down is waited out until the state is replaced.
			select {
			case <-state.done:
			default:
				return state, nil
			}
		}
		if state.closed {
			return nil, peerClosedError(state.Error)
		}

		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-timeoutCh:
			return nil, disconnectedError(state.Error)
		case <-state.next:
		}
	}
}

func (p *Peer) send(ctx context.Context, msg *wire.Message) error {
	return p.State().send(ctx, msg)
}
