package tether

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/tether/transport"
	"github.com/outofforest/tether/wire"
)

const (
	waitTimeout = 5 * time.Second
	waitTick    = 10 * time.Millisecond
)

var testRemoteID = wire.PeerID{0x01, 0x02, 0x03}

func testConfig() Config {
	config := DefaultConfig()
	config.HandshakeTimeout = 5 * time.Second
	config.KeepAlivePeriod = 50 * time.Millisecond
	config.KeepAliveTimeout = 5 * time.Second
	config.ObjectReleasePeriod = 50 * time.Millisecond
	config.ObjectReleaseTimeout = 5 * time.Second
	config.ObjectAbortCycles = 2
	config.ObjectAbortPeriod = 10 * time.Millisecond
	config.StreamAckDistance = 2
	config.StreamAdvanceDistance = 5
	config.ServerPeerCloseTimeout = 5 * time.Second
	config.Backoff = BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     100 * time.Millisecond,
	}
	return config
}

func newTestHub(t *testing.T, config Config, services ...Service) *Hub {
	hub, err := NewHub(HubConfig{
		Config:   config,
		Services: services,
	})
	require.NoError(t, err)
	return hub
}

// newConnectedPeer returns peer in connected state without any task running. Messages sent by the
// peer are read from state.sendCh.
func newConnectedPeer(t *testing.T, hub *Hub) (*Peer, *ConnectionState, context.Context) {
	p := newPeer(hub, "test", nil, false)

	conn, _ := transport.Pipe(1)
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() {
		cancel(nil)
	})

	state := p.markConnected(conn, &wire.Handshake{PeerID: testRemoteID, Index: 1}, ctx.Done(), cancel)
	require.NotNil(t, state)
	return p, state, ctx
}

func nextMessage(t *testing.T, state *ConnectionState) *wire.Message {
	select {
	case msg := <-state.sendCh:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("message not sent")
		return nil
	}
}

func requireNoMessage(t *testing.T, state *ConnectionState) {
	select {
	case msg := <-state.sendCh:
		t.Fatalf("unexpected message %s.%s", msg.Service, msg.Method)
	case <-time.After(100 * time.Millisecond):
	}
}

func decodeMessage[T any](t *testing.T, msg *wire.Message, method string) *T {
	require.Equal(t, wire.CallTypeSystem, msg.CallType)
	require.Equal(t, method, msg.Method)

	args, err := decodeSystem[T](msg)
	require.NoError(t, err)
	return args
}

// pipeDialer connects to server hub through in-memory pipe. Every established connection is sent
// to conns, if it is not nil, so test may break it.
func pipeDialer(server *Hub, conns chan<- transport.Connection) Dialer {
	return func(ctx context.Context, serve func(ctx context.Context, conn transport.Connection) error) error {
		clientConn, serverConn := transport.Pipe(64)
		if conns != nil {
			select {
			case conns <- clientConn:
			default:
			}
		}

		return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
			spawn("server", parallel.Fail, func(ctx context.Context) error {
				defer serverConn.Close()
				return server.Accept(ctx, serverConn)
			})
			spawn("client", parallel.Fail, func(ctx context.Context) error {
				defer clientConn.Close()
				return serve(ctx, clientConn)
			})
			return nil
		})
	}
}
