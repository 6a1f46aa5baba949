package tether

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/outofforest/tether/transport"
	"github.com/outofforest/tether/wire"
)

const testService = "test"

type env struct {
	Client *Hub
	Server *Hub
	Peer   *Peer
	Conns  chan transport.Connection
}

func newEnv(t *testing.T, config Config, services ...Service) env {
	client := newTestHub(t, config)
	server := newTestHub(t, config, services...)
	conns := make(chan transport.Connection, 10)

	return env{
		Client: client,
		Server: server,
		Peer:   client.Connect("server", pipeDialer(server, conns)),
		Conns:  conns,
	}
}

func (e env) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("client", parallel.Fail, e.Client.Run)
		spawn("server", parallel.Fail, e.Server.Run)
		return nil
	})
}

func echoService(calls *atomic.Int32, release <-chan struct{}) Service {
	return NewService(testService,
		Unary("echo", func(ctx context.Context, req string) (string, error) {
			return req, nil
		}),
		Unary("upper", func(ctx context.Context, req string) (string, error) {
			if calls != nil {
				calls.Add(1)
			}
			if release != nil {
				select {
				case <-ctx.Done():
					return "", errors.WithStack(ctx.Err())
				case <-release:
				}
			}
			return strings.ToUpper(req), nil
		}),
		Unary("fail", func(ctx context.Context, req string) (string, error) {
			return "", errors.New(req)
		}),
		Unary("double", func(ctx context.Context, req int) (int, error) {
			return 2 * req, nil
		}),
		Unary("header", func(ctx context.Context, req string) (string, error) {
			call, exists := CurrentCall(ctx)
			if !exists {
				return "", errors.New("no call")
			}
			value, _ := call.Header(req)
			return value, nil
		}),
		Streaming("count", func(ctx context.Context, n int) (Source[int], error) {
			items := make([]int, 0, n)
			for i := range n {
				items = append(items, i)
			}
			return FromSlice(items), nil
		}),
	)
}

func TestCallEcho(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	resp, err := Call[string, string](ctx, e.Peer, testService, "echo", "hi")
	requireT.NoError(err)
	requireT.Equal("hi", resp)

	double, err := Call[int, int](ctx, e.Peer, testService, "double", 21)
	requireT.NoError(err)
	requireT.Equal(42, double)

	requireT.Zero(e.Peer.outbound.Len())
}

func TestCallErrors(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	_, err := Call[string, string](ctx, e.Peer, testService, "missing", "hi")
	requireT.ErrorIs(err, ErrNotFound)

	_, err = Call[string, string](ctx, e.Peer, "missing", "echo", "hi")
	requireT.ErrorIs(err, ErrNotFound)

	_, err = Call[string, int](ctx, e.Peer, testService, "double", "21")
	requireT.ErrorIs(err, ErrIncompatibleArguments)

	_, err = Call[string, string](ctx, e.Peer, testService, "fail", "boom")
	var remoteErr *RemoteError
	requireT.ErrorAs(err, &remoteErr)
	requireT.Equal(kindCall, remoteErr.Kind)
	requireT.Equal("boom", remoteErr.Message)
}

func TestCallHeaders(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	resp, err := Call[string, string](ctx, e.Peer, testService, "header", "tenant",
		WithHeaders(wire.Header{Name: "tenant", Value: "acme"}))
	requireT.NoError(err)
	requireT.Equal("acme", resp)
}

func TestCallCancellation(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	calls := &atomic.Int32{}
	release := make(chan struct{})
	e := newEnv(t, testConfig(), echoService(calls, release))
	group.Spawn("env", parallel.Fail, e.Run)

	callCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := Call[string, string](callCtx, e.Peer, testService, "upper", "x")
		errCh <- err
	}()

	requireT.Eventually(func() bool {
		return calls.Load() == 1
	}, waitTimeout, waitTick)

	serverPeer := e.Server.Peers()[0]
	requireT.Equal(1, serverPeer.inbound.Len())

	cancel()
	requireT.ErrorIs(<-errCh, ErrCancelled)
	requireT.Zero(e.Peer.outbound.Len())

	// Remote call is cancelled too.
	requireT.Eventually(func() bool {
		return serverPeer.inbound.Len() == 0
	}, waitTimeout, waitTick)
}

func TestCallTimeout(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, make(chan struct{})))
	group.Spawn("env", parallel.Fail, e.Run)

	_, err := Call[string, string](ctx, e.Peer, testService, "upper", "x", WithCallTimeout(50*time.Millisecond))
	requireT.ErrorIs(err, ErrTimeout)
	requireT.Zero(e.Peer.outbound.Len())
}

func TestCallConnectTimeout(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := newTestHub(t, testConfig())
	group.Spawn("hub", parallel.Fail, hub.Run)

	p := hub.Connect("nowhere", func(
		ctx context.Context,
		serve func(ctx context.Context, conn transport.Connection) error,
	) error {
		<-ctx.Done()
		return errors.WithStack(ctx.Err())
	})

	_, err := Call[string, string](ctx, p, testService, "echo", "x", WithConnectTimeout(50*time.Millisecond))
	requireT.ErrorIs(err, ErrDisconnected)

	err = Notify(ctx, p, testService, "echo", "x", WithConnectTimeout(50*time.Millisecond))
	requireT.ErrorIs(err, ErrDisconnected)
}

func TestDisconnectAbortsCalls(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	calls := &atomic.Int32{}
	e := newEnv(t, testConfig(), echoService(calls, make(chan struct{})))
	group.Spawn("env", parallel.Fail, e.Run)
	conn := <-e.Conns

	const count = 5
	errCh := make(chan error, count)
	for range count {
		go func() {
			_, err := Call[string, string](ctx, e.Peer, testService, "upper", "x")
			errCh <- err
		}()
	}

	requireT.Eventually(func() bool {
		return calls.Load() == count
	}, waitTimeout, waitTick)

	requireT.NoError(conn.Close())
	for range count {
		requireT.ErrorIs(<-errCh, ErrDisconnected)
	}
	requireT.Zero(e.Peer.outbound.Len())

	// Peer reconnects.
	resp, err := Call[string, string](ctx, e.Peer, testService, "echo", "again")
	requireT.NoError(err)
	requireT.Equal("again", resp)
	requireT.GreaterOrEqual(e.Peer.State().Handshake.Index, uint64(2))
}

func TestNotify(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	received := make(chan string, 1)
	e := newEnv(t, testConfig(), NewService(testService,
		OneWay("notify", func(ctx context.Context, req string) error {
			received <- req
			return nil
		}),
	))
	group.Spawn("env", parallel.Fail, e.Run)

	requireT.NoError(Notify(ctx, e.Peer, testService, "notify", "event"))
	requireT.Equal("event", <-received)

	// Unknown method is dropped silently.
	requireT.NoError(Notify(ctx, e.Peer, testService, "missing", "event"))
}

func TestStream(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	config := testConfig()
	config.StreamAdvanceDistance = 4
	config.StreamAckDistance = 4
	e := newEnv(t, config, echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	stream, err := OpenStream[int, int](ctx, e.Peer, testService, "count", 10)
	requireT.NoError(err)

	items, err := Collect(ctx, stream)
	requireT.NoError(err)
	requireT.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, items)

	// Consumer releases stream after it ends.
	serverPeer := e.Server.Peers()[0]
	requireT.Eventually(func() bool {
		return serverPeer.shared.Len() == 0
	}, waitTimeout, waitTick)
}

func TestStreamClose(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	stream, err := OpenStream[int, int](ctx, e.Peer, testService, "count", 100)
	requireT.NoError(err)

	item, err := stream.Next(ctx)
	requireT.NoError(err)
	requireT.Zero(item)

	serverPeer := e.Server.Peers()[0]
	requireT.Equal(1, serverPeer.shared.Len())

	stream.Close()
	requireT.Eventually(func() bool {
		return serverPeer.shared.Len() == 0
	}, waitTimeout, waitTick)

	_, err = stream.Next(ctx)
	requireT.ErrorIs(err, ErrStreamClosed)
}

func TestStreamResumesAfterReconnection(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)
	conn := <-e.Conns

	stream, err := OpenStream[int, int](ctx, e.Peer, testService, "count", 30)
	requireT.NoError(err)

	var items []int
	for range 3 {
		item, err := stream.Next(ctx)
		requireT.NoError(err)
		items = append(items, item)
	}

	requireT.NoError(conn.Close())

	rest, err := Collect(ctx, stream)
	requireT.NoError(err)
	items = append(items, rest...)

	expected := make([]int, 0, 30)
	for i := range 30 {
		expected = append(expected, i)
	}
	requireT.Equal(expected, items)
}

func TestLocalFallback(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	hub := newTestHub(t, testConfig(), echoService(nil, nil))

	resp, err := Call[string, string](ctx, hub, testService, "upper", "local")
	requireT.NoError(err)
	requireT.Equal("LOCAL", resp)

	_, err = Call[int, int](ctx, hub, testService, "double", 1)
	requireT.NoError(err)

	_, err = Call[string, string](ctx, hub, testService, "double", "1")
	requireT.ErrorIs(err, ErrIncompatibleArguments)

	_, err = Call[string, string](ctx, hub, testService, "missing", "x")
	requireT.ErrorIs(err, ErrNotFound)

	stream, err := OpenStream[int, int](ctx, hub, testService, "count", 3)
	requireT.NoError(err)
	items, err := Collect(ctx, stream)
	requireT.NoError(err)
	requireT.Equal([]int{0, 1, 2}, items)
}

func TestRouter(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	server := newTestHub(t, testConfig(), NewService(testService,
		Unary("where", func(ctx context.Context, req string) (string, error) {
			return "remote", nil
		}),
	))

	var remote *Peer
	client, err := NewHub(HubConfig{
		Config: testConfig(),
		Services: []Service{NewService("local",
			Unary("where", func(ctx context.Context, req string) (string, error) {
				return "local", nil
			}),
		)},
		Router: func(service, method string) *Peer {
			if service == testService {
				return remote
			}
			return nil
		},
	})
	requireT.NoError(err)

	group.Spawn("client", parallel.Fail, client.Run)
	group.Spawn("server", parallel.Fail, server.Run)
	remote = client.Connect("server", pipeDialer(server, nil))

	resp, err := Call[string, string](ctx, client, testService, "where", "")
	requireT.NoError(err)
	requireT.Equal("remote", resp)

	resp, err = Call[string, string](ctx, client, "local", "where", "")
	requireT.NoError(err)
	requireT.Equal("local", resp)
}

func TestConnectToSelf(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	hub := newTestHub(t, testConfig(), echoService(nil, nil))
	group.Spawn("hub", parallel.Fail, hub.Run)

	p := hub.Connect("self", pipeDialer(hub, nil))

	_, err := Call[string, string](ctx, p, testService, "echo", "x")
	requireT.ErrorIs(err, ErrPeerClosed)
	requireT.True(p.State().IsClosed())

	requireT.Eventually(func() bool {
		_, exists := hub.Peer("self")
		return !exists
	}, waitTimeout, waitTick)
}

func TestPeerClose(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	stream, err := OpenStream[int, int](ctx, e.Peer, testService, "count", 100)
	requireT.NoError(err)

	e.Peer.Close()
	requireT.Eventually(func() bool {
		return e.Peer.State().IsClosed()
	}, waitTimeout, waitTick)

	_, err = Call[string, string](ctx, e.Peer, testService, "echo", "x")
	requireT.ErrorIs(err, ErrPeerClosed)

	requireT.Eventually(func() bool {
		_, err := stream.Next(ctx)
		return errors.Is(err, ErrPeerClosed)
	}, waitTimeout, waitTick)
}

func TestStreamSourcePanicEndsOnlyTheStream(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), NewService(testService,
		Unary("echo", func(ctx context.Context, req string) (string, error) {
			return req, nil
		}),
		Streaming("explode", func(ctx context.Context, n int) (Source[int], error) {
			var i int
			return func(ctx context.Context) (int, error) {
				if i == n {
					panic("source exploded")
				}
				i++
				return i, nil
			}, nil
		}),
	))
	group.Spawn("env", parallel.Fail, e.Run)

	stream, err := OpenStream[int, int](ctx, e.Peer, testService, "explode", 2)
	requireT.NoError(err)

	items, err := Collect(ctx, stream)
	requireT.Equal([]int{1, 2}, items)
	var remoteErr *RemoteError
	requireT.ErrorAs(err, &remoteErr)
	requireT.Contains(remoteErr.Message, "source exploded")

	resp, err := Call[string, string](ctx, e.Peer, testService, "echo", "alive")
	requireT.NoError(err)
	requireT.Equal("alive", resp)

	serverPeer := e.Server.Peers()[0]
	requireT.False(serverPeer.State().IsClosed())
}

func TestDisconnectCancelsInboundCalls(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	calls := &atomic.Int32{}
	e := newEnv(t, testConfig(), echoService(calls, make(chan struct{})))
	group.Spawn("env", parallel.Fail, e.Run)
	conn := <-e.Conns

	errCh := make(chan error, 1)
	go func() {
		_, err := Call[string, string](ctx, e.Peer, testService, "upper", "x")
		errCh <- err
	}()

	requireT.Eventually(func() bool {
		return calls.Load() == 1
	}, waitTimeout, waitTick)
	serverPeer := e.Server.Peers()[0]
	requireT.Equal(1, serverPeer.inbound.Len())

	requireT.NoError(conn.Close())
	requireT.ErrorIs(<-errCh, ErrDisconnected)

	resp, err := Call[string, string](ctx, e.Peer, testService, "echo", "again")
	requireT.NoError(err)
	requireT.Equal("again", resp)
	requireT.Zero(serverPeer.inbound.Len())
}

func TestCallWithIncompatibleMethodKind(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	e := newEnv(t, testConfig(), echoService(nil, nil))
	group.Spawn("env", parallel.Fail, e.Run)

	_, err := Call[int, []int](ctx, e.Peer, testService, "count", 3)
	requireT.ErrorIs(err, ErrIncompatibleArguments)

	_, err = OpenStream[string, string](ctx, e.Peer, testService, "echo", "x")
	requireT.ErrorIs(err, ErrIncompatibleArguments)

	serverPeer := e.Server.Peers()[0]
	requireT.Zero(serverPeer.shared.Len())
}
