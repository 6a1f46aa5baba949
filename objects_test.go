package tether

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/qa"
	"github.com/outofforest/tether/wire"
)

type testSharedObject struct {
	mu       sync.Mutex
	disposed int
}

func (o *testSharedObject) Dispose() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.disposed++
}

func (o *testSharedObject) Disposed() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.disposed
}

type testRemoteObject struct {
	id ObjectID

	mu          sync.Mutex
	reconnected int
	err         error
}

func (o *testRemoteObject) ObjectID() ObjectID {
	return o.id
}

func (o *testRemoteObject) Reconnect(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.reconnected++
}

func (o *testRemoteObject) Disconnect(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.err = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestSharedObjectsRegistration(t *testing.T) {
	requireT := require.New(t)

	hub := newTestHub(t, testConfig())
	p := newPeer(hub, "test", nil, false)

	obj1 := &testSharedObject{}
	id1, err := p.shared.Register(obj1)
	requireT.NoError(err)
	requireT.NotZero(id1)

	requireT.ErrorIs(p.shared.RegisterAs(id1, &testSharedObject{}), ErrObjectExists)

	obj2 := &testSharedObject{}
	requireT.NoError(p.shared.RegisterAs(10, obj2))

	id3, err := p.shared.Register(&testSharedObject{})
	requireT.NoError(err)
	requireT.EqualValues(11, id3)

	obj, exists := p.shared.Get(10)
	requireT.True(exists)
	requireT.Same(obj2, obj)

	requireT.Equal([]uint64{20}, p.shared.KeepAlive([]uint64{id1, 10, 20}))

	p.shared.Release([]uint64{id1, 20})
	requireT.Equal(1, obj1.Disposed())
	requireT.Equal(2, p.shared.Len())
}

func TestSharedObjectsEviction(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	config := testConfig()
	hub := newTestHub(t, config)
	p := newPeer(hub, "test", nil, false)

	clock := &testClock{now: time.Unix(1000, 0)}
	p.shared.now = clock.Now

	kept := &testSharedObject{}
	keptID, err := p.shared.Register(kept)
	requireT.NoError(err)

	evicted := &testSharedObject{}
	_, err = p.shared.Register(evicted)
	requireT.NoError(err)

	clock.Advance(config.ObjectReleaseTimeout / 2)
	requireT.Empty(p.shared.KeepAlive([]uint64{keptID}))

	clock.Advance(config.ObjectReleaseTimeout/2 + time.Millisecond)
	p.shared.maintain(ctx)

	requireT.Zero(kept.Disposed())
	requireT.Equal(1, evicted.Disposed())
	requireT.Equal(1, p.shared.Len())

	_, exists := p.shared.Get(keptID)
	requireT.True(exists)
}

func TestSharedObjectsDisconnectSilentPeer(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	config := testConfig()
	hub := newTestHub(t, config)
	p, _, connCtx := newConnectedPeer(t, hub)

	clock := &testClock{now: time.Unix(1000, 0)}
	p.shared.now = clock.Now
	p.shared.OnConnected()

	clock.Advance(config.KeepAliveTimeout - time.Millisecond)
	p.shared.maintain(ctx)
	requireT.NoError(connCtx.Err())

	requireT.Empty(p.shared.KeepAlive(nil))
	clock.Advance(config.KeepAliveTimeout - time.Millisecond)
	p.shared.maintain(ctx)
	requireT.NoError(connCtx.Err())

	clock.Advance(2 * time.Millisecond)
	p.shared.maintain(ctx)
	requireT.ErrorIs(context.Cause(connCtx), ErrKeepAliveTimeout)
}

func TestSharedObjectsAbort(t *testing.T) {
	requireT := require.New(t)

	hub := newTestHub(t, testConfig())
	p := newPeer(hub, "test", nil, false)

	obj := &testSharedObject{}
	_, err := p.shared.Register(obj)
	requireT.NoError(err)

	p.shared.Abort()
	requireT.Equal(1, obj.Disposed())
	requireT.Zero(p.shared.Len())

	_, err = p.shared.Register(&testSharedObject{})
	requireT.ErrorIs(err, ErrPeerClosed)
}

func TestRemoteObjectsReconnect(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	hub := newTestHub(t, testConfig())
	p := newPeer(hub, "test", nil, false)

	sameHost := &testRemoteObject{id: ObjectID{HostID: testRemoteID, LocalID: 1}}
	otherHost := &testRemoteObject{id: ObjectID{HostID: wire.PeerID{0xff}, LocalID: 1}}
	requireT.NoError(registerRemote(p.remote, sameHost))
	requireT.NoError(registerRemote(p.remote, otherHost))
	requireT.ErrorIs(registerRemote(p.remote, &testRemoteObject{id: sameHost.id}), ErrObjectExists)

	p.remote.Reconnect(ctx, &wire.Handshake{PeerID: testRemoteID, Index: 2})

	requireT.Equal(1, sameHost.reconnected)
	requireT.NoError(sameHost.err)
	requireT.Zero(otherHost.reconnected)
	requireT.ErrorIs(otherHost.err, ErrObjectNotFound)

	_, exists := p.remote.Get(otherHost.id)
	requireT.False(exists)
	obj, exists := p.remote.Get(sameHost.id)
	requireT.True(exists)
	requireT.Same(sameHost, obj)

	p.remote.Abort(ErrPeerClosed)
	requireT.ErrorIs(sameHost.err, ErrPeerClosed)
	requireT.Zero(p.remote.Len())
	requireT.ErrorIs(registerRemote(p.remote, &testRemoteObject{id: sameHost.id}), ErrPeerClosed)

	runtime.KeepAlive(sameHost)
	runtime.KeepAlive(otherHost)
}

func TestRemoteObjectsAreTrackedWeakly(t *testing.T) {
	requireT := require.New(t)

	hub := newTestHub(t, testConfig())
	p := newPeer(hub, "test", nil, false)

	live := &testRemoteObject{id: ObjectID{HostID: testRemoteID, LocalID: 1}}
	requireT.NoError(registerRemote(p.remote, live))
	requireT.NoError(registerRemote(p.remote, &testRemoteObject{id: ObjectID{HostID: testRemoteID, LocalID: 2}}))

	var dead []uint64
	requireT.Eventually(func() bool {
		runtime.GC()

		var liveIDs, deadIDs []uint64
		liveIDs, deadIDs = p.remote.collect(testRemoteID)
		dead = append(dead, deadIDs...)
		return len(dead) > 0 && len(liveIDs) == 1
	}, waitTimeout, waitTick)

	requireT.Equal([]uint64{2}, dead)
	requireT.Equal(1, p.remote.Len())
	runtime.KeepAlive(live)
}

func TestKeepAliveIsSentAsHeartbeat(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	hub := newTestHub(t, testConfig())
	p, state, _ := newConnectedPeer(t, hub)

	obj := &testRemoteObject{id: ObjectID{HostID: testRemoteID, LocalID: 4}}
	requireT.NoError(registerRemote(p.remote, obj))

	p.remote.keepAlive(ctx)
	keepAlive := decodeMessage[wire.KeepAlive](t, nextMessage(t, state), methodKeepAlive)
	requireT.Equal([]uint64{4}, keepAlive.ObjectIDs)

	p.remote.Unregister(obj.id)
	p.remote.keepAlive(ctx)
	keepAlive = decodeMessage[wire.KeepAlive](t, nextMessage(t, state), methodKeepAlive)
	requireT.Empty(keepAlive.ObjectIDs)
}
