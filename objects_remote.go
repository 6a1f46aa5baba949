package tether

import (
	"context"
	"sync"
	"time"
	"weak"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/tether/wire"
)

// ObjectID identifies object shared by the hub HostID.
type ObjectID struct {
	HostID  wire.PeerID
	LocalID uint64
}

// RemoteObject is the local proxy of the object shared by the remote peer.
type RemoteObject interface {
	ObjectID() ObjectID

	// Reconnect is called when connection to the host of the object is reestablished.
	Reconnect(ctx context.Context)

	// Disconnect is called when object is gone for good.
	Disconnect(err error)
}

// RemoteObjects tracks proxies of objects shared by the remote peer. Proxies are referenced
// weakly, so tracking doesn't keep them alive.
type RemoteObjects struct {
	peer   *Peer
	config Config

	mu      sync.Mutex
	objects map[ObjectID]func() RemoteObject
	aborted bool
}

func newRemoteObjects(p *Peer) *RemoteObjects {
	return &RemoteObjects{
		peer:    p,
		config:  p.config,
		objects: map[ObjectID]func() RemoteObject{},
	}
}

func registerRemote[T any, PT interface {
	*T
	RemoteObject
}](ro *RemoteObjects, obj PT) error {
	wp := weak.Make((*T)(obj))
	resolve := func() RemoteObject {
		v := wp.Value()
		if v == nil {
			return nil
		}
		return PT(v)
	}

	id := obj.ObjectID()

	ro.mu.Lock()
	defer ro.mu.Unlock()

	if ro.aborted {
		return errors.WithStack(ErrPeerClosed)
	}
	if _, exists := ro.objects[id]; exists {
		return errors.Wrapf(ErrObjectExists, "object %d", id.LocalID)
	}
	ro.objects[id] = resolve
	return nil
}

// Get returns object if it is still alive.
func (ro *RemoteObjects) Get(id ObjectID) (RemoteObject, bool) {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	resolve, exists := ro.objects[id]
	if !exists {
		return nil, false
	}
	obj := resolve()
	if obj == nil {
		return nil, false
	}
	return obj, true
}

// Unregister stops tracking object.
func (ro *RemoteObjects) Unregister(id ObjectID) {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	delete(ro.objects, id)
}

// Len returns the number of tracked objects.
func (ro *RemoteObjects) Len() int {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	return len(ro.objects)
}

// collect returns IDs of live objects hosted by hostID and IDs of the ones collected by GC.
// Collected objects are forgotten.
func (ro *RemoteObjects) collect(hostID wire.PeerID) (live, dead []uint64) {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	for id, resolve := range ro.objects {
		if resolve() == nil {
			delete(ro.objects, id)
			if id.HostID == hostID {
				dead = append(dead, id.LocalID)
			}
			continue
		}
		if id.HostID == hostID {
			live = append(live, id.LocalID)
		}
	}
	return live, dead
}

func (ro *RemoteObjects) run(ctx context.Context) error {
	ticker := time.NewTicker(ro.config.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			ro.keepAlive(ctx)
		}
	}
}

func (ro *RemoteObjects) keepAlive(ctx context.Context) {
	state := ro.peer.State()
	if !state.IsConnected() {
		return
	}

	live, dead := ro.collect(state.Handshake.PeerID)

	// Keep-alive is sent even if there are no objects, it is the heartbeat of the connection.
	msg, err := systemMessage(methodKeepAlive, 0, &wire.KeepAlive{ObjectIDs: live})
	if err != nil {
		logger.Get(ctx).Error("Encoding keep-alive failed", zap.Error(err))
		return
	}
	if err := state.send(ctx, msg); err != nil {
		return
	}

	if len(dead) > 0 {
		msg, err := systemMessage(methodRelease, 0, &wire.Release{ObjectIDs: dead})
		if err != nil {
			logger.Get(ctx).Error("Encoding release failed", zap.Error(err))
			return
		}
		_ = state.send(ctx, msg)
	}
}

// Reconnect resumes objects hosted by the peer the new connection leads to. Objects hosted by
// other hubs are gone, because the remote side has been restarted.
func (ro *RemoteObjects) Reconnect(ctx context.Context, hs *wire.Handshake) {
	ro.mu.Lock()
	var reconnect []RemoteObject
	disconnect := map[ObjectID]RemoteObject{}
	for id, resolve := range ro.objects {
		obj := resolve()
		switch {
		case obj == nil:
			delete(ro.objects, id)
		case id.HostID == hs.PeerID:
			reconnect = append(reconnect, obj)
		default:
			delete(ro.objects, id)
			disconnect[id] = obj
		}
	}
	ro.mu.Unlock()

	for id, obj := range disconnect {
		obj.Disconnect(errors.Wrapf(ErrObjectNotFound, "host %s of object %d is gone",
			peerIDString(id.HostID), id.LocalID))
	}
	for _, obj := range reconnect {
		obj.Reconnect(ctx)
	}
}

// DisconnectIDs disconnects objects reported by the host as unknown.
func (ro *RemoteObjects) DisconnectIDs(hostID wire.PeerID, ids []uint64) {
	ro.mu.Lock()
	disconnect := make([]RemoteObject, 0, len(ids))
	for _, localID := range ids {
		id := ObjectID{HostID: hostID, LocalID: localID}
		resolve, exists := ro.objects[id]
		if !exists {
			continue
		}
		delete(ro.objects, id)
		if obj := resolve(); obj != nil {
			disconnect = append(disconnect, obj)
		}
	}
	ro.mu.Unlock()

	for _, obj := range disconnect {
		obj.Disconnect(errors.Wrapf(ErrObjectNotFound, "object %d", obj.ObjectID().LocalID))
	}
}

// Abort disconnects all the objects. It repeats the disconnection to catch objects registered
// concurrently.
func (ro *RemoteObjects) Abort(err error) {
	err = peerClosedError(err)
	for i := range ro.config.ObjectAbortCycles {
		if i > 0 {
			time.Sleep(ro.config.ObjectAbortPeriod)
		}

		ro.mu.Lock()
		ro.aborted = true
		objects := ro.objects
		ro.objects = map[ObjectID]func() RemoteObject{}
		ro.mu.Unlock()

		for _, resolve := range objects {
			if obj := resolve(); obj != nil {
				obj.Disconnect(err)
			}
		}
	}
}
