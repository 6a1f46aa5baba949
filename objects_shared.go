package tether

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
)

// SharedObject is the object exposed to the remote peer.
type SharedObject interface {
	Dispose()
}

type sharedEntry struct {
	obj           SharedObject
	lastKeepAlive time.Time
}

// SharedObjects tracks objects exposed to the remote peer. Objects are disposed when the peer
// stops sending keep-alives for them.
type SharedObjects struct {
	peer   *Peer
	config Config
	now    func() time.Time

	mu            sync.Mutex
	lastID        uint64
	objects       map[uint64]*sharedEntry
	lastHeartbeat time.Time
	aborted       bool
}

func newSharedObjects(p *Peer) *SharedObjects {
	return &SharedObjects{
		peer:          p,
		config:        p.config,
		now:           time.Now,
		objects:       map[uint64]*sharedEntry{},
		lastHeartbeat: time.Now(),
	}
}

// Register registers object under fresh ID.
func (so *SharedObjects) Register(obj SharedObject) (uint64, error) {
	so.mu.Lock()
	defer so.mu.Unlock()

	if so.aborted {
		return 0, errors.WithStack(ErrPeerClosed)
	}

	so.lastID++
	so.objects[so.lastID] = &sharedEntry{
		obj:           obj,
		lastKeepAlive: so.now(),
	}
	return so.lastID, nil
}

// RegisterAs registers object under ID.
func (so *SharedObjects) RegisterAs(id uint64, obj SharedObject) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	if so.aborted {
		return errors.WithStack(ErrPeerClosed)
	}
	if _, exists := so.objects[id]; exists {
		return errors.Wrapf(ErrObjectExists, "object %d", id)
	}

	so.lastID = max(so.lastID, id)
	so.objects[id] = &sharedEntry{
		obj:           obj,
		lastKeepAlive: so.now(),
	}
	return nil
}

// Get returns object.
func (so *SharedObjects) Get(id uint64) (SharedObject, bool) {
	so.mu.Lock()
	defer so.mu.Unlock()

	e, exists := so.objects[id]
	if !exists {
		return nil, false
	}
	return e.obj, true
}

// Unregister removes object if it is still registered under id. Object is not disposed.
func (so *SharedObjects) Unregister(id uint64, obj SharedObject) bool {
	so.mu.Lock()
	defer so.mu.Unlock()

	if e, exists := so.objects[id]; exists && e.obj == obj {
		delete(so.objects, id)
		return true
	}
	return false
}

// Len returns the number of registered objects.
func (so *SharedObjects) Len() int {
	so.mu.Lock()
	defer so.mu.Unlock()

	return len(so.objects)
}

// KeepAlive refreshes objects and returns IDs of the unknown ones.
func (so *SharedObjects) KeepAlive(ids []uint64) []uint64 {
	so.mu.Lock()
	defer so.mu.Unlock()

	now := so.now()
	so.lastHeartbeat = now

	var unknown []uint64
	for _, id := range ids {
		e, exists := so.objects[id]
		if !exists {
			unknown = append(unknown, id)
			continue
		}
		e.lastKeepAlive = now
	}
	return unknown
}

// Release disposes objects.
func (so *SharedObjects) Release(ids []uint64) {
	so.mu.Lock()
	released := make([]SharedObject, 0, len(ids))
	for _, id := range ids {
		if e, exists := so.objects[id]; exists {
			released = append(released, e.obj)
			delete(so.objects, id)
		}
	}
	so.mu.Unlock()

	for _, obj := range released {
		obj.Dispose()
	}
}

// OnConnected restarts heartbeat tracking for the new connection.
func (so *SharedObjects) OnConnected() {
	so.mu.Lock()
	defer so.mu.Unlock()

	so.lastHeartbeat = so.now()
}

func (so *SharedObjects) run(ctx context.Context) error {
	ticker := time.NewTicker(so.config.ObjectReleasePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			so.maintain(ctx)
		}
	}
}

func (so *SharedObjects) maintain(ctx context.Context) {
	so.mu.Lock()
	now := so.now()
	heartbeatLost := now.Sub(so.lastHeartbeat) > so.config.KeepAliveTimeout
	expired := map[uint64]SharedObject{}
	for id, e := range so.objects {
		if now.Sub(e.lastKeepAlive) > so.config.ObjectReleaseTimeout {
			expired[id] = e.obj
			delete(so.objects, id)
		}
	}
	so.mu.Unlock()

	if len(expired) > 0 {
		logger.Get(ctx).Debug("Disposing expired objects", zap.Uint64s("objectIDs", lo.Keys(expired)))
	}
	for _, obj := range expired {
		obj.Dispose()
	}

	if heartbeatLost && so.peer.State().IsConnected() {
		logger.Get(ctx).Warn("Peer stopped sending keep-alives, disconnecting")
		so.peer.Disconnect(errors.WithStack(ErrKeepAliveTimeout))
	}
}

// Abort disposes all the objects. It repeats the disposal to catch objects registered
// concurrently.
func (so *SharedObjects) Abort() {
	for i := range so.config.ObjectAbortCycles {
		if i > 0 {
			time.Sleep(so.config.ObjectAbortPeriod)
		}

		so.mu.Lock()
		so.aborted = true
		objects := so.objects
		so.objects = map[uint64]*sharedEntry{}
		so.mu.Unlock()

		for _, e := range objects {
			e.obj.Dispose()
		}
	}
}
