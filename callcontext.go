package tether

import (
	"context"

	"github.com/outofforest/tether/wire"
)

type callContextKey struct{}

// CallContext describes inbound call being executed.
type CallContext struct {
	// Peer is the peer call came from, nil for calls served locally.
	Peer    *Peer
	ID      uint64
	Service string
	Method  string
	Headers []wire.Header
}

// Header returns value of the header.
func (c *CallContext) Header(name string) (string, bool) {
	return findHeader(c.Headers, name)
}

func findHeader(headers []wire.Header, name string) (string, bool) {
	for _, h := range headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// CurrentCall returns call executed in the context.
func CurrentCall(ctx context.Context) (*CallContext, bool) {
	call, ok := ctx.Value(callContextKey{}).(*CallContext)
	return call, ok
}

func withCall(ctx context.Context, call *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}
