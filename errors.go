package tether

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/wire"
)

var (
	// ErrDisconnected is returned when peer is not connected or connection has been lost.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrCancelled is returned when call has been cancelled.
	ErrCancelled = errors.New("call cancelled")

	// ErrTimeout is returned when call timed out.
	ErrTimeout = errors.New("call timeout")

	// ErrNotFound is returned when remote service or method does not exist.
	ErrNotFound = errors.New("service or method not found")

	// ErrIncompatibleArguments is returned when declared and received argument types differ.
	ErrIncompatibleArguments = errors.New("incompatible arguments")

	// ErrInvalidPosition is returned when stream is asked for an item it no longer holds.
	ErrInvalidPosition = errors.New("invalid stream position")

	// ErrObjectExists is returned when object ID is already registered.
	ErrObjectExists = errors.New("object already exists")

	// ErrObjectNotFound is returned when remote object is gone.
	ErrObjectNotFound = errors.New("object not found")

	// ErrKeepAliveTimeout is returned when peer stopped sending heartbeats.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrConnectedToSelf is returned when peer connects to its own hub.
	ErrConnectedToSelf = errors.New("connected to myself")

	// ErrPeerClosed is returned when peer has been closed.
	ErrPeerClosed = errors.New("peer closed")

	// ErrProtocol is returned when peer violates the protocol.
	ErrProtocol = errors.New("protocol violation")

	// ErrStreamClosed is returned when stream has been closed locally.
	ErrStreamClosed = errors.New("stream closed")
)

// Error kinds transferred over the wire.
const (
	kindCall                  = "call"
	kindNotFound              = "not_found"
	kindIncompatibleArguments = "incompatible_arguments"
	kindInvalidPosition       = "invalid_position"
	kindCancelled             = "cancelled"
	kindObjectNotFound        = "object_not_found"
	kindDisconnected          = "disconnected"
	kindTimeout               = "timeout"
)

var kinds = []struct {
	Kind string
	Err  error
}{
	{Kind: kindNotFound, Err: ErrNotFound},
	{Kind: kindIncompatibleArguments, Err: ErrIncompatibleArguments},
	{Kind: kindInvalidPosition, Err: ErrInvalidPosition},
	{Kind: kindCancelled, Err: ErrCancelled},
	{Kind: kindObjectNotFound, Err: ErrObjectNotFound},
	{Kind: kindDisconnected, Err: ErrDisconnected},
	{Kind: kindTimeout, Err: ErrTimeout},
}

// RemoteError is the error reported by the remote peer.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Message)
}

// Is matches remote error with the sentinel error of the same kind.
func (e *RemoteError) Is(target error) bool {
	for _, k := range kinds {
		if k.Kind == e.Kind {
			return target == k.Err
		}
	}
	return false
}

func toWireError(err error) wire.Error {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return wire.Error{
			Kind:    remoteErr.Kind,
			Message: remoteErr.Message,
		}
	}

	kind := kindCall
	for _, k := range kinds {
		if errors.Is(err, k.Err) {
			kind = k.Kind
			break
		}
	}
	return wire.Error{
		Kind:    kind,
		Message: err.Error(),
	}
}

func fromWireError(e wire.Error) error {
	if e.Kind == "" {
		return nil
	}
	return &RemoteError{
		Kind:    e.Kind,
		Message: e.Message,
	}
}

type disconnectedErr struct {
	cause error
}

func (e disconnectedErr) Error() string {
	return ErrDisconnected.Error() + ": " + e.cause.Error()
}

func (e disconnectedErr) Is(target error) bool {
	return target == ErrDisconnected
}

func (e disconnectedErr) Unwrap() error {
	return e.cause
}

func disconnectedError(cause error) error {
	if cause == nil {
		return errors.WithStack(ErrDisconnected)
	}
	if errors.Is(cause, ErrDisconnected) {
		return cause
	}
	return errors.WithStack(disconnectedErr{cause: cause})
}

type cancelledErr struct {
	cause error
}

func (e cancelledErr) Error() string {
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e cancelledErr) Is(target error) bool {
	return target == ErrCancelled
}

func (e cancelledErr) Unwrap() error {
	return e.cause
}

func cancelledError(cause error) error {
	return errors.WithStack(cancelledErr{cause: cause})
}

func peerClosedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrPeerClosed) {
		return errors.WithStack(ErrPeerClosed)
	}
	return errors.Wrap(ErrPeerClosed, cause.Error())
}
