package engine

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/types"
)

// EndpointState is one side's view of an endpoint. Connections, sessions
// and links each carry a local and a remote EndpointState that move
// independently: the local one on API calls, the remote one on decoded
// performatives.
type EndpointState uint8

const (
	EndpointIdle EndpointState = iota
	EndpointActive
	EndpointClosed
)

func (s EndpointState) String() string {
	switch s {
	case EndpointIdle:
		return "idle"
	case EndpointActive:
		return "active"
	case EndpointClosed:
		return "closed"
	}
	return fmt.Sprintf("EndpointState(%d)", uint8(s))
}

// endpoint is the lifecycle shared by Connection, Session, Sender and
// Receiver. T is the embedding type, handed to handlers.
//
// INVARIANTS:
//   - each close handler fires at most once per endpoint
//   - a closed side never reopens
type endpoint[T any] struct {
	self   T
	local  EndpointState
	remote EndpointState

	localErr  *types.Error
	remoteErr *types.Error

	openHandler       func(T)
	closeHandler      func(T)
	localCloseHandler func(T)

	remoteCloseFired bool
	localCloseFired  bool
}

// LocalState returns the local side of the lifecycle.
func (e *endpoint[T]) LocalState() EndpointState { return e.local }

// RemoteState returns the remote side of the lifecycle.
func (e *endpoint[T]) RemoteState() EndpointState { return e.remote }

// IsActive reports whether both sides are open.
func (e *endpoint[T]) IsActive() bool {
	return e.local == EndpointActive && e.remote == EndpointActive
}

// IsLocallyClosed reports whether the local side has closed.
func (e *endpoint[T]) IsLocallyClosed() bool { return e.local == EndpointClosed }

// IsRemotelyClosed reports whether the remote side has closed.
func (e *endpoint[T]) IsRemotelyClosed() bool { return e.remote == EndpointClosed }

// LocalError returns the error sent when closing locally, if any.
func (e *endpoint[T]) LocalError() *types.Error { return e.localErr }

// RemoteError returns the error the peer sent when closing, if any.
func (e *endpoint[T]) RemoteError() *types.Error { return e.remoteErr }

// OpenHandler sets the callback run when the peer opens this endpoint.
func (e *endpoint[T]) OpenHandler(fn func(T)) { e.openHandler = fn }

// CloseHandler sets the callback run once when the peer closes this
// endpoint, or when it is force-closed.
func (e *endpoint[T]) CloseHandler(fn func(T)) { e.closeHandler = fn }

// LocalCloseHandler sets the callback run once when this side closes the
// endpoint, either on request or by force.
func (e *endpoint[T]) LocalCloseHandler(fn func(T)) { e.localCloseHandler = fn }

func (e *endpoint[T]) closed() bool {
	return e.local == EndpointClosed && e.remote == EndpointClosed
}

func (e *endpoint[T]) remoteOpened() {
	e.remote = EndpointActive
	if e.openHandler != nil {
		e.openHandler(e.self)
	}
}

func (e *endpoint[T]) remoteClosed(err *types.Error) {
	if e.remote == EndpointClosed {
		return
	}
	e.remote = EndpointClosed
	e.remoteErr = err
	if !e.remoteCloseFired {
		e.remoteCloseFired = true
		if e.closeHandler != nil {
			e.closeHandler(e.self)
		}
	}
}

func (e *endpoint[T]) localClosed(err *types.Error) {
	if e.local == EndpointClosed {
		return
	}
	e.local = EndpointClosed
	e.localErr = err
	if !e.localCloseFired {
		e.localCloseFired = true
		if e.localCloseHandler != nil {
			e.localCloseHandler(e.self)
		}
	}
}

// forceClosed closes both sides without any wire traffic.
func (e *endpoint[T]) forceClosed() {
	e.localClosed(nil)
	e.remoteClosed(nil)
}
