package engine

import (
	"github.com/roach88/amqpcore/internal/types"
)

// Delivery is one message transfer on a link, sent or received.
//
// INVARIANTS:
//   - once settled locally, the local state never changes again
//   - the id is assigned once by the session and never reused while the
//     delivery is unsettled
type Delivery struct {
	link     linkEndpoint
	outgoing bool

	id     uint32
	tag    []byte
	format uint32

	payload  []byte
	complete bool
	aborted  bool

	settled       bool
	remoteSettled bool
	state         types.DeliveryState
	remoteState   types.DeliveryState
}

// ID returns the session-scoped delivery id.
func (d *Delivery) ID() uint32 { return d.id }

// Tag returns the delivery tag.
func (d *Delivery) Tag() []byte { return d.tag }

// MessageFormat returns the message format of the transfer.
func (d *Delivery) MessageFormat() uint32 { return d.format }

// Payload returns the bytes received so far. It is nil for sent
// deliveries; the engine does not keep what it sends.
func (d *Delivery) Payload() []byte { return d.payload }

// IsComplete reports whether every frame of the delivery has arrived.
func (d *Delivery) IsComplete() bool { return d.complete }

// IsAborted reports whether the sender aborted the delivery.
func (d *Delivery) IsAborted() bool { return d.aborted }

// IsSettled reports whether this side has settled the delivery.
func (d *Delivery) IsSettled() bool { return d.settled }

// IsRemotelySettled reports whether the peer has settled the delivery.
func (d *Delivery) IsRemotelySettled() bool { return d.remoteSettled }

// State returns the local delivery state.
func (d *Delivery) State() types.DeliveryState { return d.state }

// RemoteState returns the last delivery state the peer reported.
func (d *Delivery) RemoteState() types.DeliveryState { return d.remoteState }

// Sender returns the link that sent the delivery, or nil.
func (d *Delivery) Sender() *Sender {
	s, _ := d.link.(*Sender)
	return s
}

// Receiver returns the link that received the delivery, or nil.
func (d *Delivery) Receiver() *Receiver {
	r, _ := d.link.(*Receiver)
	return r
}

// Disposition sets the local state and optionally settles the delivery,
// telling the peer unless it has already forgotten the delivery.
func (d *Delivery) Disposition(state types.DeliveryState, settle bool) error {
	l := d.link.base()
	if err := l.engine().check(); err != nil {
		return err
	}
	if d.settled {
		return illegalState("delivery %d already settled", d.id)
	}
	if !d.remoteSettled {
		if l.session.local != EndpointActive {
			return illegalState("session is locally %s", l.session.local)
		}
		disp := &types.Disposition{Role: l.role, First: d.id, Settled: settle, State: state}
		if err := l.session.send(disp, nil); err != nil {
			return err
		}
	}
	d.state = state
	if settle {
		d.settled = true
		l.forget(d)
	}
	return nil
}

// Settle settles the delivery keeping its current state.
func (d *Delivery) Settle() error {
	return d.Disposition(d.state, true)
}

// Accept settles the delivery as accepted.
func (d *Delivery) Accept() error {
	return d.Disposition(&types.Accepted{}, true)
}

// Reject settles the delivery as rejected with err.
func (d *Delivery) Reject(err *types.Error) error {
	return d.Disposition(&types.Rejected{Error: err}, true)
}

// Release settles the delivery as released.
func (d *Delivery) Release() error {
	return d.Disposition(&types.Released{}, true)
}

// onDisposition applies a peer disposition. Deliveries the peer settles
// leave the unsettled tables.
func (d *Delivery) onDisposition(state types.DeliveryState, settled bool) {
	if state != nil {
		d.remoteState = state
	}
	if settled {
		d.remoteSettled = true
		d.link.base().forget(d)
	}
	d.link.onDeliveryUpdate(d)
}
