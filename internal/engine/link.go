package engine

import (
	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

// link is the state Sender and Receiver share.
//
// INVARIANTS:
//   - credit never goes below zero
//   - delivery-count only moves forward (modulo 2^32)
//   - tags are unique among the link's unsettled deliveries
type link struct {
	session *Session
	name    string
	role    types.Role
	peer    *types.Attach

	handle         uint32
	attached       bool
	remoteHandle   uint32
	remoteAttached bool

	source         *types.Source
	target         *types.Target
	sndSettleMode  types.SenderSettleMode
	rcvSettleMode  types.ReceiverSettleMode
	maxMessageSize uint64
	properties     map[codec.Symbol]any
	offered        []codec.Symbol
	desired        []codec.Symbol

	deliveryCount uint32
	credit        uint32

	unsettled map[string]*Delivery // by tag
}

// linkEndpoint is what a Session needs from a Sender or Receiver.
type linkEndpoint interface {
	base() *link
	onAttach(a *types.Attach)
	onFlow(f *types.Flow) error
	onDetach(d *types.Detach) error
	onDeliveryUpdate(d *Delivery)
	force()
}

func newLink(s *Session, name string, role types.Role) link {
	return link{
		session:       s,
		name:          name,
		role:          role,
		sndSettleMode: types.SenderSettleModeMixed,
		rcvSettleMode: types.ReceiverSettleModeFirst,
		unsettled:     make(map[string]*Delivery),
	}
}

func (l *link) base() *link { return l }

// Name returns the link name.
func (l *link) Name() string { return l.name }

// Role returns the local role.
func (l *link) Role() types.Role { return l.role }

// Session returns the owning session.
func (l *link) Session() *Session { return l.session }

// Handle returns the local handle; ok is false before Attach.
func (l *link) Handle() (h uint32, ok bool) { return l.handle, l.attached }

// Source returns the local source terminus.
func (l *link) Source() *types.Source { return l.source }

// Target returns the local target terminus.
func (l *link) Target() *types.Target { return l.target }

// SetSource sets the source terminus sent in Attach.
func (l *link) SetSource(src *types.Source) { l.source = src }

// SetTarget sets the target terminus sent in Attach.
func (l *link) SetTarget(t *types.Target) { l.target = t }

// SetSenderSettleMode sets the sender settle mode sent in Attach.
func (l *link) SetSenderSettleMode(m types.SenderSettleMode) { l.sndSettleMode = m }

// SetReceiverSettleMode sets the receiver settle mode sent in Attach.
func (l *link) SetReceiverSettleMode(m types.ReceiverSettleMode) { l.rcvSettleMode = m }

// SetMaxMessageSize sets the max message size sent in Attach. Zero means
// no limit.
func (l *link) SetMaxMessageSize(n uint64) { l.maxMessageSize = n }

// SetProperties sets the link properties sent in Attach.
func (l *link) SetProperties(p map[codec.Symbol]any) { l.properties = p }

// SetOfferedCapabilities sets the capabilities offered in Attach.
func (l *link) SetOfferedCapabilities(caps ...codec.Symbol) { l.offered = caps }

// SetDesiredCapabilities sets the capabilities desired in Attach.
func (l *link) SetDesiredCapabilities(caps ...codec.Symbol) { l.desired = caps }

// RemoteAttach returns the Attach the peer sent, or nil.
func (l *link) RemoteAttach() *types.Attach { return l.peer }

// RemoteSource returns the peer's source terminus.
func (l *link) RemoteSource() *types.Source {
	if l.peer == nil {
		return nil
	}
	return l.peer.Source
}

// RemoteTarget returns the peer's target terminus.
func (l *link) RemoteTarget() *types.Target {
	if l.peer == nil {
		return nil
	}
	return l.peer.Target
}

// RemoteOfferedCapabilities returns the capabilities the peer offered.
func (l *link) RemoteOfferedCapabilities() []codec.Symbol {
	if l.peer == nil {
		return nil
	}
	return l.peer.OfferedCapabilities
}

// RemoteProperties returns the peer's link properties.
func (l *link) RemoteProperties() map[codec.Symbol]any {
	if l.peer == nil {
		return nil
	}
	return l.peer.Properties
}

// Credit returns the link credit as this side sees it.
func (l *link) Credit() uint32 { return l.credit }

// DeliveryCount returns the delivery-count as this side sees it.
func (l *link) DeliveryCount() uint32 { return l.deliveryCount }

// Unsettled returns the number of deliveries this side has not settled.
func (l *link) Unsettled() int { return len(l.unsettled) }

func (l *link) engine() *Engine { return l.session.conn.engine }

func (l *link) track(d *Delivery) {
	l.unsettled[string(d.tag)] = d
	if d.outgoing {
		l.session.outgoing[d.id] = d
	} else {
		l.session.incoming[d.id] = d
	}
}

func (l *link) forget(d *Delivery) {
	if l.unsettled[string(d.tag)] == d {
		delete(l.unsettled, string(d.tag))
	}
	l.session.forget(d)
}

// attachLink writes Attach for l and moves ep to locally active.
func attachLink[T any](l *link, ep *endpoint[T]) error {
	if err := l.engine().check(); err != nil {
		return err
	}
	if ep.local != EndpointIdle {
		return illegalState("link %q already %s", l.name, ep.local)
	}
	if l.session.local != EndpointActive {
		return illegalState("session is locally %s", l.session.local)
	}
	h, ok := l.session.allocateHandle()
	if !ok {
		return illegalState("no free handle")
	}
	a := &types.Attach{
		LinkName:            l.name,
		Handle:              h,
		Role:                l.role,
		SenderSettleMode:    l.sndSettleMode,
		ReceiverSettleMode:  l.rcvSettleMode,
		Source:              l.source,
		Target:              l.target,
		MaxMessageSize:      l.maxMessageSize,
		OfferedCapabilities: l.offered,
		DesiredCapabilities: l.desired,
		Properties:          l.properties,
	}
	if l.role == types.RoleSender {
		a.InitialDeliveryCount = l.deliveryCount
	}
	if err := l.session.send(a, nil); err != nil {
		return err
	}
	l.handle, l.attached = h, true
	l.session.links[h] = any(ep.self).(linkEndpoint)
	ep.local = EndpointActive
	return nil
}

// detachLink writes Detach for l and closes ep locally. A link never put
// on the wire closes silently.
func detachLink[T any](l *link, ep *endpoint[T], closed bool, err *types.Error) error {
	if e := l.engine().check(); e != nil {
		return e
	}
	if ep.local == EndpointClosed {
		return illegalState("link %q already detached", l.name)
	}
	if ep.local == EndpointIdle {
		if ep.remote == EndpointIdle {
			ep.localClosed(err)
			return nil
		}
		// Detach is only legal after Attach.
		if e := attachLink(l, ep); e != nil {
			return e
		}
	}
	if e := l.session.send(&types.Detach{Handle: l.handle, Closed: closed, Error: err}, nil); e != nil {
		return e
	}
	ep.localClosed(err)
	if ep.closed() {
		l.session.removeLink(l)
	}
	return nil
}

// remoteDetach handles the peer's Detach, answering it if this side is
// still attached.
func remoteDetach[T any](l *link, ep *endpoint[T], d *types.Detach) error {
	if ep.remote == EndpointClosed {
		return violation("detach received twice for link %q", l.name)
	}
	ep.remoteClosed(d.Error)
	if ep.local != EndpointClosed && l.engine().IsWritable() {
		return detachLink(l, ep, d.Closed, nil)
	}
	if ep.closed() {
		l.session.removeLink(l)
	}
	return nil
}
