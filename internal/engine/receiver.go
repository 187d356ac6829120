package engine

import (
	"math"
	"time"

	"github.com/roach88/amqpcore/internal/types"
)

// Receiver is the receiving end of a link. Credit is granted either by
// hand through AddCredit or automatically through a credit window; the two
// modes exclude each other.
type Receiver struct {
	endpoint[*Receiver]
	link

	creditWindow uint32
	drainTimeout time.Duration
	draining     bool

	// last view the sender advertised
	remoteCount  uint32
	remoteCredit uint32
	remoteFlow   bool

	partial *Delivery

	deliveryHandler        func(*Delivery)
	deliveryUpdatedHandler func(*Delivery)
	drainHandler           func(*Receiver, error)
}

func newReceiver(s *Session, name string) *Receiver {
	r := &Receiver{link: newLink(s, name, types.RoleReceiver)}
	r.self = r
	return r
}

// DeliveryHandler sets the callback run once per delivery, when its last
// frame has arrived. The payload belongs to the delivery and may be kept.
func (r *Receiver) DeliveryHandler(fn func(*Delivery)) { r.deliveryHandler = fn }

// DeliveryUpdatedHandler sets the callback run when the peer updates or
// settles a delivery.
func (r *Receiver) DeliveryUpdatedHandler(fn func(*Delivery)) { r.deliveryUpdatedHandler = fn }

// DrainHandler sets the callback run when a drain ends: with nil once the
// peer reports no credit left, or with a DRAIN_TIMEOUT error from
// ExpireDrain.
func (r *Receiver) DrainHandler(fn func(*Receiver, error)) { r.drainHandler = fn }

// SetCreditWindow enables automatic credit. It fails once attached.
func (r *Receiver) SetCreditWindow(n uint32) error {
	if r.local != EndpointIdle {
		return illegalState("receiver %q already attached", r.name)
	}
	r.creditWindow = n
	return nil
}

// CreditWindow returns the automatic credit window, zero when disabled.
func (r *Receiver) CreditWindow() uint32 { return r.creditWindow }

// SetDrainTimeout records how long a drain may stay unanswered.
func (r *Receiver) SetDrainTimeout(d time.Duration) { r.drainTimeout = d }

// DrainTimeout returns the drain timeout. The engine never runs timers: the
// caller arms one when Drain returns and calls ExpireDrain if it fires.
func (r *Receiver) DrainTimeout() time.Duration { return r.drainTimeout }

// IsDraining reports whether a drain is pending.
func (r *Receiver) IsDraining() bool { return r.draining }

// Attach writes Attach, followed by a flow when credit is already granted.
func (r *Receiver) Attach() error {
	if err := attachLink(&r.link, &r.endpoint); err != nil {
		return err
	}
	if r.creditWindow > 0 {
		r.credit = r.creditWindow
	}
	if r.credit > 0 {
		return r.session.sendFlow(&r.link, false)
	}
	return nil
}

// Close detaches and closes the link.
func (r *Receiver) Close() error {
	return detachLink(&r.link, &r.endpoint, true, nil)
}

// CloseWithError detaches and closes the link carrying err.
func (r *Receiver) CloseWithError(err *types.Error) error {
	return detachLink(&r.link, &r.endpoint, true, err)
}

// Detach detaches the link without closing it.
func (r *Receiver) Detach() error {
	return detachLink(&r.link, &r.endpoint, false, nil)
}

// AddCredit grants n more credits and advertises the total. Credit added
// before Attach goes out with it.
func (r *Receiver) AddCredit(n uint32) error {
	if err := r.engine().check(); err != nil {
		return err
	}
	if r.creditWindow > 0 {
		return illegalState("receiver %q uses a credit window of %d", r.name, r.creditWindow)
	}
	if r.draining {
		return illegalState("receiver %q has a drain pending", r.name)
	}
	if r.local == EndpointClosed {
		return illegalState("receiver %q is detached", r.name)
	}
	// Credit saturates rather than wrapping to a small grant.
	r.credit += min(n, math.MaxUint32-r.credit)
	if r.local == EndpointActive {
		return r.session.sendFlow(&r.link, false)
	}
	return nil
}

// Drain asks the sender to use or give back all outstanding credit. The
// drain handler reports the result.
func (r *Receiver) Drain() error {
	if err := r.engine().check(); err != nil {
		return err
	}
	if r.draining {
		return illegalState("receiver %q is already draining", r.name)
	}
	if r.local != EndpointActive {
		return illegalState("receiver %q is locally %s", r.name, r.local)
	}
	if err := r.session.sendFlow(&r.link, true); err != nil {
		return err
	}
	r.draining = true
	return nil
}

// ExpireDrain fails a pending drain with DRAIN_TIMEOUT, leaving credit as
// the sender last advertised it. It reports whether a drain was pending.
func (r *Receiver) ExpireDrain() bool {
	if !r.draining {
		return false
	}
	r.draining = false
	if r.remoteFlow {
		r.credit = r.remoteCredit
	}
	r.engine().log.Warn("drain timed out", "link", r.name, "timeout", r.drainTimeout, "credit", r.credit)
	r.drainDone(newError(ErrCodeDrainTimeout, nil, "receiver %q: drain not answered within %s", r.name, r.drainTimeout))
	return true
}

func (r *Receiver) drainDone(err error) {
	if r.drainHandler != nil {
		r.drainHandler(r, err)
	}
}

func (r *Receiver) onAttach(a *types.Attach) {
	r.peer = a
	r.deliveryCount = a.InitialDeliveryCount
	r.remoteOpened()
}

// onFlow records the sender's view. A drain completes when the sender
// reports no credit left, whether or not it advanced delivery-count.
func (r *Receiver) onFlow(f *types.Flow) error {
	if f.DeliveryCount != nil {
		r.remoteCount = *f.DeliveryCount
	}
	if f.LinkCredit != nil {
		r.remoteCredit = *f.LinkCredit
	}
	r.remoteFlow = true

	if r.draining && f.Drain && f.LinkCredit != nil && *f.LinkCredit == 0 {
		r.draining = false
		r.deliveryCount = r.remoteCount
		r.credit = 0
		r.drainDone(nil)
		r.replenish()
		return nil
	}
	if f.Echo && r.local == EndpointActive && r.engine().IsWritable() {
		return r.session.sendFlow(&r.link, r.draining)
	}
	return nil
}

func (r *Receiver) onTransfer(t *types.Transfer, payload []byte) error {
	if r.local == EndpointClosed {
		return nil
	}
	d := r.partial
	if d == nil {
		if t.DeliveryID == nil {
			return violation("first transfer of a delivery on %q has no delivery-id", r.name)
		}
		d = &Delivery{link: r, id: *t.DeliveryID, tag: t.DeliveryTag}
		if t.MessageFormat != nil {
			d.format = *t.MessageFormat
		}
		r.deliveryCount++
		if r.credit > 0 {
			r.credit--
		}
		r.partial = d
		if !t.Settled {
			r.track(d)
		}
	} else if t.DeliveryID != nil && *t.DeliveryID != d.id {
		return violation("transfer for delivery %d interleaved with %d on %q", *t.DeliveryID, d.id, r.name)
	}

	d.payload = append(d.payload, payload...)
	if t.State != nil {
		d.remoteState = t.State
	}
	if t.Settled && !d.remoteSettled {
		d.remoteSettled = true
		r.forget(d)
	}
	if t.Aborted {
		d.aborted = true
		r.partial = nil
		r.forget(d)
		r.engine().log.Debug("delivery aborted", "link", r.name, "delivery_id", d.id)
		return nil
	}
	if t.More {
		return nil
	}

	r.partial = nil
	d.complete = true
	if r.deliveryHandler != nil {
		r.deliveryHandler(d)
	}
	r.replenish()
	return nil
}

// replenish tops credit back up to the window once it falls under half.
func (r *Receiver) replenish() {
	if r.creditWindow == 0 || r.draining || r.local != EndpointActive || !r.engine().IsWritable() {
		return
	}
	if !belowHalf(r.credit, r.creditWindow) {
		return
	}
	r.credit = r.creditWindow
	if err := r.session.sendFlow(&r.link, false); err != nil {
		r.engine().log.Error("credit replenish failed", "link", r.name, "error", err)
	}
}

func (r *Receiver) onDetach(d *types.Detach) error {
	return remoteDetach(&r.link, &r.endpoint, d)
}

func (r *Receiver) onDeliveryUpdate(d *Delivery) {
	if r.deliveryUpdatedHandler != nil {
		r.deliveryUpdatedHandler(d)
	}
}

func (r *Receiver) force() {
	r.forceClosed()
	r.partial = nil
	clear(r.unsettled)
	if r.draining {
		r.draining = false
		r.drainDone(illegalState("receiver %q closed while draining", r.name))
	}
}
