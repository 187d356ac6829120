package engine

import (
	"github.com/roach88/amqpcore/internal/types"
)

// Sender is the sending end of a link.
type Sender struct {
	endpoint[*Sender]
	link

	tags  TagGenerator
	drain bool // the peer asked for a drain in its last flow

	flowHandler            func(*Sender)
	deliveryUpdatedHandler func(*Delivery)
}

func newSender(s *Session, name string) *Sender {
	snd := &Sender{
		link: newLink(s, name, types.RoleSender),
		tags: s.conn.engine.cfg.tagGen(),
	}
	snd.self = snd
	return snd
}

// SetTagGenerator replaces the generator used when Send gets no tag.
func (s *Sender) SetTagGenerator(g TagGenerator) { s.tags = g }

// FlowHandler sets the callback run after every flow from the peer, once
// credit has been recomputed. Deliveries sent from the handler count
// against a drain request.
func (s *Sender) FlowHandler(fn func(*Sender)) { s.flowHandler = fn }

// DeliveryUpdatedHandler sets the callback run when the peer updates or
// settles a delivery.
func (s *Sender) DeliveryUpdatedHandler(fn func(*Delivery)) { s.deliveryUpdatedHandler = fn }

// IsDraining reports whether the peer's last flow asked for a drain.
func (s *Sender) IsDraining() bool { return s.drain }

// Attach writes Attach.
func (s *Sender) Attach() error {
	return attachLink(&s.link, &s.endpoint)
}

// Close detaches and closes the link.
func (s *Sender) Close() error {
	return detachLink(&s.link, &s.endpoint, true, nil)
}

// CloseWithError detaches and closes the link carrying err.
func (s *Sender) CloseWithError(err *types.Error) error {
	return detachLink(&s.link, &s.endpoint, true, err)
}

// Detach detaches the link without closing it.
func (s *Sender) Detach() error {
	return detachLink(&s.link, &s.endpoint, false, nil)
}

// Send transfers payload as one delivery, split over as many frames as the
// peer's max frame size requires. A nil tag is generated. Unless the
// delivery is sent settled it stays tracked until settled.
func (s *Sender) Send(tag, payload []byte, settled bool) (*Delivery, error) {
	if err := s.engine().check(); err != nil {
		return nil, err
	}
	if !s.IsActive() || s.session.local != EndpointActive {
		return nil, illegalState("sender %q is not active", s.name)
	}
	if s.credit == 0 {
		return nil, illegalState("sender %q has no credit", s.name)
	}
	switch s.sndSettleMode {
	case types.SenderSettleModeSettled:
		settled = true
	case types.SenderSettleModeUnsettled:
		settled = false
	}
	if tag == nil {
		tag = s.tags.NextTag()
	}
	if _, dup := s.unsettled[string(tag)]; dup {
		return nil, illegalState("tag %x is already unsettled on %q", tag, s.name)
	}

	ses := s.session
	id := ses.nextDeliveryID
	format := uint32(0)
	first := &types.Transfer{
		Handle:        s.handle,
		DeliveryID:    &id,
		DeliveryTag:   tag,
		MessageFormat: &format,
		Settled:       settled,
	}
	chunks, err := s.split(first, payload)
	if err != nil {
		return nil, err
	}
	if uint32(len(chunks)) > ses.remoteIncomingWindow {
		return nil, illegalState("session window allows %d transfers, delivery needs %d", ses.remoteIncomingWindow, len(chunks))
	}

	for i, chunk := range chunks {
		t := first
		if i > 0 {
			t = &types.Transfer{Handle: s.handle, DeliveryID: &id}
		}
		t.More = i < len(chunks)-1
		if err := ses.send(t, chunk); err != nil {
			return nil, err
		}
		ses.nextOutgoingID++
		ses.remoteIncomingWindow--
	}
	ses.nextDeliveryID++
	s.deliveryCount++
	s.credit--

	d := &Delivery{
		link:     s,
		outgoing: true,
		id:       id,
		tag:      tag,
		format:   format,
		complete: true,
		settled:  settled,
	}
	if !settled {
		s.track(d)
	}
	return d, nil
}

// split cuts payload into the pieces each transfer frame can carry.
func (s *Sender) split(first *types.Transfer, payload []byte) ([][]byte, error) {
	w := s.engine().pipe.writer
	limit := int64(w.MaxFrameSize())
	if limit == 0 {
		return [][]byte{payload}, nil
	}
	// Size the largest performative: the first transfer with more set.
	widest := *first
	widest.More = true
	overhead, err := w.Overhead(&widest)
	if err != nil {
		return nil, newError(ErrCodeIllegalState, err, "encode transfer")
	}
	room := limit - int64(overhead)
	if room <= 0 {
		return nil, illegalState("max frame size %d leaves no room for payload", limit)
	}
	if int64(len(payload)) <= room {
		return [][]byte{payload}, nil
	}
	var chunks [][]byte
	for len(payload) > 0 {
		n := min(int64(len(payload)), room)
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks, nil
}

func (s *Sender) onAttach(a *types.Attach) {
	s.peer = a
	s.remoteOpened()
}

// onFlow recomputes credit from the peer's view and answers a drain by
// spending whatever credit the flow handler left unused.
func (s *Sender) onFlow(f *types.Flow) error {
	count := s.deliveryCount
	if f.DeliveryCount != nil {
		count = *f.DeliveryCount
	}
	var credit uint32
	if f.LinkCredit != nil {
		credit = *f.LinkCredit
	}
	s.credit = linkCredit(count, credit, s.deliveryCount)
	s.drain = f.Drain

	if s.flowHandler != nil {
		s.flowHandler(s)
	}
	if !s.engine().IsWritable() || s.local != EndpointActive {
		return nil
	}
	if s.drain {
		s.deliveryCount += s.credit
		s.credit = 0
		return s.session.sendFlow(&s.link, true)
	}
	if f.Echo {
		return s.session.sendFlow(&s.link, false)
	}
	return nil
}

func (s *Sender) onDetach(d *types.Detach) error {
	return remoteDetach(&s.link, &s.endpoint, d)
}

func (s *Sender) onDeliveryUpdate(d *Delivery) {
	if s.deliveryUpdatedHandler != nil {
		s.deliveryUpdatedHandler(d)
	}
}

func (s *Sender) force() {
	s.forceClosed()
	clear(s.unsettled)
}
