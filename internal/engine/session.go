package engine

import (
	"cmp"
	"maps"
	"slices"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/types"
)

// Session is a channel-bound conversation inside a Connection. It owns its
// links and numbers the deliveries sent and received on them.
//
// INVARIANTS:
//   - handles are unique within the session on each side
//   - a session cannot begin before its connection is locally open
//   - delivery ids are assigned once, in order, and never reused while the
//     delivery is unsettled
type Session struct {
	endpoint[*Session]

	conn *Connection
	peer *types.Begin

	channel          uint16
	hasChannel       bool
	remoteChannel    uint16
	hasRemoteChannel bool

	incomingWindow    uint32
	outgoingWindow    uint32
	incomingRemaining uint32 // transfers the peer may still send
	nextIncomingID    uint32
	nextOutgoingID    uint32 // transfer id of the next outgoing frame
	nextDeliveryID    uint32

	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32

	links       map[uint32]linkEndpoint // by local handle
	remoteLinks map[uint32]linkEndpoint // by remote handle
	outgoing    map[uint32]*Delivery    // unsettled deliveries sent, by id
	incoming    map[uint32]*Delivery    // unsettled deliveries received, by id

	senderOpenHandler   func(*Sender)
	receiverOpenHandler func(*Receiver)
}

func newSession(c *Connection) *Session {
	window := c.engine.cfg.sessionWindow
	s := &Session{
		conn:           c,
		incomingWindow: window,
		outgoingWindow: window,
		links:          make(map[uint32]linkEndpoint),
		remoteLinks:    make(map[uint32]linkEndpoint),
		outgoing:       make(map[uint32]*Delivery),
		incoming:       make(map[uint32]*Delivery),
	}
	s.self = s
	return s
}

// Connection returns the owning connection.
func (s *Session) Connection() *Connection { return s.conn }

// Channel returns the local channel; ok is false before Begin.
func (s *Session) Channel() (ch uint16, ok bool) { return s.channel, s.hasChannel }

// RemoteChannel returns the peer's channel; ok is false before its Begin.
func (s *Session) RemoteChannel() (ch uint16, ok bool) { return s.remoteChannel, s.hasRemoteChannel }

// RemoteBegin returns the Begin the peer sent, or nil.
func (s *Session) RemoteBegin() *types.Begin { return s.peer }

// RemoteOfferedCapabilities returns the capabilities the peer offered.
func (s *Session) RemoteOfferedCapabilities() []codec.Symbol {
	if s.peer == nil {
		return nil
	}
	return s.peer.OfferedCapabilities
}

// RemoteProperties returns the peer's session properties.
func (s *Session) RemoteProperties() map[codec.Symbol]any {
	if s.peer == nil {
		return nil
	}
	return s.peer.Properties
}

// IncomingWindow returns the transfer window this side advertises.
func (s *Session) IncomingWindow() uint32 { return s.incomingWindow }

// RemoteIncomingWindow returns how many more transfer frames the peer
// currently accepts.
func (s *Session) RemoteIncomingWindow() uint32 { return s.remoteIncomingWindow }

// SenderOpenHandler sets the callback run when the peer attaches a receiving
// link this side did not ask for; the local end is a Sender.
func (s *Session) SenderOpenHandler(fn func(*Sender)) { s.senderOpenHandler = fn }

// ReceiverOpenHandler sets the callback run when the peer attaches a sending
// link this side did not ask for; the local end is a Receiver.
func (s *Session) ReceiverOpenHandler(fn func(*Receiver)) { s.receiverOpenHandler = fn }

// Sender creates a sending link. Nothing is written until Attach.
func (s *Session) Sender(name string) *Sender {
	return newSender(s, name)
}

// Receiver creates a receiving link. Nothing is written until Attach.
func (s *Session) Receiver(name string) *Receiver {
	return newReceiver(s, name)
}

// Begin sends Begin on a newly allocated channel.
func (s *Session) Begin() error {
	if err := s.conn.engine.check(); err != nil {
		return err
	}
	if s.local != EndpointIdle {
		return illegalState("session already %s", s.local)
	}
	if s.conn.local != EndpointActive {
		return illegalState("connection is locally %s", s.conn.local)
	}
	return s.begin()
}

func (s *Session) begin() error {
	ch, ok := s.conn.allocateChannel()
	if !ok {
		return illegalState("no free channel")
	}
	begin := &types.Begin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      types.DefaultHandleMax,
	}
	if s.hasRemoteChannel {
		rc := s.remoteChannel
		begin.RemoteChannel = &rc
	}
	if err := s.conn.send(ch, begin, nil); err != nil {
		return err
	}
	s.channel, s.hasChannel = ch, true
	s.conn.sessions[ch] = s
	s.incomingRemaining = s.incomingWindow
	s.local = EndpointActive
	return nil
}

// End sends End without an error.
func (s *Session) End() error {
	return s.EndWithError(nil)
}

// EndWithError sends End carrying err and force-closes the session's links.
func (s *Session) EndWithError(err *types.Error) error {
	if e := s.conn.engine.check(); e != nil {
		return e
	}
	if s.local == EndpointClosed {
		return illegalState("session already ended")
	}
	if s.local == EndpointIdle {
		if s.remote == EndpointIdle {
			s.localClosed(err)
			return nil
		}
		// End is only legal after Begin.
		if e := s.begin(); e != nil {
			return e
		}
	}
	if e := s.conn.send(s.channel, &types.End{Error: err}, nil); e != nil {
		return e
	}
	s.forceLinks()
	s.localClosed(err)
	if s.closed() {
		s.conn.removeSession(s)
	}
	return nil
}

func (s *Session) onBegin(b *types.Begin) {
	s.peer = b
	s.nextIncomingID = b.NextOutgoingID
	s.remoteIncomingWindow = b.IncomingWindow
	s.remoteOutgoingWindow = b.OutgoingWindow
	s.remoteOpened()
}

func (s *Session) dispatch(f *frame.Frame) error {
	if s.remote == EndpointClosed {
		return violation("%s received on ended channel %d", f.Body.Name(), f.Channel)
	}
	if s.local == EndpointClosed {
		// in flight before the peer saw our end
		if end, ok := f.Body.(*types.End); ok {
			return s.onEnd(end)
		}
		s.conn.engine.log.Debug("frame ignored after local end", "channel", f.Channel, "performative", f.Body.Name())
		return nil
	}
	switch body := f.Body.(type) {
	case *types.Attach:
		return s.onAttach(body)
	case *types.Flow:
		return s.onFlow(body)
	case *types.Transfer:
		return s.onTransfer(body, f.Payload)
	case *types.Disposition:
		return s.onDisposition(body)
	case *types.Detach:
		return s.onDetach(body)
	case *types.End:
		return s.onEnd(body)
	}
	return violation("unexpected %s on channel %d", f.Body.Name(), f.Channel)
}

func (s *Session) onEnd(end *types.End) error {
	s.remoteClosed(end.Error)
	if s.local != EndpointClosed && s.conn.engine.IsWritable() {
		return s.EndWithError(nil)
	}
	s.forceLinks()
	if s.closed() {
		s.conn.removeSession(s)
	}
	return nil
}

func (s *Session) onAttach(a *types.Attach) error {
	if _, used := s.remoteLinks[a.Handle]; used {
		return violation("attach on handle %d already in use", a.Handle)
	}

	var le linkEndpoint
	for _, h := range slices.Sorted(maps.Keys(s.links)) {
		l := s.links[h].base()
		if l.name == a.LinkName && l.role != a.Role && !l.remoteAttached {
			le = s.links[h]
			break
		}
	}
	created := le == nil
	if created {
		if a.Role == types.RoleSender {
			r := newReceiver(s, a.LinkName)
			r.source, r.target = a.Source, a.Target
			le = r
		} else {
			snd := newSender(s, a.LinkName)
			snd.source, snd.target = a.Source, a.Target
			le = snd
		}
	}
	l := le.base()
	l.remoteHandle, l.remoteAttached = a.Handle, true
	s.remoteLinks[a.Handle] = le
	le.onAttach(a)

	if created {
		switch v := le.(type) {
		case *Receiver:
			if s.receiverOpenHandler != nil {
				s.receiverOpenHandler(v)
			}
		case *Sender:
			if s.senderOpenHandler != nil {
				s.senderOpenHandler(v)
			}
		}
	}
	return nil
}

func (s *Session) onFlow(f *types.Flow) error {
	if f.NextIncomingID != nil {
		s.remoteIncomingWindow = *f.NextIncomingID + f.IncomingWindow - s.nextOutgoingID
	} else {
		s.remoteIncomingWindow = f.IncomingWindow
	}
	s.remoteOutgoingWindow = f.OutgoingWindow

	if f.Handle == nil {
		if f.Echo && s.local == EndpointActive {
			return s.sendFlow(nil, false)
		}
		return nil
	}
	le := s.remoteLinks[*f.Handle]
	if le == nil {
		return violation("flow for unattached handle %d", *f.Handle)
	}
	return le.onFlow(f)
}

func (s *Session) onTransfer(t *types.Transfer, payload []byte) error {
	le := s.remoteLinks[t.Handle]
	if le == nil {
		return violation("transfer for unattached handle %d", t.Handle)
	}
	r, ok := le.(*Receiver)
	if !ok {
		return violation("transfer received on sending link %q", le.base().name)
	}
	if s.incomingRemaining == 0 {
		return s.EndWithError(types.NewError(types.ErrWindowViolation, "transfer beyond incoming window %d", s.incomingWindow))
	}
	s.incomingRemaining--
	s.nextIncomingID++
	return r.onTransfer(t, payload)
}

func (s *Session) onDisposition(d *types.Disposition) error {
	// The peer's role says whose deliveries the range covers.
	table := s.incoming
	if d.Role == types.RoleReceiver {
		table = s.outgoing
	}
	first, last := d.First, d.LastID()
	span := last - first
	var ids []uint32
	for id := range table {
		if id-first <= span {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uint32) int {
		return cmp.Compare(a-first, b-first)
	})
	for _, id := range ids {
		if dl, ok := table[id]; ok {
			dl.onDisposition(d.State, d.Settled)
		}
	}
	return nil
}

func (s *Session) onDetach(d *types.Detach) error {
	le := s.remoteLinks[d.Handle]
	if le == nil {
		return violation("detach for unattached handle %d", d.Handle)
	}
	return le.onDetach(d)
}

func (s *Session) send(body types.Performative, payload []byte) error {
	return s.conn.send(s.channel, body, payload)
}

// sendFlow writes a flow for the session and, when l is set, for that link.
// Advertising the window refills it.
func (s *Session) sendFlow(l *link, drain bool) error {
	f := &types.Flow{
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.outgoingWindow,
	}
	if s.peer != nil {
		next := s.nextIncomingID
		f.NextIncomingID = &next
	}
	if l != nil {
		handle, count, credit := l.handle, l.deliveryCount, l.credit
		f.Handle, f.DeliveryCount, f.LinkCredit = &handle, &count, &credit
		f.Drain = drain
	}
	if err := s.send(f, nil); err != nil {
		return err
	}
	s.incomingRemaining = s.incomingWindow
	return nil
}

func (s *Session) allocateHandle() (uint32, bool) {
	limit := types.DefaultHandleMax
	if s.peer != nil {
		limit = s.peer.HandleMax
	}
	for h := uint64(0); h <= uint64(limit); h++ {
		if _, used := s.links[uint32(h)]; !used {
			return uint32(h), true
		}
	}
	return 0, false
}

func (s *Session) removeLink(l *link) {
	if l.attached && s.links[l.handle] != nil && s.links[l.handle].base() == l {
		delete(s.links, l.handle)
	}
	if l.remoteAttached && s.remoteLinks[l.remoteHandle] != nil && s.remoteLinks[l.remoteHandle].base() == l {
		delete(s.remoteLinks, l.remoteHandle)
	}
	for tag, d := range l.unsettled {
		s.forget(d)
		delete(l.unsettled, tag)
	}
}

func (s *Session) forget(d *Delivery) {
	table := s.incoming
	if d.outgoing {
		table = s.outgoing
	}
	if table[d.id] == d {
		delete(table, d.id)
	}
}

// allLinks returns every link not yet fully closed, ordered by local handle,
// then remotely attached links by remote handle.
func (s *Session) allLinks() []linkEndpoint {
	var out []linkEndpoint
	for _, h := range slices.Sorted(maps.Keys(s.links)) {
		out = append(out, s.links[h])
	}
	for _, h := range slices.Sorted(maps.Keys(s.remoteLinks)) {
		if le := s.remoteLinks[h]; !le.base().attached {
			out = append(out, le)
		}
	}
	return out
}

func (s *Session) forceLinks() {
	for _, le := range s.allLinks() {
		le.force()
	}
	clear(s.links)
	clear(s.remoteLinks)
	clear(s.outgoing)
	clear(s.incoming)
}

// force closes the session and its links without writing.
func (s *Session) force() {
	s.forceLinks()
	s.forceClosed()
}
