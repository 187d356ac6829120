package types

import (
	"fmt"
	"time"

	"github.com/roach88/amqpcore/internal/codec"
)

// Field defaults defined by AMQP 1.0.
const (
	DefaultMaxFrameSize uint32 = 4294967295
	DefaultChannelMax   uint16 = 65535
	DefaultHandleMax    uint32 = 4294967295
)

// Open negotiates connection parameters.
type Open struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         time.Duration
	OutgoingLocales     []codec.Symbol
	IncomingLocales     []codec.Symbol
	OfferedCapabilities []codec.Symbol
	DesiredCapabilities []codec.Symbol
	Properties          map[codec.Symbol]any
}

func (o *Open) Descriptor() codec.Descriptor { return DescriptorOpen }
func (o *Open) Name() string                 { return "open" }

func (o *Open) Body() any {
	var maxFrame any
	if o.MaxFrameSize != 0 {
		maxFrame = omit(o.MaxFrameSize, DefaultMaxFrameSize)
	}
	return codec.TrimFields(codec.List{
		o.ContainerID,
		str(o.Hostname),
		maxFrame,
		omit(o.ChannelMax, DefaultChannelMax),
		millis(o.IdleTimeout),
		syms(o.OutgoingLocales),
		syms(o.IncomingLocales),
		syms(o.OfferedCapabilities),
		syms(o.DesiredCapabilities),
		props(o.Properties),
	})
}

func (o *Open) String() string {
	return fmt.Sprintf("Open{ContainerID: %q, Hostname: %q, MaxFrameSize: %d, ChannelMax: %d, IdleTimeout: %v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

func decodeOpen(r *fieldReader) any {
	return &Open{
		ContainerID:         required[string](r, 0, "container-id"),
		Hostname:            optional(r, 1, "hostname", ""),
		MaxFrameSize:        optional(r, 2, "max-frame-size", DefaultMaxFrameSize),
		ChannelMax:          optional(r, 3, "channel-max", DefaultChannelMax),
		IdleTimeout:         r.milliseconds(4, "idle-time-out"),
		OutgoingLocales:     r.symbols(5, "outgoing-locales"),
		IncomingLocales:     r.symbols(6, "incoming-locales"),
		OfferedCapabilities: r.symbols(7, "offered-capabilities"),
		DesiredCapabilities: r.symbols(8, "desired-capabilities"),
		Properties:          r.properties(9, "properties"),
	}
}

// Begin starts a session on a channel.
type Begin struct {
	// RemoteChannel is set only when answering a remotely initiated session.
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities []codec.Symbol
	DesiredCapabilities []codec.Symbol
	Properties          map[codec.Symbol]any
}

func (b *Begin) Descriptor() codec.Descriptor { return DescriptorBegin }
func (b *Begin) Name() string                 { return "begin" }

func (b *Begin) Body() any {
	return codec.TrimFields(codec.List{
		deref(b.RemoteChannel),
		b.NextOutgoingID,
		b.IncomingWindow,
		b.OutgoingWindow,
		omit(b.HandleMax, DefaultHandleMax),
		syms(b.OfferedCapabilities),
		syms(b.DesiredCapabilities),
		props(b.Properties),
	})
}

func decodeBegin(r *fieldReader) any {
	return &Begin{
		RemoteChannel:       optionalPtr[uint16](r, 0, "remote-channel"),
		NextOutgoingID:      required[uint32](r, 1, "next-outgoing-id"),
		IncomingWindow:      required[uint32](r, 2, "incoming-window"),
		OutgoingWindow:      required[uint32](r, 3, "outgoing-window"),
		HandleMax:           optional(r, 4, "handle-max", DefaultHandleMax),
		OfferedCapabilities: r.symbols(5, "offered-capabilities"),
		DesiredCapabilities: r.symbols(6, "desired-capabilities"),
		Properties:          r.properties(7, "properties"),
	}
}

// Attach attaches a link to a session.
type Attach struct {
	LinkName             string `amqp:"name"`
	Handle               uint32
	Role                 Role
	SenderSettleMode     SenderSettleMode
	ReceiverSettleMode   ReceiverSettleMode
	Source               *Source
	Target               *Target
	Unsettled            codec.Map
	IncompleteUnsettled  bool
	InitialDeliveryCount uint32
	MaxMessageSize       uint64
	OfferedCapabilities  []codec.Symbol
	DesiredCapabilities  []codec.Symbol
	Properties           map[codec.Symbol]any
}

func (a *Attach) Descriptor() codec.Descriptor { return DescriptorAttach }
func (a *Attach) Name() string                 { return "attach" }

func (a *Attach) Body() any {
	var initial any
	if a.Role == RoleSender {
		initial = a.InitialDeliveryCount
	}
	return codec.TrimFields(codec.List{
		a.LinkName,
		a.Handle,
		bool(a.Role),
		omit(uint8(a.SenderSettleMode), uint8(SenderSettleModeMixed)),
		omit(uint8(a.ReceiverSettleMode), uint8(ReceiverSettleModeFirst)),
		a.Source,
		a.Target,
		a.Unsettled,
		flag(a.IncompleteUnsettled),
		initial,
		omit(a.MaxMessageSize, 0),
		syms(a.OfferedCapabilities),
		syms(a.DesiredCapabilities),
		props(a.Properties),
	})
}

func decodeAttach(r *fieldReader) any {
	a := &Attach{
		LinkName:             required[string](r, 0, "name"),
		Handle:               required[uint32](r, 1, "handle"),
		Role:                 Role(required[bool](r, 2, "role")),
		Source:               optional[*Source](r, 5, "source", nil),
		Target:               optional[*Target](r, 6, "target", nil),
		Unsettled:            optional[codec.Map](r, 7, "unsettled", nil),
		IncompleteUnsettled:  optional(r, 8, "incomplete-unsettled", false),
		InitialDeliveryCount: optional[uint32](r, 9, "initial-delivery-count", 0),
		MaxMessageSize:       optional[uint64](r, 10, "max-message-size", 0),
		OfferedCapabilities:  r.symbols(11, "offered-capabilities"),
		DesiredCapabilities:  r.symbols(12, "desired-capabilities"),
		Properties:           r.properties(13, "properties"),
	}
	snd, err := ParseSenderSettleMode(optional(r, 3, "snd-settle-mode", uint8(SenderSettleModeMixed)))
	if err != nil {
		r.failf(3, "snd-settle-mode", "%v", err)
	}
	rcv, err := ParseReceiverSettleMode(optional(r, 4, "rcv-settle-mode", uint8(ReceiverSettleModeFirst)))
	if err != nil {
		r.failf(4, "rcv-settle-mode", "%v", err)
	}
	a.SenderSettleMode, a.ReceiverSettleMode = snd, rcv
	return a
}

// Flow updates session windows and, when Handle is set, link credit.
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[codec.Symbol]any
}

func (f *Flow) Descriptor() codec.Descriptor { return DescriptorFlow }
func (f *Flow) Name() string                 { return "flow" }

func (f *Flow) Body() any {
	return codec.TrimFields(codec.List{
		deref(f.NextIncomingID),
		f.IncomingWindow,
		f.NextOutgoingID,
		f.OutgoingWindow,
		deref(f.Handle),
		deref(f.DeliveryCount),
		deref(f.LinkCredit),
		deref(f.Available),
		flag(f.Drain),
		flag(f.Echo),
		props(f.Properties),
	})
}

func decodeFlow(r *fieldReader) any {
	return &Flow{
		NextIncomingID: optionalPtr[uint32](r, 0, "next-incoming-id"),
		IncomingWindow: required[uint32](r, 1, "incoming-window"),
		NextOutgoingID: required[uint32](r, 2, "next-outgoing-id"),
		OutgoingWindow: required[uint32](r, 3, "outgoing-window"),
		Handle:         optionalPtr[uint32](r, 4, "handle"),
		DeliveryCount:  optionalPtr[uint32](r, 5, "delivery-count"),
		LinkCredit:     optionalPtr[uint32](r, 6, "link-credit"),
		Available:      optionalPtr[uint32](r, 7, "available"),
		Drain:          optional(r, 8, "drain", false),
		Echo:           optional(r, 9, "echo", false),
		Properties:     r.properties(10, "properties"),
	}
}

// Transfer carries one frame of a delivery. Payload travels after the
// performative in the same frame and is not part of the encoded body.
type Transfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *ReceiverSettleMode
	State              DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool

	Payload []byte
}

func (t *Transfer) Descriptor() codec.Descriptor { return DescriptorTransfer }
func (t *Transfer) Name() string                 { return "transfer" }

func (t *Transfer) Body() any {
	var rcv any
	if t.ReceiverSettleMode != nil {
		rcv = uint8(*t.ReceiverSettleMode)
	}
	return codec.TrimFields(codec.List{
		t.Handle,
		deref(t.DeliveryID),
		bin(t.DeliveryTag),
		deref(t.MessageFormat),
		flag(t.Settled),
		flag(t.More),
		rcv,
		t.State,
		flag(t.Resume),
		flag(t.Aborted),
		flag(t.Batchable),
	})
}

func decodeTransfer(r *fieldReader) any {
	t := &Transfer{
		Handle:        required[uint32](r, 0, "handle"),
		DeliveryID:    optionalPtr[uint32](r, 1, "delivery-id"),
		DeliveryTag:   optional[[]byte](r, 2, "delivery-tag", nil),
		MessageFormat: optionalPtr[uint32](r, 3, "message-format"),
		Settled:       optional(r, 4, "settled", false),
		More:          optional(r, 5, "more", false),
		State:         r.deliveryState(7, "state"),
		Resume:        optional(r, 8, "resume", false),
		Aborted:       optional(r, 9, "aborted", false),
		Batchable:     optional(r, 10, "batchable", false),
	}
	if v, ok := field[uint8](r, 6, "rcv-settle-mode", false); ok {
		m, err := ParseReceiverSettleMode(v)
		if err != nil {
			r.failf(6, "rcv-settle-mode", "%v", err)
		}
		t.ReceiverSettleMode = &m
	}
	return t
}

// Disposition updates the state of a range of deliveries.
type Disposition struct {
	Role      Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     DeliveryState
	Batchable bool
}

func (d *Disposition) Descriptor() codec.Descriptor { return DescriptorDisposition }
func (d *Disposition) Name() string                 { return "disposition" }

func (d *Disposition) Body() any {
	return codec.TrimFields(codec.List{
		bool(d.Role),
		d.First,
		deref(d.Last),
		flag(d.Settled),
		d.State,
		flag(d.Batchable),
	})
}

// LastID returns the inclusive end of the range, which defaults to First.
func (d *Disposition) LastID() uint32 {
	if d.Last == nil {
		return d.First
	}
	return *d.Last
}

func decodeDisposition(r *fieldReader) any {
	return &Disposition{
		Role:      Role(required[bool](r, 0, "role")),
		First:     required[uint32](r, 1, "first"),
		Last:      optionalPtr[uint32](r, 2, "last"),
		Settled:   optional(r, 3, "settled", false),
		State:     r.deliveryState(4, "state"),
		Batchable: optional(r, 5, "batchable", false),
	}
}

// Detach detaches a link, closing it when Closed is set.
type Detach struct {
	Handle uint32
	Closed bool
	Error  *Error
}

func (d *Detach) Descriptor() codec.Descriptor { return DescriptorDetach }
func (d *Detach) Name() string                 { return "detach" }

func (d *Detach) Body() any {
	return codec.TrimFields(codec.List{d.Handle, flag(d.Closed), d.Error})
}

func decodeDetach(r *fieldReader) any {
	return &Detach{
		Handle: required[uint32](r, 0, "handle"),
		Closed: optional(r, 1, "closed", false),
		Error:  r.amqpError(2),
	}
}

// End ends a session.
type End struct {
	Error *Error
}

func (e *End) Descriptor() codec.Descriptor { return DescriptorEnd }
func (e *End) Name() string                 { return "end" }
func (e *End) Body() any                    { return codec.TrimFields(codec.List{e.Error}) }

func decodeEnd(r *fieldReader) any {
	return &End{Error: r.amqpError(0)}
}

// Close closes the connection.
type Close struct {
	Error *Error
}

func (c *Close) Descriptor() codec.Descriptor { return DescriptorClose }
func (c *Close) Name() string                 { return "close" }
func (c *Close) Body() any                    { return codec.TrimFields(codec.List{c.Error}) }

func decodeClose(r *fieldReader) any {
	return &Close{Error: r.amqpError(0)}
}
