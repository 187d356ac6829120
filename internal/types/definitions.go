package types

import (
	"fmt"
	"time"

	"github.com/roach88/amqpcore/internal/codec"
)

// Error is an AMQP error carried by Detach, End, Close and Rejected.
type Error struct {
	Condition   ErrorCondition
	Description string
	Info        map[codec.Symbol]any
}

// NewError is a shorthand for an Error with a formatted description.
func NewError(cond ErrorCondition, format string, args ...any) *Error {
	return &Error{Condition: cond, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) Descriptor() codec.Descriptor { return DescriptorError }

func (e *Error) Body() any {
	return codec.TrimFields(codec.List{codec.Symbol(e.Condition), str(e.Description), props(e.Info)})
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}

func decodeError(r *fieldReader) any {
	return &Error{
		Condition:   ErrorCondition(required[codec.Symbol](r, 0, "condition")),
		Description: optional(r, 1, "description", ""),
		Info:        r.properties(2, "info"),
	}
}

// Source is the source terminus of a link.
type Source struct {
	Address               string
	Durable               Durability
	ExpiryPolicy          ExpiryPolicy
	Timeout               time.Duration
	Dynamic               bool
	DynamicNodeProperties map[codec.Symbol]any
	DistributionMode      codec.Symbol
	Filter                map[codec.Symbol]any
	DefaultOutcome        Outcome
	Outcomes              []codec.Symbol
	Capabilities          []codec.Symbol
}

func (s *Source) Descriptor() codec.Descriptor { return DescriptorSource }

func (s *Source) Body() any {
	return codec.TrimFields(codec.List{
		str(s.Address),
		omit(uint32(s.Durable), 0),
		expiry(s.ExpiryPolicy),
		seconds(s.Timeout),
		flag(s.Dynamic),
		props(s.DynamicNodeProperties),
		omit(s.DistributionMode, ""),
		props(s.Filter),
		s.DefaultOutcome,
		syms(s.Outcomes),
		syms(s.Capabilities),
	})
}

func decodeSource(r *fieldReader) any {
	s := &Source{
		Address:               optional(r, 0, "address", ""),
		Durable:               Durability(optional[uint32](r, 1, "durable", 0)),
		ExpiryPolicy:          ExpiryPolicy(optional(r, 2, "expiry-policy", codec.Symbol(ExpirySessionEnd))),
		Timeout:               time.Duration(optional[uint32](r, 3, "timeout", 0)) * time.Second,
		Dynamic:               optional(r, 4, "dynamic", false),
		DynamicNodeProperties: r.properties(5, "dynamic-node-properties"),
		DistributionMode:      optional[codec.Symbol](r, 6, "distribution-mode", ""),
		Filter:                r.properties(7, "filter"),
		Outcomes:              r.symbols(9, "outcomes"),
		Capabilities:          r.symbols(10, "capabilities"),
	}
	if st := r.deliveryState(8, "default-outcome"); st != nil {
		o, ok := st.(Outcome)
		if !ok {
			r.failf(8, "default-outcome", "%T is not an outcome", st)
		}
		s.DefaultOutcome = o
	}
	return s
}

// Target is the target terminus of a link.
type Target struct {
	Address               string
	Durable               Durability
	ExpiryPolicy          ExpiryPolicy
	Timeout               time.Duration
	Dynamic               bool
	DynamicNodeProperties map[codec.Symbol]any
	Capabilities          []codec.Symbol
}

func (t *Target) Descriptor() codec.Descriptor { return DescriptorTarget }

func (t *Target) Body() any {
	return codec.TrimFields(codec.List{
		str(t.Address),
		omit(uint32(t.Durable), 0),
		expiry(t.ExpiryPolicy),
		seconds(t.Timeout),
		flag(t.Dynamic),
		props(t.DynamicNodeProperties),
		syms(t.Capabilities),
	})
}

func decodeTarget(r *fieldReader) any {
	return &Target{
		Address:               optional(r, 0, "address", ""),
		Durable:               Durability(optional[uint32](r, 1, "durable", 0)),
		ExpiryPolicy:          ExpiryPolicy(optional(r, 2, "expiry-policy", codec.Symbol(ExpirySessionEnd))),
		Timeout:               time.Duration(optional[uint32](r, 3, "timeout", 0)) * time.Second,
		Dynamic:               optional(r, 4, "dynamic", false),
		DynamicNodeProperties: r.properties(5, "dynamic-node-properties"),
		Capabilities:          r.symbols(6, "capabilities"),
	}
}

func expiry(p ExpiryPolicy) any {
	if p == "" || p == ExpirySessionEnd {
		return nil
	}
	return codec.Symbol(p)
}

func seconds(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return uint32(d / time.Second)
}

// Received is the non-terminal state reporting how much of a delivery has
// arrived.
type Received struct {
	SectionNumber uint32
	SectionOffset uint64
}

func (s *Received) Descriptor() codec.Descriptor { return DescriptorReceived }
func (s *Received) Body() any                    { return codec.List{s.SectionNumber, s.SectionOffset} }
func (s *Received) deliveryState()               {}

func decodeReceived(r *fieldReader) any {
	return &Received{
		SectionNumber: required[uint32](r, 0, "section-number"),
		SectionOffset: required[uint64](r, 1, "section-offset"),
	}
}

// Accepted is the outcome of a successfully processed delivery.
type Accepted struct{}

func (s *Accepted) Descriptor() codec.Descriptor { return DescriptorAccepted }
func (s *Accepted) Body() any                    { return codec.List{} }
func (s *Accepted) deliveryState()               {}
func (s *Accepted) outcome()                     {}

// Rejected is the outcome of an invalid delivery.
type Rejected struct {
	Error *Error
}

func (s *Rejected) Descriptor() codec.Descriptor { return DescriptorRejected }
func (s *Rejected) Body() any                    { return codec.TrimFields(codec.List{s.Error}) }
func (s *Rejected) deliveryState()               {}
func (s *Rejected) outcome()                     {}

func decodeRejected(r *fieldReader) any {
	return &Rejected{Error: r.amqpError(0)}
}

// Released is the outcome of a delivery that was not and will not be acted on.
type Released struct{}

func (s *Released) Descriptor() codec.Descriptor { return DescriptorReleased }
func (s *Released) Body() any                    { return codec.List{} }
func (s *Released) deliveryState()               {}
func (s *Released) outcome()                     {}

// Modified is the outcome of a delivery returned with changed annotations.
type Modified struct {
	DeliveryFailed     bool
	UndeliverableHere  bool
	MessageAnnotations map[codec.Symbol]any
}

func (s *Modified) Descriptor() codec.Descriptor { return DescriptorModified }

func (s *Modified) Body() any {
	return codec.TrimFields(codec.List{flag(s.DeliveryFailed), flag(s.UndeliverableHere), props(s.MessageAnnotations)})
}

func (s *Modified) deliveryState() {}
func (s *Modified) outcome()       {}

func decodeModified(r *fieldReader) any {
	return &Modified{
		DeliveryFailed:     optional(r, 0, "delivery-failed", false),
		UndeliverableHere:  optional(r, 1, "undeliverable-here", false),
		MessageAnnotations: r.properties(2, "message-annotations"),
	}
}

// Declared is the outcome of a transaction declaration.
type Declared struct {
	TxnID []byte
}

func (s *Declared) Descriptor() codec.Descriptor { return DescriptorDeclared }
func (s *Declared) Body() any                    { return codec.List{s.TxnID} }
func (s *Declared) deliveryState()               {}
func (s *Declared) outcome()                     {}

func decodeDeclared(r *fieldReader) any {
	return &Declared{TxnID: required[[]byte](r, 0, "txn-id")}
}

// TransactionalState is the state of a delivery enlisted in a transaction.
type TransactionalState struct {
	TxnID   []byte
	Outcome Outcome
}

func (s *TransactionalState) Descriptor() codec.Descriptor { return DescriptorTransactionalState }

func (s *TransactionalState) Body() any {
	return codec.TrimFields(codec.List{s.TxnID, s.Outcome})
}

func (s *TransactionalState) deliveryState() {}

func decodeTransactionalState(r *fieldReader) any {
	s := &TransactionalState{TxnID: required[[]byte](r, 0, "txn-id")}
	if st := r.deliveryState(1, "outcome"); st != nil {
		o, ok := st.(Outcome)
		if !ok {
			r.failf(1, "outcome", "%T is not an outcome", st)
		}
		s.Outcome = o
	}
	return s
}

// IsTerminal reports whether st is an outcome.
func IsTerminal(st DeliveryState) bool {
	_, ok := st.(Outcome)
	return ok
}
