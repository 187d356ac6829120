// Package types defines the AMQP 1.0 described types carried in frames:
// performatives, termini, delivery states, transaction states and the SASL
// frame bodies, along with the codec registrations that decode them.
package types

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/codec"
)

// Performative is the body of an AMQP or SASL frame.
type Performative interface {
	codec.DescribedType
	// Name is the short performative name used in logs and traces.
	Name() string
}

// DeliveryState is the state of a delivery as tracked on either end of a link.
type DeliveryState interface {
	codec.DescribedType
	deliveryState()
}

// Outcome is a terminal delivery state.
type Outcome interface {
	DeliveryState
	outcome()
}

// Role identifies which end of a link an Attach or Disposition comes from.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// SenderSettleMode is the settlement policy of a sender.
type SenderSettleMode uint8

const (
	SenderSettleModeUnsettled SenderSettleMode = 0
	SenderSettleModeSettled   SenderSettleMode = 1
	SenderSettleModeMixed     SenderSettleMode = 2
)

// ParseSenderSettleMode validates a wire value.
func ParseSenderSettleMode(v uint8) (SenderSettleMode, error) {
	if v > uint8(SenderSettleModeMixed) {
		return 0, fmt.Errorf("unknown sender settle mode %d", v)
	}
	return SenderSettleMode(v), nil
}

func (m SenderSettleMode) String() string {
	switch m {
	case SenderSettleModeUnsettled:
		return "unsettled"
	case SenderSettleModeSettled:
		return "settled"
	case SenderSettleModeMixed:
		return "mixed"
	}
	return fmt.Sprintf("SenderSettleMode(%d)", uint8(m))
}

// ReceiverSettleMode is the settlement policy of a receiver.
type ReceiverSettleMode uint8

const (
	ReceiverSettleModeFirst  ReceiverSettleMode = 0
	ReceiverSettleModeSecond ReceiverSettleMode = 1
)

// ParseReceiverSettleMode validates a wire value.
func ParseReceiverSettleMode(v uint8) (ReceiverSettleMode, error) {
	if v > uint8(ReceiverSettleModeSecond) {
		return 0, fmt.Errorf("unknown receiver settle mode %d", v)
	}
	return ReceiverSettleMode(v), nil
}

func (m ReceiverSettleMode) String() string {
	switch m {
	case ReceiverSettleModeFirst:
		return "first"
	case ReceiverSettleModeSecond:
		return "second"
	}
	return fmt.Sprintf("ReceiverSettleMode(%d)", uint8(m))
}

// Durability is the terminus durability.
type Durability uint32

const (
	DurabilityNone           Durability = 0
	DurabilityConfiguration  Durability = 1
	DurabilityUnsettledState Durability = 2
)

// ExpiryPolicy controls when a terminus expires.
type ExpiryPolicy codec.Symbol

const (
	ExpiryLinkDetach      ExpiryPolicy = "link-detach"
	ExpirySessionEnd      ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever           ExpiryPolicy = "never"
)

// ErrorCondition is the symbolic condition of an Error.
type ErrorCondition codec.Symbol

const (
	ErrInternalError         ErrorCondition = "amqp:internal-error"
	ErrNotFound              ErrorCondition = "amqp:not-found"
	ErrUnauthorizedAccess    ErrorCondition = "amqp:unauthorized-access"
	ErrDecodeError           ErrorCondition = "amqp:decode-error"
	ErrResourceLimitExceeded ErrorCondition = "amqp:resource-limit-exceeded"
	ErrNotAllowed            ErrorCondition = "amqp:not-allowed"
	ErrInvalidField          ErrorCondition = "amqp:invalid-field"
	ErrNotImplemented        ErrorCondition = "amqp:not-implemented"
	ErrResourceLocked        ErrorCondition = "amqp:resource-locked"
	ErrPreconditionFailed    ErrorCondition = "amqp:precondition-failed"
	ErrResourceDeleted       ErrorCondition = "amqp:resource-deleted"
	ErrIllegalState          ErrorCondition = "amqp:illegal-state"
	ErrFrameSizeTooSmall     ErrorCondition = "amqp:frame-size-too-small"

	ErrConnectionForced   ErrorCondition = "amqp:connection:forced"
	ErrFramingError       ErrorCondition = "amqp:connection:framing-error"
	ErrConnectionRedirect ErrorCondition = "amqp:connection:redirect"

	ErrWindowViolation  ErrorCondition = "amqp:session:window-violation"
	ErrErrantLink       ErrorCondition = "amqp:session:errant-link"
	ErrHandleInUse      ErrorCondition = "amqp:session:handle-in-use"
	ErrUnattachedHandle ErrorCondition = "amqp:session:unattached-handle"

	ErrDetachForced          ErrorCondition = "amqp:link:detach-forced"
	ErrTransferLimitExceeded ErrorCondition = "amqp:link:transfer-limit-exceeded"
	ErrMessageSizeExceeded   ErrorCondition = "amqp:link:message-size-exceeded"
	ErrLinkRedirect          ErrorCondition = "amqp:link:redirect"
	ErrStolen                ErrorCondition = "amqp:link:stolen"
)

// Descriptors of every registered type.
var (
	DescriptorOpen        = codec.Descriptor{Code: 0x10, Symbol: "amqp:open:list"}
	DescriptorBegin       = codec.Descriptor{Code: 0x11, Symbol: "amqp:begin:list"}
	DescriptorAttach      = codec.Descriptor{Code: 0x12, Symbol: "amqp:attach:list"}
	DescriptorFlow        = codec.Descriptor{Code: 0x13, Symbol: "amqp:flow:list"}
	DescriptorTransfer    = codec.Descriptor{Code: 0x14, Symbol: "amqp:transfer:list"}
	DescriptorDisposition = codec.Descriptor{Code: 0x15, Symbol: "amqp:disposition:list"}
	DescriptorDetach      = codec.Descriptor{Code: 0x16, Symbol: "amqp:detach:list"}
	DescriptorEnd         = codec.Descriptor{Code: 0x17, Symbol: "amqp:end:list"}
	DescriptorClose       = codec.Descriptor{Code: 0x18, Symbol: "amqp:close:list"}

	DescriptorError = codec.Descriptor{Code: 0x1d, Symbol: "amqp:error:list"}

	DescriptorReceived = codec.Descriptor{Code: 0x23, Symbol: "amqp:received:list"}
	DescriptorAccepted = codec.Descriptor{Code: 0x24, Symbol: "amqp:accepted:list"}
	DescriptorRejected = codec.Descriptor{Code: 0x25, Symbol: "amqp:rejected:list"}
	DescriptorReleased = codec.Descriptor{Code: 0x26, Symbol: "amqp:released:list"}
	DescriptorModified = codec.Descriptor{Code: 0x27, Symbol: "amqp:modified:list"}
	DescriptorSource   = codec.Descriptor{Code: 0x28, Symbol: "amqp:source:list"}
	DescriptorTarget   = codec.Descriptor{Code: 0x29, Symbol: "amqp:target:list"}

	DescriptorDeclared           = codec.Descriptor{Code: 0x33, Symbol: "amqp:declared:list"}
	DescriptorTransactionalState = codec.Descriptor{Code: 0x34, Symbol: "amqp:transactional-state:list"}

	DescriptorSASLMechanisms = codec.Descriptor{Code: 0x40, Symbol: "amqp:sasl-mechanisms:list"}
	DescriptorSASLInit       = codec.Descriptor{Code: 0x41, Symbol: "amqp:sasl-init:list"}
	DescriptorSASLChallenge  = codec.Descriptor{Code: 0x42, Symbol: "amqp:sasl-challenge:list"}
	DescriptorSASLResponse   = codec.Descriptor{Code: 0x43, Symbol: "amqp:sasl-response:list"}
	DescriptorSASLOutcome    = codec.Descriptor{Code: 0x44, Symbol: "amqp:sasl-outcome:list"}
)

// NewRegistry returns a codec registry with every type in this package.
func NewRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	Register(reg)
	return reg
}

// Register adds decoders for every type in this package to reg.
func Register(reg *codec.Registry) {
	register(reg, DescriptorOpen, 1, 10, decodeOpen)
	register(reg, DescriptorBegin, 4, 8, decodeBegin)
	register(reg, DescriptorAttach, 3, 14, decodeAttach)
	register(reg, DescriptorFlow, 4, 11, decodeFlow)
	register(reg, DescriptorTransfer, 1, 11, decodeTransfer)
	register(reg, DescriptorDisposition, 2, 6, decodeDisposition)
	register(reg, DescriptorDetach, 1, 3, decodeDetach)
	register(reg, DescriptorEnd, 0, 1, decodeEnd)
	register(reg, DescriptorClose, 0, 1, decodeClose)

	register(reg, DescriptorError, 1, 3, decodeError)
	register(reg, DescriptorSource, 0, 11, decodeSource)
	register(reg, DescriptorTarget, 0, 7, decodeTarget)

	register(reg, DescriptorReceived, 2, 2, decodeReceived)
	register(reg, DescriptorAccepted, 0, 0, func(*fieldReader) any { return &Accepted{} })
	register(reg, DescriptorRejected, 0, 1, decodeRejected)
	register(reg, DescriptorReleased, 0, 0, func(*fieldReader) any { return &Released{} })
	register(reg, DescriptorModified, 0, 3, decodeModified)

	register(reg, DescriptorDeclared, 1, 1, decodeDeclared)
	register(reg, DescriptorTransactionalState, 1, 2, decodeTransactionalState)

	register(reg, DescriptorSASLMechanisms, 1, 1, decodeSASLMechanisms)
	register(reg, DescriptorSASLInit, 1, 3, decodeSASLInit)
	register(reg, DescriptorSASLChallenge, 1, 1, decodeSASLChallenge)
	register(reg, DescriptorSASLResponse, 1, 1, decodeSASLResponse)
	register(reg, DescriptorSASLOutcome, 1, 2, decodeSASLOutcome)
}

func register(reg *codec.Registry, d codec.Descriptor, min, max int, decode func(*fieldReader) any) {
	name := string(d.Symbol)
	reg.Register(codec.DescribedTypeDecoder{
		Code:      d.Code,
		Symbol:    d.Symbol,
		MinFields: min,
		MaxFields: max,
		New: func(fields codec.List) (any, error) {
			r := &fieldReader{typ: name, fields: fields}
			v := decode(r)
			if r.err != nil {
				return nil, r.err
			}
			return v, nil
		},
	})
}
