package types

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/codec"
)

// SASLCode is the result of a SASL exchange.
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

func (c SASLCode) String() string {
	switch c {
	case SASLCodeOK:
		return "ok"
	case SASLCodeAuth:
		return "auth"
	case SASLCodeSys:
		return "sys"
	case SASLCodeSysPerm:
		return "sys-perm"
	case SASLCodeSysTemp:
		return "sys-temp"
	}
	return fmt.Sprintf("SASLCode(%d)", uint8(c))
}

// SASLMechanisms advertises the mechanisms a server supports.
type SASLMechanisms struct {
	Mechanisms []codec.Symbol
}

func (m *SASLMechanisms) Descriptor() codec.Descriptor { return DescriptorSASLMechanisms }
func (m *SASLMechanisms) Name() string                 { return "sasl-mechanisms" }

func (m *SASLMechanisms) Body() any {
	mechs := m.Mechanisms
	if mechs == nil {
		mechs = []codec.Symbol{}
	}
	return codec.List{mechs}
}

func decodeSASLMechanisms(r *fieldReader) any {
	if r.fields[0] == nil {
		r.failf(0, "sasl-server-mechanisms", "mandatory field is null")
	}
	return &SASLMechanisms{Mechanisms: r.symbols(0, "sasl-server-mechanisms")}
}

// SASLInit selects a mechanism and carries the initial response.
type SASLInit struct {
	Mechanism       codec.Symbol
	InitialResponse []byte
	Hostname        string
}

func (i *SASLInit) Descriptor() codec.Descriptor { return DescriptorSASLInit }
func (i *SASLInit) Name() string                 { return "sasl-init" }

func (i *SASLInit) Body() any {
	return codec.TrimFields(codec.List{i.Mechanism, bin(i.InitialResponse), str(i.Hostname)})
}

func decodeSASLInit(r *fieldReader) any {
	return &SASLInit{
		Mechanism:       required[codec.Symbol](r, 0, "mechanism"),
		InitialResponse: optional[[]byte](r, 1, "initial-response", nil),
		Hostname:        optional(r, 2, "hostname", ""),
	}
}

// SASLChallenge carries a server challenge.
type SASLChallenge struct {
	Challenge []byte
}

func (c *SASLChallenge) Descriptor() codec.Descriptor { return DescriptorSASLChallenge }
func (c *SASLChallenge) Name() string                 { return "sasl-challenge" }
func (c *SASLChallenge) Body() any                    { return codec.List{nonNil(c.Challenge)} }

func decodeSASLChallenge(r *fieldReader) any {
	return &SASLChallenge{Challenge: required[[]byte](r, 0, "challenge")}
}

// SASLResponse carries a client response to a challenge.
type SASLResponse struct {
	Response []byte
}

func (c *SASLResponse) Descriptor() codec.Descriptor { return DescriptorSASLResponse }
func (c *SASLResponse) Name() string                 { return "sasl-response" }
func (c *SASLResponse) Body() any                    { return codec.List{nonNil(c.Response)} }

func decodeSASLResponse(r *fieldReader) any {
	return &SASLResponse{Response: required[[]byte](r, 0, "response")}
}

// SASLOutcome ends the exchange.
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (o *SASLOutcome) Descriptor() codec.Descriptor { return DescriptorSASLOutcome }
func (o *SASLOutcome) Name() string                 { return "sasl-outcome" }

func (o *SASLOutcome) Body() any {
	return codec.TrimFields(codec.List{uint8(o.Code), bin(o.AdditionalData)})
}

func decodeSASLOutcome(r *fieldReader) any {
	code := required[uint8](r, 0, "code")
	if code > uint8(SASLCodeSysTemp) {
		r.failf(0, "code", "unknown sasl code %d", code)
	}
	return &SASLOutcome{
		Code:           SASLCode(code),
		AdditionalData: optional[[]byte](r, 1, "additional-data", nil),
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
