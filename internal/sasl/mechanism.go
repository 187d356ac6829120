// Package sasl implements the SASL layer that may precede the AMQP layer on a
// connection: client mechanisms, server-side authentication and the
// negotiation state machine that drives the exchange of SASL frames.
package sasl

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/amqpcore/internal/codec"
)

// Well-known mechanism names.
const (
	MechanismAnonymous codec.Symbol = "ANONYMOUS"
	MechanismPlain     codec.Symbol = "PLAIN"
	MechanismExternal  codec.Symbol = "EXTERNAL"
)

// Mechanism is the client side of one SASL mechanism.
type Mechanism interface {
	Name() codec.Symbol
	// InitialResponse returns the bytes sent with sasl-init.
	InitialResponse() ([]byte, error)
	// Respond answers a server challenge.
	Respond(challenge []byte) ([]byte, error)
}

// Anonymous authenticates without credentials. Trace is optional.
type Anonymous struct {
	Trace string
}

func (a Anonymous) Name() codec.Symbol { return MechanismAnonymous }

func (a Anonymous) InitialResponse() ([]byte, error) {
	if a.Trace == "" {
		return nil, nil
	}
	return []byte(a.Trace), nil
}

func (a Anonymous) Respond([]byte) ([]byte, error) {
	return nil, fmt.Errorf("sasl: %s does not take challenges", MechanismAnonymous)
}

// Plain sends an authorization id, user name and password in the clear
// (RFC 4616). Use it only over an encrypted transport.
type Plain struct {
	AuthzID  string
	Username string
	Password string
}

func (p Plain) Name() codec.Symbol { return MechanismPlain }

func (p Plain) InitialResponse() ([]byte, error) {
	if p.Username == "" {
		return nil, fmt.Errorf("sasl: %s requires a username", MechanismPlain)
	}
	var b bytes.Buffer
	b.WriteString(p.AuthzID)
	b.WriteByte(0)
	b.WriteString(p.Username)
	b.WriteByte(0)
	b.WriteString(p.Password)
	return b.Bytes(), nil
}

func (p Plain) Respond([]byte) ([]byte, error) {
	return nil, fmt.Errorf("sasl: %s does not take challenges", MechanismPlain)
}

// ParsePlain splits a PLAIN initial response into its three parts.
func ParsePlain(resp []byte) (authzID, username, password string, err error) {
	parts := bytes.Split(resp, []byte{0})
	if len(parts) != 3 || len(parts[1]) == 0 {
		return "", "", "", fmt.Errorf("sasl: malformed %s response", MechanismPlain)
	}
	return string(parts[0]), string(parts[1]), string(parts[2]), nil
}

// External relies on credentials established outside SASL, typically a TLS
// client certificate. AuthzID is optional.
type External struct {
	AuthzID string
}

func (e External) Name() codec.Symbol { return MechanismExternal }

func (e External) InitialResponse() ([]byte, error) {
	return []byte(e.AuthzID), nil
}

func (e External) Respond([]byte) ([]byte, error) {
	return nil, fmt.Errorf("sasl: %s does not take challenges", MechanismExternal)
}

// selectMechanism returns the first of the local mechanisms, in local
// preference order, that the server offers.
func selectMechanism(local []Mechanism, offered []codec.Symbol) Mechanism {
	for _, m := range local {
		if slices.Contains(offered, m.Name()) {
			return m
		}
	}
	return nil
}
