package sasl

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

var (
	// ErrUnexpectedFrame is returned for a SASL frame that is not legal in
	// the current state.
	ErrUnexpectedFrame = errors.New("sasl: unexpected frame")
	// ErrNoMechanism is returned when client and server share no mechanism.
	ErrNoMechanism = errors.New("sasl: no mutually supported mechanism")
)

// OutcomeError reports a completed exchange that did not succeed.
type OutcomeError struct {
	Code types.SASLCode
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("sasl: authentication failed: %s", e.Code)
}

// State is the position of a Negotiator in the exchange.
type State uint8

const (
	StateIdle State = iota
	StateAwaitMechanisms
	StateAwaitOutcome
	StateAwaitInit
	StateAwaitResponse
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitMechanisms:
		return "await-mechanisms"
	case StateAwaitOutcome:
		return "await-outcome"
	case StateAwaitInit:
		return "await-init"
	case StateAwaitResponse:
		return "await-response"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Send writes one SASL frame body.
type Send func(types.Performative) error

// Negotiator runs one side of a SASL exchange. It performs no I/O: frames
// arrive through Handle and leave through the Send callback.
type Negotiator struct {
	server   bool
	mechs    []Mechanism
	auth     Authenticator
	hostname string

	state     State
	selected  codec.Symbol
	mechanism Mechanism
	outcome   *types.SASLOutcome
}

// NewClient creates a client negotiator offering mechs in preference order.
func NewClient(hostname string, mechs ...Mechanism) *Negotiator {
	return &Negotiator{mechs: mechs, hostname: hostname}
}

// NewServer creates a server negotiator backed by auth.
func NewServer(auth Authenticator) *Negotiator {
	return &Negotiator{server: true, auth: auth}
}

// IsServer reports whether n is the server side.
func (n *Negotiator) IsServer() bool { return n.server }

// State returns the current state.
func (n *Negotiator) State() State { return n.state }

// Done reports whether the exchange has finished either way.
func (n *Negotiator) Done() bool {
	return n.state == StateSucceeded || n.state == StateFailed
}

// Mechanism returns the mechanism chosen by the client, once known.
func (n *Negotiator) Mechanism() codec.Symbol { return n.selected }

// Outcome returns the sasl-outcome that ended the exchange, if any.
func (n *Negotiator) Outcome() *types.SASLOutcome { return n.outcome }

// HeaderExchanged is called once the SASL protocol header has been received.
// The server answers with its mechanisms; the client starts waiting for them.
func (n *Negotiator) HeaderExchanged(send Send) error {
	if n.state != StateIdle {
		return fmt.Errorf("%w: header in state %s", ErrUnexpectedFrame, n.state)
	}
	if !n.server {
		n.state = StateAwaitMechanisms
		return nil
	}
	n.state = StateAwaitInit
	mechs := n.auth.Mechanisms()
	if len(mechs) == 0 {
		return n.fail(ErrNoMechanism)
	}
	return send(&types.SASLMechanisms{Mechanisms: mechs})
}

// Handle advances the exchange with one inbound SASL frame body.
func (n *Negotiator) Handle(body types.Performative, send Send) error {
	if n.server {
		return n.handleServer(body, send)
	}
	return n.handleClient(body, send)
}

func (n *Negotiator) fail(err error) error {
	n.state = StateFailed
	return err
}

func (n *Negotiator) unexpected(body types.Performative) error {
	return n.fail(fmt.Errorf("%w: %s in state %s", ErrUnexpectedFrame, body.Name(), n.state))
}

func (n *Negotiator) handleClient(body types.Performative, send Send) error {
	switch b := body.(type) {
	case *types.SASLMechanisms:
		if n.state != StateAwaitMechanisms {
			return n.unexpected(body)
		}
		m := selectMechanism(n.mechs, b.Mechanisms)
		if m == nil {
			return n.fail(fmt.Errorf("%w: server offers %v", ErrNoMechanism, b.Mechanisms))
		}
		resp, err := m.InitialResponse()
		if err != nil {
			return n.fail(err)
		}
		n.mechanism, n.selected = m, m.Name()
		n.state = StateAwaitOutcome
		return send(&types.SASLInit{Mechanism: m.Name(), InitialResponse: resp, Hostname: n.hostname})
	case *types.SASLChallenge:
		if n.state != StateAwaitOutcome {
			return n.unexpected(body)
		}
		resp, err := n.mechanism.Respond(b.Challenge)
		if err != nil {
			return n.fail(err)
		}
		return send(&types.SASLResponse{Response: resp})
	case *types.SASLOutcome:
		if n.state != StateAwaitOutcome {
			return n.unexpected(body)
		}
		return n.finish(b)
	}
	return n.unexpected(body)
}

func (n *Negotiator) handleServer(body types.Performative, send Send) error {
	var res Result
	switch b := body.(type) {
	case *types.SASLInit:
		if n.state != StateAwaitInit {
			return n.unexpected(body)
		}
		n.selected = b.Mechanism
		if !slices.Contains(n.auth.Mechanisms(), b.Mechanism) {
			res = Deny()
			break
		}
		res = n.auth.Authenticate(b.Mechanism, b.InitialResponse, b.Hostname)
	case *types.SASLResponse:
		if n.state != StateAwaitResponse {
			return n.unexpected(body)
		}
		res = n.auth.Authenticate(n.selected, b.Response, "")
	default:
		return n.unexpected(body)
	}

	if !res.Done {
		n.state = StateAwaitResponse
		return send(&types.SASLChallenge{Challenge: res.Challenge})
	}
	outcome := &types.SASLOutcome{Code: res.Code, AdditionalData: res.AdditionalData}
	if err := send(outcome); err != nil {
		return n.fail(err)
	}
	return n.finish(outcome)
}

func (n *Negotiator) finish(o *types.SASLOutcome) error {
	n.outcome = o
	if o.Code != types.SASLCodeOK {
		return n.fail(&OutcomeError{Code: o.Code})
	}
	n.state = StateSucceeded
	return nil
}
