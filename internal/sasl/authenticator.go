package sasl

import (
	"crypto/subtle"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

// Result is a server decision for one step of an exchange. When Done is false
// Challenge is sent to the client and the exchange continues.
type Result struct {
	Done           bool
	Code           types.SASLCode
	Challenge      []byte
	AdditionalData []byte
}

// Accept is the successful final Result.
func Accept() Result { return Result{Done: true, Code: types.SASLCodeOK} }

// Deny is the failed final Result for bad credentials.
func Deny() Result { return Result{Done: true, Code: types.SASLCodeAuth} }

// Authenticator is the server side of SASL. Authenticate receives the
// sasl-init response first and every sasl-response after it.
type Authenticator interface {
	Mechanisms() []codec.Symbol
	Authenticate(mechanism codec.Symbol, response []byte, hostname string) Result
}

// StaticAuthenticator accepts PLAIN credentials from a fixed table and,
// when AllowAnonymous is set, ANONYMOUS.
type StaticAuthenticator struct {
	Credentials    map[string]string
	AllowAnonymous bool
}

func (a *StaticAuthenticator) Mechanisms() []codec.Symbol {
	mechs := make([]codec.Symbol, 0, 2)
	if len(a.Credentials) > 0 {
		mechs = append(mechs, MechanismPlain)
	}
	if a.AllowAnonymous {
		mechs = append(mechs, MechanismAnonymous)
	}
	return mechs
}

func (a *StaticAuthenticator) Authenticate(mechanism codec.Symbol, response []byte, _ string) Result {
	switch mechanism {
	case MechanismAnonymous:
		if a.AllowAnonymous {
			return Accept()
		}
	case MechanismPlain:
		_, user, pass, err := ParsePlain(response)
		if err != nil {
			return Deny()
		}
		want, ok := a.Credentials[user]
		if ok && subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1 {
			return Accept()
		}
	}
	return Deny()
}
