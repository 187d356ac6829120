package sasl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

// exchange runs client and server against each other until both stop
// producing frames, returning the client and server errors.
func exchange(t *testing.T, client, server *Negotiator) (clientErr, serverErr error, frames []string) {
	t.Helper()
	var toClient, toServer []types.Performative
	sendToClient := func(p types.Performative) error {
		frames = append(frames, "S:"+p.Name())
		toClient = append(toClient, p)
		return nil
	}
	sendToServer := func(p types.Performative) error {
		frames = append(frames, "C:"+p.Name())
		toServer = append(toServer, p)
		return nil
	}

	require.NoError(t, client.HeaderExchanged(sendToServer))
	serverErr = server.HeaderExchanged(sendToClient)

	for len(toClient) > 0 || len(toServer) > 0 {
		for len(toClient) > 0 {
			p := toClient[0]
			toClient = toClient[1:]
			if err := client.Handle(p, sendToServer); err != nil {
				clientErr = err
			}
		}
		for len(toServer) > 0 {
			p := toServer[0]
			toServer = toServer[1:]
			if err := server.Handle(p, sendToClient); err != nil {
				serverErr = err
			}
		}
	}
	return clientErr, serverErr, frames
}

func TestNegotiator_PlainSuccess(t *testing.T) {
	client := NewClient("broker", Plain{Username: "guest", Password: "secret"})
	server := NewServer(&StaticAuthenticator{Credentials: map[string]string{"guest": "secret"}})

	cErr, sErr, frames := exchange(t, client, server)
	require.NoError(t, cErr)
	require.NoError(t, sErr)
	assert.Equal(t, []string{"S:sasl-mechanisms", "C:sasl-init", "S:sasl-outcome"}, frames)
	assert.Equal(t, StateSucceeded, client.State())
	assert.Equal(t, StateSucceeded, server.State())
	assert.Equal(t, MechanismPlain, server.Mechanism())
	assert.True(t, client.Done())
}

func TestNegotiator_BadPassword(t *testing.T) {
	client := NewClient("", Plain{Username: "guest", Password: "wrong"})
	server := NewServer(&StaticAuthenticator{Credentials: map[string]string{"guest": "secret"}})

	cErr, sErr, _ := exchange(t, client, server)
	var oe *OutcomeError
	require.ErrorAs(t, cErr, &oe)
	assert.Equal(t, types.SASLCodeAuth, oe.Code)
	require.ErrorAs(t, sErr, &oe)
	assert.Equal(t, StateFailed, client.State())
	assert.Equal(t, types.SASLCodeAuth, client.Outcome().Code)
}

func TestNegotiator_MechanismPreference(t *testing.T) {
	client := NewClient("", Anonymous{}, Plain{Username: "u", Password: "p"})
	server := NewServer(&StaticAuthenticator{Credentials: map[string]string{"u": "p"}, AllowAnonymous: true})

	cErr, sErr, _ := exchange(t, client, server)
	require.NoError(t, cErr)
	require.NoError(t, sErr)
	assert.Equal(t, MechanismAnonymous, client.Mechanism(), "client preference order wins")
}

func TestNegotiator_NoCommonMechanism(t *testing.T) {
	client := NewClient("", External{})
	server := NewServer(&StaticAuthenticator{AllowAnonymous: true})

	cErr, _, frames := exchange(t, client, server)
	assert.ErrorIs(t, cErr, ErrNoMechanism)
	assert.Equal(t, []string{"S:sasl-mechanisms"}, frames)
}

type challengeAuth struct{ rounds int }

func (a *challengeAuth) Mechanisms() []codec.Symbol { return []codec.Symbol{"X-ECHO"} }

func (a *challengeAuth) Authenticate(_ codec.Symbol, response []byte, _ string) Result {
	a.rounds++
	if a.rounds < 3 {
		return Result{Challenge: []byte{byte(a.rounds)}}
	}
	return Accept()
}

type echo struct{}

func (echo) Name() codec.Symbol               { return "X-ECHO" }
func (echo) InitialResponse() ([]byte, error) { return nil, nil }
func (echo) Respond(c []byte) ([]byte, error) { return c, nil }

func TestNegotiator_ChallengeResponse(t *testing.T) {
	client := NewClient("", echo{})
	server := NewServer(&challengeAuth{})

	cErr, sErr, frames := exchange(t, client, server)
	require.NoError(t, cErr)
	require.NoError(t, sErr)
	assert.Equal(t, []string{
		"S:sasl-mechanisms", "C:sasl-init",
		"S:sasl-challenge", "C:sasl-response",
		"S:sasl-challenge", "C:sasl-response",
		"S:sasl-outcome",
	}, frames)
}

func TestNegotiator_UnexpectedFrames(t *testing.T) {
	client := NewClient("", Anonymous{})
	require.NoError(t, client.HeaderExchanged(func(types.Performative) error { return nil }))
	err := client.Handle(&types.SASLOutcome{Code: types.SASLCodeOK}, nil)
	assert.ErrorIs(t, err, ErrUnexpectedFrame)
	assert.Equal(t, StateFailed, client.State())

	server := NewServer(&StaticAuthenticator{AllowAnonymous: true})
	require.NoError(t, server.HeaderExchanged(func(types.Performative) error { return nil }))
	err = server.Handle(&types.SASLResponse{Response: []byte{}}, nil)
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	fresh := NewClient("", Anonymous{})
	require.NoError(t, fresh.HeaderExchanged(func(types.Performative) error { return nil }))
	assert.ErrorIs(t, fresh.HeaderExchanged(nil), ErrUnexpectedFrame)
}

func TestServer_UnofferedMechanismDenied(t *testing.T) {
	var sent []types.Performative
	send := func(p types.Performative) error { sent = append(sent, p); return nil }
	server := NewServer(&StaticAuthenticator{Credentials: map[string]string{"u": "p"}})
	require.NoError(t, server.HeaderExchanged(send))

	err := server.Handle(&types.SASLInit{Mechanism: MechanismAnonymous}, send)
	var oe *OutcomeError
	require.ErrorAs(t, err, &oe)
	require.Len(t, sent, 2)
	assert.Equal(t, &types.SASLOutcome{Code: types.SASLCodeAuth}, sent[1])
}

func TestPlain_InitialResponse(t *testing.T) {
	resp, err := Plain{AuthzID: "admin", Username: "u", Password: "p"}.InitialResponse()
	require.NoError(t, err)
	assert.Equal(t, []byte("admin\x00u\x00p"), resp)

	authz, user, pass, err := ParsePlain(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "u", "p"}, []string{authz, user, pass})

	_, err = Plain{}.InitialResponse()
	assert.Error(t, err)
	_, _, _, err = ParsePlain([]byte("nouser"))
	assert.Error(t, err)
}

func TestAnonymous_Trace(t *testing.T) {
	resp, err := Anonymous{}.InitialResponse()
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = Anonymous{Trace: "me@example"}.InitialResponse()
	require.NoError(t, err)
	assert.Equal(t, []byte("me@example"), resp)
}
