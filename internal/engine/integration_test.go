package engine_test

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/sasl"
	"github.com/roach88/amqpcore/internal/testutil"
	"github.com/roach88/amqpcore/internal/types"
)

// broker is a minimal server side: it accepts every session and link,
// grants a credit window and accepts every delivery.
type broker struct {
	e        *engine.Engine
	received []string
	senders  []*engine.Sender
}

func newBroker(t *testing.T, opts ...engine.Option) *broker {
	t.Helper()
	b := &broker{}
	base := []engine.Option{engine.WithContainerID("broker"), engine.WithLogger(slog.New(slog.DiscardHandler))}
	b.e = engine.New(append(base, opts...)...)
	c, err := b.e.Start()
	require.NoError(t, err)

	c.OpenHandler(func(c *engine.Connection) { require.NoError(t, c.Open()) })
	c.SessionOpenHandler(func(s *engine.Session) {
		require.NoError(t, s.Begin())
		s.ReceiverOpenHandler(func(r *engine.Receiver) {
			require.NoError(t, r.SetCreditWindow(10))
			r.DeliveryHandler(func(d *engine.Delivery) {
				b.received = append(b.received, string(d.Payload()))
				require.NoError(t, d.Accept())
			})
			require.NoError(t, r.Attach())
		})
		s.SenderOpenHandler(func(snd *engine.Sender) {
			b.senders = append(b.senders, snd)
			require.NoError(t, snd.Attach())
		})
	})
	return b
}

func newClient(t *testing.T, opts ...engine.Option) (*engine.Engine, *engine.Connection) {
	t.Helper()
	base := []engine.Option{engine.WithContainerID("client"), engine.WithLogger(slog.New(slog.DiscardHandler))}
	e := engine.New(append(base, opts...)...)
	c, err := e.Start()
	require.NoError(t, err)
	return e, c
}

func TestEngine_ClientBrokerExchange(t *testing.T) {
	for _, chunk := range []int{0, 1, 13} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			b := newBroker(t, engine.WithSASLServer(&sasl.StaticAuthenticator{
				Credentials: map[string]string{"guest": "guest"},
			}))
			ce, c := newClient(t, engine.WithSASLClient(sasl.Plain{Username: "guest", Password: "guest"}))
			pipe := testutil.NewPipe(ce, b.e)
			pipe.SetChunkSize(chunk)

			require.NoError(t, c.Open())
			s := c.Session()
			require.NoError(t, s.Begin())
			snd := s.Sender("orders")
			snd.SetTarget(&types.Target{Address: "orders"})
			require.NoError(t, snd.Attach())
			require.NoError(t, pipe.Flush())

			require.True(t, c.IsActive())
			require.True(t, s.IsActive())
			require.True(t, snd.IsActive())
			assert.Equal(t, "broker", c.RemoteContainerID())
			assert.Equal(t, uint32(10), snd.Credit())

			var settled []uint32
			snd.DeliveryUpdatedHandler(func(d *engine.Delivery) {
				if d.IsRemotelySettled() {
					settled = append(settled, d.ID())
				}
			})
			for i := range 3 {
				_, err := snd.Send(nil, fmt.Appendf(nil, "order-%d", i), false)
				require.NoError(t, err)
			}
			assert.Equal(t, 3, snd.Unsettled())
			require.NoError(t, pipe.Flush())

			assert.Equal(t, []string{"order-0", "order-1", "order-2"}, b.received)
			assert.Equal(t, []uint32{0, 1, 2}, settled)
			assert.Zero(t, snd.Unsettled())

			require.NoError(t, c.Close())
			require.NoError(t, pipe.Flush())
			assert.True(t, c.IsLocallyClosed())
			assert.True(t, c.IsRemotelyClosed())
			bc := b.e.Connection()
			assert.True(t, bc.IsLocallyClosed())
			assert.True(t, bc.IsRemotelyClosed())
		})
	}
}

func TestEngine_DrainAcrossPipe(t *testing.T) {
	b := newBroker(t)
	ce, c := newClient(t)
	pipe := testutil.NewPipe(ce, b.e)

	require.NoError(t, c.Open())
	s := c.Session()
	require.NoError(t, s.Begin())
	r := s.Receiver("events")
	r.SetSource(&types.Source{Address: "events"})
	require.NoError(t, r.Attach())
	require.NoError(t, pipe.Flush())
	require.Len(t, b.senders, 1)

	// The broker has one message to give whenever credit arrives.
	pending := []string{"only-one"}
	b.senders[0].FlowHandler(func(snd *engine.Sender) {
		for len(pending) > 0 && snd.Credit() > 0 {
			_, err := snd.Send(nil, []byte(pending[0]), true)
			require.NoError(t, err)
			pending = pending[1:]
		}
	})

	var got []string
	r.DeliveryHandler(func(d *engine.Delivery) { got = append(got, string(d.Payload())) })
	var drained []error
	r.DrainHandler(func(_ *engine.Receiver, err error) { drained = append(drained, err) })

	require.NoError(t, r.AddCredit(5))
	require.NoError(t, r.Drain())
	require.NoError(t, pipe.Flush())

	assert.Equal(t, []string{"only-one"}, got)
	require.Len(t, drained, 1)
	assert.NoError(t, drained[0])
	assert.False(t, r.IsDraining())
	assert.Zero(t, r.Credit())
	assert.Equal(t, uint32(5), r.DeliveryCount())
	assert.Equal(t, uint32(5), b.senders[0].DeliveryCount())
}

func TestEngine_BrokerRejectsBadPassword(t *testing.T) {
	b := newBroker(t, engine.WithSASLServer(&sasl.StaticAuthenticator{
		Credentials: map[string]string{"guest": "guest"},
	}))
	ce, c := newClient(t, engine.WithSASLClient(sasl.Plain{Username: "guest", Password: "nope"}))
	pipe := testutil.NewPipe(ce, b.e)

	var clientErr error
	ce.ErrorHandler(func(_ *engine.Engine, err error) { clientErr = err })
	require.NoError(t, c.Open())

	err := pipe.Flush()
	require.Error(t, err)
	assert.True(t, engine.IsSASLFailed(err))
	assert.True(t, b.e.IsFailed())

	// The outcome was queued for the client before the broker failed.
	err = pipe.Flush()
	assert.True(t, engine.IsSASLFailed(err))
	assert.True(t, engine.IsSASLFailed(clientErr))
	assert.Equal(t, engine.StateFailed, ce.State())
}
