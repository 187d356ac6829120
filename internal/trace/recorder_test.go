package trace

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/testutil"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newEngine(t *testing.T, id string) (*engine.Engine, *engine.Connection) {
	t.Helper()
	e := engine.New(engine.WithContainerID(id), engine.WithLogger(quiet()))
	c, err := e.Start()
	require.NoError(t, err)
	return e, c
}

func TestRecorder_RecordsBothDirections(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := testutil.NewDeterministicClock(start, time.Millisecond)
	rec, err := NewRecorder(ctx, st, "conn-1", WithLabel("client"), WithNow(clock.Now), WithLogger(quiet()))
	require.NoError(t, err)

	client, cc := newEngine(t, "client")
	server, sc := newEngine(t, "server")
	sc.OpenHandler(func(c *engine.Connection) { require.NoError(t, c.Open()) })

	pipe := testutil.NewPipe(client, server)
	pipe.Wire = func(from string, b []byte) {
		dir := store.DirectionIn
		if from == "A" {
			dir = store.DirectionOut
		}
		require.NoError(t, rec.Record(ctx, dir, b))
	}

	require.NoError(t, cc.Open())
	require.NoError(t, pipe.Flush())
	require.NoError(t, cc.Close())
	require.NoError(t, pipe.Flush())

	frames, err := st.ReadFrames(ctx, "conn-1", store.Filter{})
	require.NoError(t, err)
	var got []string
	for _, f := range frames {
		got = append(got, string(f.Direction)+" "+f.Performative)
	}
	assert.Equal(t, []string{
		"out AMQP 0 1.0.0",
		"out open",
		"in AMQP 0 1.0.0",
		"in open",
		"out close",
		"in close",
	}, got)

	// The trace takes the first tick when it is opened; each frame the next.
	for i, f := range frames {
		assert.Equal(t, int64(i+1), f.Seq)
		assert.True(t, f.RecordedAt.Equal(start.Add(time.Duration(i+1)*time.Millisecond)), "frame %d stamped %s", i, f.RecordedAt)
	}
	assert.Equal(t, int64(7), clock.Calls())
	assert.Contains(t, frames[1].Body, `"container_id":"client"`)
	assert.Len(t, frames[1].Digest, 64)
	assert.Empty(t, frames[0].Body, "headers carry no body")

	sum, err := st.Summarize(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, sum.Closed)
	assert.Equal(t, int64(6), rec.Seq())

	tr, err := st.ReadTrace(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "client", tr.Label)
	assert.True(t, tr.CreatedAt.Equal(start), "trace stamped %s", tr.CreatedAt)
}

func TestRecorder_ResumesSequence(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	first, err := NewRecorder(ctx, st, "conn-1", WithLogger(quiet()))
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, store.DirectionOut, newStream(t).header(frame.AMQPHeader).bytes()))
	assert.Equal(t, int64(1), first.Seq())

	second, err := NewRecorder(ctx, st, "conn-1", WithLogger(quiet()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Seq())
	require.NoError(t, second.Record(ctx, store.DirectionIn, newStream(t).header(frame.AMQPHeader).bytes()))

	frames, err := st.ReadFrames(ctx, "conn-1", store.Filter{})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(2), frames[1].Seq)
}

func TestRecorder_OutputAndIngest(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rec, err := NewRecorder(ctx, st, "conn-1", WithLogger(quiet()))
	require.NoError(t, err)

	client, cc := newEngine(t, "client")
	server, sc := newEngine(t, "server")
	sc.OpenHandler(func(c *engine.Connection) { require.NoError(t, c.Open()) })

	var toServer, toClient [][]byte
	client.OutputHandler(rec.Output(ctx, func(b []byte) { toServer = append(toServer, append([]byte(nil), b...)) }))
	server.OutputHandler(func(b []byte) { toClient = append(toClient, append([]byte(nil), b...)) })

	require.NoError(t, cc.Open())
	for _, b := range toServer {
		require.NoError(t, server.Ingest(b))
	}
	for _, b := range toClient {
		require.NoError(t, rec.Ingest(ctx, client, b))
	}
	assert.True(t, cc.IsActive())
	assert.NoError(t, rec.Err())

	sum, err := st.Summarize(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Outbound)
	assert.Equal(t, 2, sum.Inbound)
}

func TestRecorder_BadInput(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	rec, err := NewRecorder(ctx, st, "conn-1", WithLogger(quiet()))
	require.NoError(t, err)

	client, _ := newEngine(t, "client")
	err = rec.Ingest(ctx, client, []byte("GARBAGE!"))
	assert.ErrorContains(t, err, "record inbound")
	assert.Equal(t, engine.StateStarted, client.State(), "engine untouched")

	var forwarded int
	out := rec.Output(ctx, func([]byte) { forwarded++ })
	out([]byte("GARBAGE!"))
	assert.Error(t, rec.Err())
	assert.Equal(t, 1, forwarded, "bytes still forwarded")

	assert.Error(t, rec.Record(ctx, "sideways", nil))
}
