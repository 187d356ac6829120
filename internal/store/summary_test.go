package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestTrace(t, s, "t1")

	frames := []Frame{
		{TraceID: "t1", Seq: 1, Direction: DirectionOut, Kind: KindHeader, Performative: "AMQP 0 1.0.0", RecordedAt: epoch},
		createTestFrame("t1", 2, DirectionOut, "open"),
		createTestFrame("t1", 3, DirectionIn, "open"),
		createTestFrame("t1", 4, DirectionOut, "transfer"),
		{TraceID: "t1", Seq: 5, Direction: DirectionIn, Kind: KindHeartbeat, RecordedAt: epoch},
		createTestFrame("t1", 6, DirectionOut, "close"),
	}
	frames[3].PayloadSize = 100
	require.NoError(t, s.WriteFrames(ctx, frames))

	sum, err := s.Summarize(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Frames)
	assert.Equal(t, 4, sum.Outbound)
	assert.Equal(t, 2, sum.Inbound)
	assert.Equal(t, 1, sum.Heartbeats)
	assert.Equal(t, int64(6), sum.LastSeq)
	assert.Equal(t, int64(100), sum.PayloadBytes)
	assert.Equal(t, map[string]int{"open": 2, "transfer": 1, "close": 1}, sum.ByPerformative)
	assert.False(t, sum.Closed, "close seen in one direction only")

	require.NoError(t, s.WriteFrame(ctx, createTestFrame("t1", 7, DirectionIn, "close")))
	sum, err = s.Summarize(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, sum.Closed)
}

func TestSummarize_UnknownTrace(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Summarize(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrTraceNotFound))
}
