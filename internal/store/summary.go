package store

import (
	"context"
	"fmt"
)

// Summary aggregates a trace for the CLI and for checking a recording
// ran to completion.
type Summary struct {
	TraceID        string
	Frames         int
	Inbound        int
	Outbound       int
	Heartbeats     int
	LastSeq        int64
	PayloadBytes   int64
	ByPerformative map[string]int
	// Closed is true once close was seen in both directions.
	Closed bool
}

// Summarize computes a Summary in a single pass over the trace's frames.
func (s *Store) Summarize(ctx context.Context, traceID string) (Summary, error) {
	if _, err := s.ReadTrace(ctx, traceID); err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	frames, err := s.ReadFrames(ctx, traceID, Filter{})
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}

	sum := Summary{TraceID: traceID, ByPerformative: map[string]int{}}
	var closedIn, closedOut bool
	for _, f := range frames {
		sum.Frames++
		sum.LastSeq = max(sum.LastSeq, f.Seq)
		sum.PayloadBytes += int64(f.PayloadSize)
		if f.Direction == DirectionIn {
			sum.Inbound++
		} else {
			sum.Outbound++
		}
		switch f.Kind {
		case KindHeartbeat:
			sum.Heartbeats++
		case KindAMQP, KindSASL:
			sum.ByPerformative[f.Performative]++
		}
		if f.Performative == "close" {
			if f.Direction == DirectionIn {
				closedIn = true
			} else {
				closedOut = true
			}
		}
	}
	sum.Closed = closedIn && closedOut
	return sum, nil
}
