package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTrace writes a trace record and fails the test on error.
func createTestTrace(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.WriteTrace(context.Background(), Trace{ID: id, Label: "test", CreatedAt: epoch}); err != nil {
		t.Fatalf("WriteTrace() failed: %v", err)
	}
}

// createTestFrame builds an AMQP frame record with minimal fields.
func createTestFrame(traceID string, seq int64, dir Direction, perf string) Frame {
	return Frame{
		TraceID:      traceID,
		Seq:          seq,
		Direction:    dir,
		Kind:         KindAMQP,
		Performative: perf,
		Body:         `{"$type":"` + perf + `"}`,
		RecordedAt:   epoch.Add(time.Duration(seq) * time.Millisecond),
	}
}
