package store

import (
	"context"
	"fmt"
)

// WriteTrace inserts a trace record. Writing the same ID twice is a no-op.
func (s *Store) WriteTrace(ctx context.Context, tr Trace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (id, label, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, tr.ID, tr.Label, marshalTime(tr.CreatedAt))
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// WriteFrame inserts a frame record. Uses ON CONFLICT DO NOTHING on
// (trace_id, seq) so re-recording after a crash does not duplicate rows.
// The trace must already exist (foreign key constraint).
func (s *Store) WriteFrame(ctx context.Context, f Frame) error {
	if f.Direction != DirectionIn && f.Direction != DirectionOut {
		return fmt.Errorf("write frame: invalid direction %q", f.Direction)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames
		(trace_id, seq, direction, kind, channel, performative, body, payload_size, digest, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, seq) DO NOTHING
	`,
		f.TraceID,
		f.Seq,
		string(f.Direction),
		string(f.Kind),
		int64(f.Channel),
		f.Performative,
		f.Body,
		f.PayloadSize,
		f.Digest,
		marshalTime(f.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteFrames inserts a batch in one transaction.
func (s *Store) WriteFrames(ctx context.Context, frames []Frame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write frames: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames
		(trace_id, seq, direction, kind, channel, performative, body, payload_size, digest, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write frames: prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		if f.Direction != DirectionIn && f.Direction != DirectionOut {
			return fmt.Errorf("write frames: seq %d: invalid direction %q", f.Seq, f.Direction)
		}
		if _, err := stmt.ExecContext(ctx,
			f.TraceID, f.Seq, string(f.Direction), string(f.Kind), int64(f.Channel),
			f.Performative, f.Body, f.PayloadSize, f.Digest, marshalTime(f.RecordedAt),
		); err != nil {
			return fmt.Errorf("write frames: seq %d: %w", f.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write frames: commit: %w", err)
	}
	return nil
}
