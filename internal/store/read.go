package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrTraceNotFound is returned when a trace ID has no record.
var ErrTraceNotFound = errors.New("trace not found")

// ReadTrace returns one trace record.
func (s *Store) ReadTrace(ctx context.Context, id string) (Trace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, created_at FROM traces WHERE id = ?
	`, id)
	tr, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trace{}, fmt.Errorf("%w: %s", ErrTraceNotFound, id)
	}
	return tr, err
}

// ListTraces returns every trace ordered by creation time, then ID.
func (s *Store) ListTraces(ctx context.Context) ([]Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, created_at FROM traces
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	traces := []Trace{}
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

// Filter narrows ReadFrames. Zero fields match everything.
type Filter struct {
	Direction    Direction
	Performative string
	Channel      *uint16
}

// ReadFrames returns the frames of a trace ordered by seq.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadFrames(ctx context.Context, traceID string, f Filter) ([]Frame, error) {
	where := []string{"trace_id = ?"}
	args := []any{traceID}
	if f.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Performative != "" {
		where = append(where, "performative = ?")
		args = append(args, f.Performative)
	}
	if f.Channel != nil {
		where = append(where, "channel = ?")
		args = append(args, int64(*f.Channel))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, seq, direction, kind, channel, performative, body, payload_size, digest, recorded_at
		FROM frames
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	frames := []Frame{}
	for rows.Next() {
		fr, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}
	return frames, nil
}

// LastSeq returns the highest seq recorded for a trace, or 0 when the
// trace has no frames. A recorder resumes its clock from here.
func (s *Store) LastSeq(ctx context.Context, traceID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM frames WHERE trace_id = ?
	`, traceID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrace(row scanner) (Trace, error) {
	var (
		tr      Trace
		created string
	)
	if err := row.Scan(&tr.ID, &tr.Label, &created); err != nil {
		return Trace{}, fmt.Errorf("scan trace: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return Trace{}, fmt.Errorf("scan trace: %w", err)
	}
	tr.CreatedAt = t
	return tr, nil
}

func scanFrame(row scanner) (Frame, error) {
	var (
		f         Frame
		direction string
		kind      string
		channel   int64
		recorded  string
	)
	if err := row.Scan(&f.TraceID, &f.Seq, &direction, &kind, &channel,
		&f.Performative, &f.Body, &f.PayloadSize, &f.Digest, &recorded); err != nil {
		return Frame{}, fmt.Errorf("scan frame: %w", err)
	}
	t, err := parseTime(recorded)
	if err != nil {
		return Frame{}, fmt.Errorf("scan frame: %w", err)
	}
	f.Direction = Direction(direction)
	f.Kind = Kind(kind)
	f.Channel = uint16(channel)
	f.RecordedAt = t
	return f, nil
}
