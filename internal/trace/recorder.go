// Package trace records engine traffic into a store.
//
// A Recorder sits between an engine and its transport. Outbound bytes pass
// through Output on their way to the socket and inbound bytes through
// Ingest on their way into the engine. Each direction is split into
// headers and frames and every one becomes a row stamped by a shared
// Clock.
//
// Thread-safety model: a Recorder is driven by the same goroutine that
// drives its engine. It takes no locks of its own.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/store"
)

// Recorder writes the traffic of one connection as one trace.
type Recorder struct {
	st      *store.Store
	traceID string
	clock   *Clock
	now     func() time.Time
	log     *slog.Logger

	in, out *Splitter
	ctx     context.Context
	err     error
}

// Option configures a Recorder.
type Option func(*recorderConfig)

type recorderConfig struct {
	label  string
	now    func() time.Time
	logger *slog.Logger
}

// WithLabel sets the label stored with a new trace.
func WithLabel(label string) Option {
	return func(c *recorderConfig) { c.label = label }
}

// WithNow replaces time.Now for recorded_at stamps.
func WithNow(now func() time.Time) Option {
	return func(c *recorderConfig) { c.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *recorderConfig) { c.logger = l }
}

// NewRecorder opens (or creates) trace traceID in st. Reopening an
// existing trace continues its sequence after the last recorded frame.
func NewRecorder(ctx context.Context, st *store.Store, traceID string, opts ...Option) (*Recorder, error) {
	cfg := recorderConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	if err := st.WriteTrace(ctx, store.Trace{ID: traceID, Label: cfg.label, CreatedAt: cfg.now()}); err != nil {
		return nil, fmt.Errorf("new recorder: %w", err)
	}
	last, err := st.LastSeq(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("new recorder: %w", err)
	}

	r := &Recorder{
		st:      st,
		traceID: traceID,
		clock:   NewClockAt(last),
		now:     cfg.now,
		log:     cfg.logger.With("trace", traceID),
	}
	r.in = NewSplitter(func(e Entry) error { return r.write(store.DirectionIn, e) })
	r.out = NewSplitter(func(e Entry) error { return r.write(store.DirectionOut, e) })
	return r, nil
}

// TraceID returns the trace this recorder writes to.
func (r *Recorder) TraceID() string { return r.traceID }

// Seq returns the seq of the last recorded row.
func (r *Recorder) Seq() int64 { return r.clock.Current() }

// Buffered reports bytes held back in either direction waiting for the
// rest of a frame.
func (r *Recorder) Buffered() int { return r.in.Buffered() + r.out.Buffered() }

// Err returns the first error seen by Output, if any.
func (r *Recorder) Err() error { return r.err }

// Record splits b as traffic in direction dir and stores what it finds.
func (r *Recorder) Record(ctx context.Context, dir store.Direction, b []byte) error {
	r.ctx = ctx
	defer func() { r.ctx = nil }()
	switch dir {
	case store.DirectionIn:
		return r.in.Write(b)
	case store.DirectionOut:
		return r.out.Write(b)
	}
	return fmt.Errorf("record: invalid direction %q", dir)
}

// Ingest records b as inbound and then hands it to e. A recording failure
// is returned without touching the engine.
func (r *Recorder) Ingest(ctx context.Context, e *engine.Engine, b []byte) error {
	if err := r.Record(ctx, store.DirectionIn, b); err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}
	return e.Ingest(b)
}

// Output wraps an engine output handler: bytes are recorded as outbound,
// then passed to next. Output handlers cannot fail, so the first recording
// error is kept for Err and logged, and the bytes are still forwarded.
func (r *Recorder) Output(ctx context.Context, next func([]byte)) func([]byte) {
	return func(b []byte) {
		if err := r.Record(ctx, store.DirectionOut, b); err != nil && r.err == nil {
			r.err = fmt.Errorf("record outbound: %w", err)
			r.log.Error("recording failed", "direction", store.DirectionOut, "error", err)
		}
		if next != nil {
			next(b)
		}
	}
}

func (r *Recorder) write(dir store.Direction, e Entry) error {
	body, digest, err := store.MarshalBody(e.Body, e.Payload)
	if err != nil {
		return err
	}
	name := ""
	if e.Kind != store.KindHeartbeat {
		name = e.Name()
	}
	f := store.Frame{
		TraceID:      r.traceID,
		Seq:          r.clock.Next(),
		Direction:    dir,
		Kind:         e.Kind,
		Channel:      e.Channel,
		Performative: name,
		Body:         body,
		PayloadSize:  len(e.Payload),
		Digest:       digest,
		RecordedAt:   r.now(),
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.st.WriteFrame(ctx, f); err != nil {
		return err
	}
	r.log.Debug("recorded", "seq", f.Seq, "direction", dir, "channel", f.Channel, "frame", name)
	return nil
}
