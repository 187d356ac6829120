package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/trace"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database  string
	TraceID   string
	Label     string
	Direction string
	Hex       bool

	// IDGenerator picks trace IDs when --trace is empty. Defaults to UUIDv7.
	IDGenerator engine.IDGenerator
}

// RecordResult is the payload of the record command.
type RecordResult struct {
	TraceID string `json:"trace_id"`
	Frames  int    `json:"frames"`
	LastSeq int64  `json:"last_seq"`
}

func (r RecordResult) String() string {
	return fmt.Sprintf("Recorded %d frames into trace %s (last seq %d)", r.Frames, r.TraceID, r.LastSeq)
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <capture>",
		Short: "Store a decoded capture in a trace database",
		Long: `Decode one direction of a raw AMQP capture and store every header and
frame in a SQLite trace database. Recording the other direction into the
same trace continues its sequence.

Examples:
  amqpcore record --db ./traces.db --trace conn-1 client.bin
  amqpcore record --db ./traces.db --trace conn-1 --direction in broker.bin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "trace ID (default: new UUIDv7)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label stored with a new trace")
	cmd.Flags().StringVar(&opts.Direction, "direction", "out", "direction of the capture (in|out)")
	cmd.Flags().BoolVar(&opts.Hex, "hex", false, "capture is hex text instead of raw bytes")

	return cmd
}

func runRecord(opts *RecordOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	dir := store.Direction(opts.Direction)
	if dir != store.DirectionIn && dir != store.DirectionOut {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid direction %q: must be in or out", opts.Direction))
	}

	data, err := readCapture(path, cmd.InOrStdin(), opts.Hex)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read capture", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	traceID := opts.TraceID
	if traceID == "" {
		gen := opts.IDGenerator
		if gen == nil {
			gen = engine.UUIDv7Generator{}
		}
		traceID = gen.Generate()
	}

	rec, err := trace.NewRecorder(ctx, st, traceID,
		trace.WithLabel(opts.Label),
		trace.WithLogger(newLogger(cmd.ErrOrStderr(), opts.Verbose)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace", err)
	}
	startSeq := rec.Seq()

	if err := rec.Record(ctx, dir, data); err != nil {
		return WrapExitError(ExitFailure, "failed to record capture", err)
	}

	if n := rec.Buffered(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("capture ends mid-frame: %d bytes not recorded", n))
	}

	result := RecordResult{
		TraceID: traceID,
		Frames:  int(rec.Seq() - startSeq),
		LastSeq: rec.Seq(),
	}
	return out.SuccessWithTrace(traceID, result)
}
