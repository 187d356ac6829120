package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/amqpcore/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database     string
	TraceID      string
	Channel      int // -1 matches every channel
	Performative string
	Direction    string
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	TraceID string      `json:"trace_id"`
	Label   string      `json:"label,omitempty"`
	Frames  []FrameView `json:"frames"`
	Stats   TraceStats  `json:"stats"`
}

// TraceStats holds summary statistics for the whole trace, regardless of
// filters.
type TraceStats struct {
	Frames         int            `json:"frames"`
	Inbound        int            `json:"inbound"`
	Outbound       int            `json:"outbound"`
	Heartbeats     int            `json:"heartbeats"`
	PayloadBytes   int64          `json:"payload_bytes"`
	ByPerformative map[string]int `json:"by_performative"`
	Closed         bool           `json:"closed"`
}

// TraceListItem is one row of the trace listing.
type TraceListItem struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	CreatedAt string `json:"created_at"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query recorded frame traces",
		Long: `Query a trace database written by "record" or "loopback --db".

Without --trace, lists the recorded traces. With --trace, prints the
trace's frames in sequence order followed by summary statistics. Filters
narrow the frame list but not the statistics.

Examples:
  amqpcore trace --db ./traces.db
  amqpcore trace --db ./traces.db --trace conn-1
  amqpcore trace --db ./traces.db --trace conn-1 --channel 0 --performative transfer
  amqpcore trace --db ./traces.db --trace conn-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "trace to show")
	cmd.Flags().IntVar(&opts.Channel, "channel", -1, "only frames on this channel")
	cmd.Flags().StringVar(&opts.Performative, "performative", "", "only frames with this performative (open, transfer, ...)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "only frames in this direction (in|out)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	filter, err := opts.filter()
	if err != nil {
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.TraceID == "" {
		return listTraces(ctx, opts, st, cmd)
	}

	tr, err := st.ReadTrace(ctx, opts.TraceID)
	if errors.Is(err, store.ErrTraceNotFound) {
		return WrapExitError(ExitCommandError, "unknown trace", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	frames, err := st.ReadFrames(ctx, opts.TraceID, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read frames", err)
	}
	sum, err := st.Summarize(ctx, opts.TraceID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize trace", err)
	}

	result := TraceResult{
		TraceID: tr.ID,
		Label:   tr.Label,
		Frames:  make([]FrameView, 0, len(frames)),
		Stats: TraceStats{
			Frames:         sum.Frames,
			Inbound:        sum.Inbound,
			Outbound:       sum.Outbound,
			Heartbeats:     sum.Heartbeats,
			PayloadBytes:   sum.PayloadBytes,
			ByPerformative: sum.ByPerformative,
			Closed:         sum.Closed,
		},
	}
	for _, f := range frames {
		result.Frames = append(result.Frames, viewFrame(f))
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).SuccessWithTrace(tr.ID, result)
	}
	outputTraceText(cmd.OutOrStdout(), result)
	return nil
}

func (o *TraceOptions) filter() (store.Filter, error) {
	var f store.Filter
	switch o.Direction {
	case "":
	case string(store.DirectionIn), string(store.DirectionOut):
		f.Direction = store.Direction(o.Direction)
	default:
		return f, NewExitError(ExitCommandError, fmt.Sprintf("invalid direction %q: must be in or out", o.Direction))
	}
	if o.Channel >= 0 {
		if o.Channel > 65535 {
			return f, NewExitError(ExitCommandError, fmt.Sprintf("invalid channel %d", o.Channel))
		}
		ch := uint16(o.Channel)
		f.Channel = &ch
	}
	f.Performative = o.Performative
	return f, nil
}

func listTraces(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	traces, err := st.ListTraces(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list traces", err)
	}
	items := make([]TraceListItem, len(traces))
	for i, tr := range traces {
		items[i] = TraceListItem{ID: tr.ID, Label: tr.Label, CreatedAt: tr.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(items)
	}
	w := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(w, "No traces recorded")
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(w, "%s  %s  %s\n", it.ID, it.CreatedAt, it.Label)
	}
	return nil
}

func viewFrame(f store.Frame) FrameView {
	v := FrameView{
		Seq:          f.Seq,
		Direction:    string(f.Direction),
		Kind:         string(f.Kind),
		Channel:      f.Channel,
		Performative: f.Performative,
		PayloadSize:  f.PayloadSize,
	}
	if f.Body != "" {
		v.Body = json.RawMessage(f.Body)
	}
	return v
}

func outputTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Trace: %s", result.TraceID)
	if result.Label != "" {
		fmt.Fprintf(w, " (%s)", result.Label)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Status: %s\n", closedStatus(result.Stats.Closed))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Frames ===")
	if len(result.Frames) == 0 {
		fmt.Fprintln(w, "  (no frames)")
	}
	for _, f := range result.Frames {
		fmt.Fprintln(w, f.String())
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Frames:     %d (in %d, out %d)\n", result.Stats.Frames, result.Stats.Inbound, result.Stats.Outbound)
	fmt.Fprintf(w, "  Heartbeats: %d\n", result.Stats.Heartbeats)
	fmt.Fprintf(w, "  Payload:    %d bytes\n", result.Stats.PayloadBytes)
	for _, name := range slices.Sorted(maps.Keys(result.Stats.ByPerformative)) {
		fmt.Fprintf(w, "  %-12s %d\n", name+":", result.Stats.ByPerformative[name])
	}
}

func closedStatus(closed bool) string {
	if closed {
		return "Closed"
	}
	return "Open (close not seen in both directions)"
}
