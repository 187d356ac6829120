package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/amqpcore/internal/config"
	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/executor"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/trace"
	"github.com/roach88/amqpcore/internal/types"
)

// defaultCreditWindow is the broker's credit window when its profile
// leaves receiver.credit_window unset.
const defaultCreditWindow = 10

// LoopbackOptions holds flags for the loopback command.
type LoopbackOptions struct {
	*RootOptions
	ClientProfile string
	ServerProfile string
	Messages      int
	Address       string
	Database      string
	TraceID       string
	Timeout       time.Duration

	// IDGenerator picks trace IDs when --trace is empty. Defaults to UUIDv7.
	IDGenerator engine.IDGenerator
}

// LoopbackResult is the outcome of one loopback exchange.
type LoopbackResult struct {
	TraceID  string `json:"trace_id,omitempty"`
	Client   string `json:"client"`
	Server   string `json:"server"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
	Settled  int    `json:"settled"`
	Closed   bool   `json:"closed"`
}

func (r LoopbackResult) String() string {
	s := fmt.Sprintf("%s -> %s: sent %d, received %d, settled %d", r.Client, r.Server, r.Sent, r.Received, r.Settled)
	if r.Closed {
		s += ", connection closed"
	}
	if r.TraceID != "" {
		s += fmt.Sprintf(" (trace %s)", r.TraceID)
	}
	return s
}

// NewLoopbackCommand creates the loopback command.
func NewLoopbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoopbackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run a client and a broker engine against each other",
		Long: `Run two engines in-process, wired back to back on a single executor.

The client opens a connection, begins a session, attaches a sender and
sends --messages unsettled messages as credit allows. The broker accepts
everything and grants credit from its receiver credit window. Once every
delivery is settled the client closes the connection.

Profiles configure either side (see "amqpcore config"). With --db the
client's view of the exchange is recorded as a trace.

Examples:
  amqpcore loopback --messages 10
  amqpcore loopback --client client.yaml --server broker.cue --db ./traces.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopback(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ClientProfile, "client", "", "client engine profile (YAML or CUE)")
	cmd.Flags().StringVar(&opts.ServerProfile, "server", "", "broker engine profile (YAML or CUE)")
	cmd.Flags().IntVarP(&opts.Messages, "messages", "n", 3, "number of messages to send")
	cmd.Flags().StringVar(&opts.Address, "address", "loopback", "target address of the sender link")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the client's traffic into this SQLite database")
	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "trace ID when recording (default: new UUIDv7)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "give up after this long")

	return cmd
}

// side is one engine with the options built from its profile.
type side struct {
	engine   *engine.Engine
	conn     *engine.Connection
	receiver engine.ReceiverOptions
}

// sideProfile loads the profile at path, or an empty profile when path is
// empty so that every setting falls back to the engine defaults.
func sideProfile(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return loadProfile(path)
}

func newSide(cfg *config.Config, defaultID string, logger *slog.Logger) (*side, error) {
	more, err := cfg.Options(logger)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid profile", err)
	}
	ro, err := cfg.ReceiverOptions()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid profile", err)
	}
	opts := append([]engine.Option{engine.WithContainerID(defaultID), engine.WithLogger(logger)}, more...)
	e := engine.New(opts...)
	c, err := e.Start()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to start engine", err)
	}
	return &side{engine: e, conn: c, receiver: ro}, nil
}

// exchange holds the state of one loopback run. Every field is touched
// only from the executor goroutine.
type exchange struct {
	ex     *executor.Executor
	log    *slog.Logger
	result LoopbackResult
	err    error
}

func (x *exchange) fail(err error) {
	if x.err == nil {
		x.err = err
		x.log.Error("loopback failed", "error", err)
	}
	x.ex.Close()
}

// forward queues b for delivery to the other side. Output after the
// executor closed is dropped.
func (x *exchange) forward(b []byte, deliver func([]byte) error) {
	buf := bytes.Clone(b)
	if err := x.ex.Submit(func() error { return deliver(buf) }); err != nil && !errors.Is(err, executor.ErrClosed) {
		x.fail(err)
	}
}

func runLoopback(opts *LoopbackOptions, cmd *cobra.Command) error {
	if opts.Messages < 1 {
		return NewExitError(ExitCommandError, "--messages must be at least 1")
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	out := opts.formatter(cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	clientCfg, err := sideProfile(opts.ClientProfile)
	if err != nil {
		return err
	}
	serverCfg, err := sideProfile(opts.ServerProfile)
	if err != nil {
		return err
	}
	client, err := newSide(clientCfg, "loopback-client", logger.With("side", "client"))
	if err != nil {
		return err
	}
	server, err := newSide(serverCfg, "loopback-broker", logger.With("side", "server"))
	if err != nil {
		return err
	}
	if server.receiver.CreditWindow == 0 {
		server.receiver.CreditWindow = defaultCreditWindow
	}

	x := &exchange{log: logger}
	x.ex = executor.New(executor.WithLogger(logger), executor.WithErrorHandler(x.fail))
	x.result.Client = client.conn.ContainerID()
	x.result.Server = server.conn.ContainerID()

	var rec *trace.Recorder
	if opts.Database != "" {
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
		rec, err = trace.NewRecorder(ctx, st, traceID, trace.WithLabel("loopback "+x.result.Client), trace.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace", err)
		}
		x.result.TraceID = traceID
	}

	toServer := func(b []byte) { x.forward(b, server.engine.Ingest) }
	toClient := func(b []byte) { x.forward(b, client.engine.Ingest) }
	if rec != nil {
		toServer = rec.Output(ctx, toServer)
		toClient = func(b []byte) {
			x.forward(b, func(buf []byte) error { return rec.Ingest(ctx, client.engine, buf) })
		}
	}
	client.engine.OutputHandler(toServer)
	server.engine.OutputHandler(toClient)

	serveBroker(x, server)
	if err := x.ex.Submit(func() error { return startClient(x, client, opts) }); err != nil {
		return WrapExitError(ExitFailure, "failed to start exchange", err)
	}

	if err := x.ex.Run(ctx); err != nil && x.err == nil {
		x.err = fmt.Errorf("exchange did not finish: %w", err)
	}
	if rec != nil && x.err == nil {
		x.err = rec.Err()
	}
	x.result.Closed = client.conn.IsLocallyClosed() && client.conn.IsRemotelyClosed()

	if x.err != nil {
		_ = out.Error(CodeExchange, "loopback exchange failed", x.err.Error())
		return WrapExitError(ExitFailure, "loopback exchange failed", x.err)
	}
	return out.SuccessWithTrace(x.result.TraceID, x.result)
}

// serveBroker installs broker behaviour: open and begin whatever the peer
// opens, grant credit to incoming links and accept every delivery.
func serveBroker(x *exchange, s *side) {
	s.conn.OpenHandler(func(c *engine.Connection) {
		if err := c.Open(); err != nil {
			x.fail(err)
		}
	})
	s.conn.SessionOpenHandler(func(sess *engine.Session) {
		sess.ReceiverOpenHandler(func(r *engine.Receiver) {
			if err := s.receiver.Apply(r); err != nil {
				x.fail(err)
				return
			}
			r.DeliveryHandler(func(d *engine.Delivery) {
				x.result.Received++
				if err := d.Accept(); err != nil {
					x.fail(err)
				}
			})
			if err := r.Attach(); err != nil {
				x.fail(err)
			}
		})
		sess.SenderOpenHandler(func(snd *engine.Sender) {
			_ = snd.CloseWithError(types.NewError(types.ErrNotImplemented, "loopback broker only receives"))
		})
		if err := sess.Begin(); err != nil {
			x.fail(err)
		}
	})
}

// startClient opens the client side and sends as credit arrives. The
// executor stops once the broker answers the client's close.
func startClient(x *exchange, s *side, opts *LoopbackOptions) error {
	s.conn.CloseHandler(func(*engine.Connection) { x.ex.Close() })
	if err := s.conn.Open(); err != nil {
		return err
	}
	sess := s.conn.Session()
	if err := sess.Begin(); err != nil {
		return err
	}

	snd := sess.Sender(opts.Address)
	snd.SetTarget(&types.Target{Address: opts.Address})
	snd.FlowHandler(func(snd *engine.Sender) {
		for x.result.Sent < opts.Messages && snd.Credit() > 0 {
			payload := fmt.Appendf(nil, "message-%d", x.result.Sent)
			if _, err := snd.Send(nil, payload, false); err != nil {
				x.fail(err)
				return
			}
			x.result.Sent++
		}
	})
	snd.DeliveryUpdatedHandler(func(d *engine.Delivery) {
		if !d.IsRemotelySettled() {
			return
		}
		x.result.Settled++
		if x.result.Settled == opts.Messages {
			if err := s.conn.Close(); err != nil {
				x.fail(err)
			}
		}
	})
	return snd.Attach()
}
