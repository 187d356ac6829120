package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/amqpcore/internal/codec"
)

// State is the lifecycle state of an Engine.
type State uint8

const (
	StateIdle State = iota
	StateStarted
	StateFailed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateFailed:
		return "failed"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Engine is a sans-I/O AMQP 1.0 protocol engine for one connection.
//
// Bytes read from a transport go in through Ingest; bytes to write come out
// through the output handler. Every call runs to completion before it
// returns and the engine starts no goroutines.
//
// Thread-safety model:
//   - Engine is NOT safe for concurrent use; one goroutine at a time
//   - handlers run on the calling goroutine, inside the call that caused them
//   - handlers may call back into the engine, except Ingest
//
// INVARIANTS:
//   - exactly one Connection, created by the first Start
//   - the failure cause is set at most once and the error handler runs at
//     most once
//   - once failed or shut down, nothing is emitted and every call is
//     rejected with ENGINE_FAILED
type Engine struct {
	cfg  settings
	log  *slog.Logger
	conn *Connection
	pipe *pipeline

	started  bool
	failed   bool
	shutdown bool
	cause    error

	output          func([]byte)
	errorHandler    func(*Engine, error)
	shutdownHandler func(*Engine)
}

// New creates an Engine. It does nothing until Start.
func New(opts ...Option) *Engine {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{cfg: cfg, log: log}
	e.pipe = newPipeline(e)
	return e
}

// Start moves the engine to Started and returns its Connection. Calling it
// again returns the same Connection. Start writes nothing: the protocol
// header goes out with the first frame or in answer to the peer's header.
func (e *Engine) Start() (*Connection, error) {
	if e.failed || e.shutdown {
		return nil, e.rejected()
	}
	if e.started {
		return e.conn, nil
	}
	containerID := e.cfg.containerID
	if containerID == "" {
		containerID = e.cfg.idGen.Generate()
	}
	e.conn = newConnection(e, containerID)
	e.started = true
	e.log.Info("engine started", "container_id", containerID, "sasl", e.pipe.saslMode())
	return e.conn, nil
}

// Connection returns the connection created by Start, or nil before it.
func (e *Engine) Connection() *Connection {
	return e.conn
}

// Ingest feeds bytes read from the transport. b may hold any part of the
// stream; incomplete frames are kept until the rest arrives. b is not
// retained after Ingest returns.
//
// A decode error, protocol violation or SASL failure fails the engine: the
// error handler runs, every endpoint is force-closed and the error is
// returned. If a handler failed or shut down the engine instead, Ingest
// returns ENGINE_FAILED.
func (e *Engine) Ingest(b []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.pipe.ingest(b); err != nil {
		if e.failed || e.shutdown {
			// a handler failed or shut down the engine mid-ingest
			return e.rejected()
		}
		return e.fatal(err)
	}
	if e.failed || e.shutdown {
		return e.rejected()
	}
	return nil
}

// Shutdown stops the engine for good. Endpoints are force-closed without
// writing anything and the shutdown handler runs once.
func (e *Engine) Shutdown() {
	if e.shutdown {
		return
	}
	e.shutdown = true
	e.log.Info("engine shutdown")
	if e.shutdownHandler != nil {
		e.shutdownHandler(e)
	}
	if e.conn != nil {
		e.conn.force()
	}
}

// EngineFailed fails the engine from outside, typically because the
// transport broke. It returns the error now reported by FailureCause.
func (e *Engine) EngineFailed(cause error) error {
	if e.failed || e.shutdown {
		return e.rejected()
	}
	var ee *Error
	if !errors.As(cause, &ee) {
		ee = newError(ErrCodeEngineFailed, cause, "engine failed")
	}
	e.fail(ee)
	return ee
}

// OutputHandler sets the sink for outbound bytes. It receives one protocol
// header or one frame per call, in the order they were produced.
func (e *Engine) OutputHandler(fn func([]byte)) {
	e.output = fn
}

// ErrorHandler sets the callback run once when the engine fails.
func (e *Engine) ErrorHandler(fn func(*Engine, error)) {
	e.errorHandler = fn
}

// ShutdownHandler sets the callback run once by Shutdown.
func (e *Engine) ShutdownHandler(fn func(*Engine)) {
	e.shutdownHandler = fn
}

// State returns the lifecycle state. A failed engine stays Failed after
// Shutdown.
func (e *Engine) State() State {
	switch {
	case e.failed:
		return StateFailed
	case e.shutdown:
		return StateShutdown
	case e.started:
		return StateStarted
	}
	return StateIdle
}

// IsWritable reports whether the engine can still produce output.
func (e *Engine) IsWritable() bool {
	return e.started && !e.failed && !e.shutdown
}

// IsFailed reports whether the engine has failed.
func (e *Engine) IsFailed() bool { return e.failed }

// IsShutdown reports whether Shutdown has been called.
func (e *Engine) IsShutdown() bool { return e.shutdown }

// FailureCause returns the error that failed the engine, or nil.
func (e *Engine) FailureCause() error {
	return e.cause
}

// Symbols returns the symbol table used by the engine's decoder.
func (e *Engine) Symbols() *codec.SymbolTable {
	return e.pipe.symbols
}

func (e *Engine) check() error {
	if e.failed || e.shutdown {
		return e.rejected()
	}
	if !e.started {
		return newError(ErrCodeNotStarted, nil, "engine not started")
	}
	return nil
}

func (e *Engine) rejected() error {
	if e.failed {
		return newError(ErrCodeEngineFailed, e.cause, "engine failed")
	}
	return newError(ErrCodeEngineFailed, nil, "engine shut down")
}

// fatal turns an error from frame processing into a fatal engine error
// and fails the engine with it.
func (e *Engine) fatal(err error) error {
	ee := classify(err)
	e.fail(ee)
	return ee
}

// fail is the single path into the Failed state.
func (e *Engine) fail(err *Error) {
	if e.failed || e.shutdown {
		return
	}
	e.failed = true
	e.cause = err
	e.log.Error("engine failed", "code", string(err.Code), "error", err)
	if e.errorHandler != nil {
		e.errorHandler(e, err)
	}
	if e.conn != nil {
		e.conn.force()
	}
}

func (e *Engine) emit(b []byte) {
	if !e.IsWritable() {
		return
	}
	if e.output == nil {
		e.log.Warn("no output handler, dropping bytes", "len", len(b))
		return
	}
	e.output(b)
}
