// Package engine implements the AMQP 1.0 connection, session and link state
// machines on top of the frame and sasl packages, without owning any I/O.
//
// ARCHITECTURE:
//
// Push-only pipeline:
// The caller feeds transport bytes to Engine.Ingest and writes whatever the
// output handler receives. In between:
//  1. frame.Parser splits the bytes into protocol headers and frames,
//     whatever the chunking
//  2. the pipeline answers headers and runs SASL when configured
//  3. AMQP frames are dispatched to the Connection, then by channel to a
//     Session, then by handle to a Sender or Receiver
//  4. state changes run handlers and may queue performatives
//  5. frame.Writer encodes each performative into exactly one output call
//
// Every endpoint tracks a local and a remote EndpointState. Local moves on
// API calls (Open, Begin, Attach, Close, End, Detach), remote on decoded
// performatives. An endpoint is removed once both sides are closed. When
// the peer closes first the engine answers with the matching closing
// performative itself, after the close handler had its chance to do so.
//
// Failure:
// Decode errors, protocol violations and SASL failures fail the engine.
// The error handler runs once, every endpoint is force-closed without wire
// traffic (each close handler still runs exactly once), and every later
// call returns ENGINE_FAILED.
//
// CRITICAL PATTERNS:
//
// Single-thread affinity:
// The engine has no locks and starts no goroutines. One goroutine at a time
// may call it; internal/executor provides a serializer for callers that
// need one.
//
// No timers:
// Drain timeouts are driven from outside through Receiver.ExpireDrain.
package engine
