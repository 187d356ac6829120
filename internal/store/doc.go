// Package store provides SQLite-backed storage for recorded AMQP frame
// traces.
//
// A trace is one captured connection. Each frame or protocol header seen
// in either direction becomes one row in frames, stamped with a sequence
// number from the recorder's logical clock.
//
// # Ordering
//
//   - All ordering uses seq (logical clock), never recorded_at
//   - All frame queries use ORDER BY seq ASC
//   - (trace_id, seq) is unique; rewriting a row is a no-op
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: frames must belong to a trace
//
// The schema carries a single version, recorded in user_version; Open
// refuses databases written by a later version.
//
// Frame bodies are stored as canonical JSON from internal/render, and the
// digest column is render.FrameDigest of body and payload.
package store
