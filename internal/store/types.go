package store

import "time"

// Direction is which way a recorded frame travelled.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Kind classifies a recorded row.
type Kind string

const (
	KindHeader    Kind = "header"
	KindAMQP      Kind = "amqp"
	KindSASL      Kind = "sasl"
	KindHeartbeat Kind = "heartbeat"
)

// Trace is one recorded connection.
type Trace struct {
	ID        string
	Label     string
	CreatedAt time.Time
}

// Frame is one recorded protocol header or frame.
//
// For headers, Performative holds the header text ("AMQP 0 1.0.0") and
// Body is empty. For heartbeats both are empty.
type Frame struct {
	TraceID      string
	Seq          int64
	Direction    Direction
	Kind         Kind
	Channel      uint16
	Performative string
	Body         string
	PayloadSize  int
	Digest       string
	RecordedAt   time.Time
}
