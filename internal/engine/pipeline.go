package engine

import (
	"errors"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/sasl"
	"github.com/roach88/amqpcore/internal/types"
)

// pipeline sits between the bytes and the connection. It answers protocol
// headers, runs the optional SASL layer and holds back AMQP frames until
// the AMQP layer may carry them.
type pipeline struct {
	e       *Engine
	symbols *codec.SymbolTable
	parser  *frame.Parser
	writer  *frame.Writer
	sasl    *sasl.Negotiator

	saslHeaderSent     bool
	saslHeaderReceived bool
	amqpHeaderSent     bool
	amqpHeaderReceived bool

	// pending holds encoded AMQP frames produced before the AMQP header
	// could go out.
	pending [][]byte
}

func newPipeline(e *Engine) *pipeline {
	symbols := codec.NewSymbolTable()
	p := &pipeline{
		e:       e,
		symbols: symbols,
		parser:  frame.NewParser(codec.NewDecoder(types.NewRegistry(), symbols)),
		writer:  frame.NewWriter(codec.NewEncoder()),
	}
	p.parser.SetMaxFrameSize(e.cfg.maxFrameSize)
	switch {
	case len(e.cfg.saslClient) > 0:
		p.sasl = sasl.NewClient(e.cfg.hostname, e.cfg.saslClient...)
	case e.cfg.saslServer != nil:
		p.sasl = sasl.NewServer(e.cfg.saslServer)
	}
	return p
}

func (p *pipeline) saslMode() string {
	switch {
	case p.sasl == nil:
		return "none"
	case p.sasl.IsServer():
		return "server"
	}
	return "client"
}

func (p *pipeline) ingest(b []byte) error {
	return p.parser.Ingest(b, p)
}

// saslPending reports whether SASL is configured and has not yet succeeded.
func (p *pipeline) saslPending() bool {
	return p.sasl != nil && p.sasl.State() != sasl.StateSucceeded
}

// amqpReady reports whether AMQP frames may be written now. After SASL a
// server waits for the client's AMQP header before sending its own.
func (p *pipeline) amqpReady() bool {
	if p.sasl == nil {
		return true
	}
	if p.saslPending() {
		return false
	}
	return !p.sasl.IsServer() || p.amqpHeaderReceived
}

func (p *pipeline) sendHeader(h frame.Header) {
	p.e.log.Debug("header sent", "header", h.String())
	p.e.emit(h.Bytes())
}

func (p *pipeline) ensureAMQPHeader() {
	if p.amqpHeaderSent {
		return
	}
	p.amqpHeaderSent = true
	p.sendHeader(frame.AMQPHeader)
	pending := p.pending
	p.pending = nil
	for _, b := range pending {
		p.e.emit(b)
	}
}

// sendAMQP writes one AMQP frame, or queues it until the AMQP layer is up.
func (p *pipeline) sendAMQP(channel uint16, body types.Performative, payload []byte) error {
	b, err := p.writer.Write(frame.TypeAMQP, channel, body, payload)
	if err != nil {
		return err
	}
	p.e.log.Debug("frame sent", "channel", channel, "performative", body.Name(), "size", len(b))
	if !p.amqpReady() {
		p.pending = append(p.pending, b)
		if !p.sasl.IsServer() && !p.saslHeaderSent {
			p.saslHeaderSent = true
			p.sendHeader(frame.SASLHeader)
		}
		return nil
	}
	p.ensureAMQPHeader()
	p.e.emit(b)
	return nil
}

// sendSASL is the sasl.Send the negotiator writes through.
func (p *pipeline) sendSASL(body types.Performative) error {
	b, err := p.writer.Write(frame.TypeSASL, 0, body, nil)
	if err != nil {
		return err
	}
	if !p.saslHeaderSent {
		p.saslHeaderSent = true
		p.sendHeader(frame.SASLHeader)
	}
	p.e.log.Debug("frame sent", "channel", 0, "performative", body.Name(), "size", len(b))
	p.e.emit(b)
	return nil
}

// OnHeader implements frame.Handler.
func (p *pipeline) OnHeader(h frame.Header) error {
	p.e.log.Debug("header received", "header", h.String())
	switch h {
	case frame.SASLHeader:
		if p.sasl == nil {
			return violation("peer sent %s but SASL is not configured", h)
		}
		if p.saslHeaderReceived {
			if !p.saslPending() {
				return violation("peer sent %s after SASL completed", h)
			}
			p.e.log.Debug("repeated header ignored", "header", h.String())
			return nil
		}
		p.saslHeaderReceived = true
		if !p.saslHeaderSent {
			p.saslHeaderSent = true
			p.sendHeader(frame.SASLHeader)
		}
		if err := p.sasl.HeaderExchanged(p.sendSASL); err != nil {
			return saslFailed(err)
		}
		return nil
	case frame.AMQPHeader:
		if p.saslPending() {
			return violation("peer sent %s before SASL completed", h)
		}
		p.amqpHeaderReceived = true
		p.ensureAMQPHeader()
		return nil
	}
	return violation("unsupported protocol header %s", h)
}

// OnFrame implements frame.Handler.
func (p *pipeline) OnFrame(f *frame.Frame) error {
	if !p.e.IsWritable() {
		return p.e.rejected()
	}
	if f.Body == nil {
		p.e.log.Debug("heartbeat received", "type", f.Type.String())
		return nil
	}
	p.e.log.Debug("frame received", "type", f.Type.String(), "channel", f.Channel, "performative", f.Body.Name(), "size", f.Size)

	if f.Type == frame.TypeSASL {
		return p.onSASL(f)
	}
	if p.saslPending() {
		return violation("%s received before SASL completed", f.Body.Name())
	}
	return p.e.conn.dispatch(f)
}

func (p *pipeline) onSASL(f *frame.Frame) error {
	if p.sasl == nil || p.sasl.Done() {
		return violation("unexpected SASL frame %s", f.Body.Name())
	}
	if err := p.sasl.Handle(f.Body, p.sendSASL); err != nil {
		return saslFailed(err)
	}
	if p.sasl.State() != sasl.StateSucceeded {
		return nil
	}
	p.e.log.Info("sasl succeeded", "mechanism", string(p.sasl.Mechanism()), "role", p.saslMode())
	p.parser.ExpectHeader()
	if !p.sasl.IsServer() {
		p.ensureAMQPHeader()
	}
	return nil
}

func saslFailed(err error) *Error {
	return newError(ErrCodeSASLFailed, err, "sasl negotiation failed")
}

// classify maps an error out of frame processing onto a fatal code.
func classify(err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		if ee.Code.Fatal() {
			return ee
		}
		return newError(ErrCodeProtocolViolation, ee, "protocol violation")
	}
	switch {
	case codec.IsDecodeError(err),
		errors.Is(err, frame.ErrFrameTooSmall),
		errors.Is(err, frame.ErrFrameTooLarge),
		errors.Is(err, frame.ErrBadDataOffset),
		errors.Is(err, frame.ErrUnknownType):
		return newError(ErrCodeDecode, err, "malformed input")
	}
	return newError(ErrCodeProtocolViolation, err, "protocol violation")
}
