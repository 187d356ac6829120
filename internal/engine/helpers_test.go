package engine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/types"
)

// output records every chunk the engine writes.
type output struct {
	chunks [][]byte
}

func (o *output) write(b []byte) { o.chunks = append(o.chunks, bytes.Clone(b)) }

func (o *output) reset() { o.chunks = nil }

func (o *output) bytes() []byte { return bytes.Join(o.chunks, nil) }

// decoded is one output chunk: a header or a frame.
type decoded struct {
	header  *frame.Header
	frame   *frame.Frame
	payload []byte
}

func (d decoded) name() string {
	if d.header != nil {
		if *d.header == frame.SASLHeader {
			return "sasl-header"
		}
		return "amqp-header"
	}
	if d.frame.Body == nil {
		return "heartbeat"
	}
	return d.frame.Body.Name()
}

type chunkRecorder struct {
	got []decoded
}

func (r *chunkRecorder) OnHeader(frame.Header) error { return nil }

func (r *chunkRecorder) OnFrame(f *frame.Frame) error {
	r.got = append(r.got, decoded{frame: f, payload: bytes.Clone(f.Payload)})
	return nil
}

// decode parses each chunk on its own; the engine writes exactly one header
// or frame per call.
func (o *output) decode(t *testing.T) []decoded {
	t.Helper()
	var out []decoded
	for _, c := range o.chunks {
		if len(c) == frame.HeaderSize && bytes.HasPrefix(c, []byte("AMQP")) {
			h, err := frame.ParseHeader(c)
			require.NoError(t, err)
			out = append(out, decoded{header: &h})
			continue
		}
		p := frame.NewParser(codec.NewDecoder(types.NewRegistry(), codec.NewSymbolTable()))
		rec := &chunkRecorder{}
		require.NoError(t, p.Ingest(append(frame.AMQPHeader.Bytes(), c...), rec))
		require.Len(t, rec.got, 1, "one frame per output call")
		out = append(out, rec.got[0])
	}
	return out
}

func (o *output) names(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, d := range o.decode(t) {
		names = append(names, d.name())
	}
	return names
}

// bodies returns the performatives written, skipping headers.
func (o *output) bodies(t *testing.T) []types.Performative {
	t.Helper()
	var out []types.Performative
	for _, d := range o.decode(t) {
		if d.frame != nil && d.frame.Body != nil {
			out = append(out, d.frame.Body)
		}
	}
	return out
}

// only returns the single performative written, asserting its type.
func only[T types.Performative](t *testing.T, o *output) T {
	t.Helper()
	bodies := o.bodies(t)
	require.Len(t, bodies, 1)
	v, ok := bodies[0].(T)
	require.True(t, ok, "got %T", bodies[0])
	return v
}

// fixture is an engine plus the means to play its peer.
type fixture struct {
	t   *testing.T
	e   *Engine
	c   *Connection
	out *output
	w   *frame.Writer
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	base := []Option{WithContainerID("local"), WithLogger(quietLogger())}
	e := New(append(base, opts...)...)
	out := &output{}
	e.OutputHandler(out.write)
	c, err := e.Start()
	require.NoError(t, err)
	return &fixture{t: t, e: e, c: c, out: out, w: frame.NewWriter(codec.NewEncoder())}
}

func (f *fixture) frameBytes(typ frame.Type, ch uint16, body types.Performative, payload []byte) []byte {
	f.t.Helper()
	b, err := f.w.Write(typ, ch, body, payload)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) ingest(ch uint16, body types.Performative, payload []byte) error {
	return f.e.Ingest(f.frameBytes(frame.TypeAMQP, ch, body, payload))
}

func (f *fixture) mustIngest(ch uint16, body types.Performative, payload []byte) {
	f.t.Helper()
	require.NoError(f.t, f.ingest(ch, body, payload))
}

func (f *fixture) mustIngestSASL(body types.Performative) {
	f.t.Helper()
	require.NoError(f.t, f.e.Ingest(f.frameBytes(frame.TypeSASL, 0, body, nil)))
}

func (f *fixture) mustIngestRaw(b []byte) {
	f.t.Helper()
	require.NoError(f.t, f.e.Ingest(b))
}

// open opens both sides of the connection and clears the output.
func (f *fixture) open() {
	f.t.Helper()
	f.openWith(&types.Open{ContainerID: "remote", ChannelMax: types.DefaultChannelMax})
}

func (f *fixture) openWith(remote *types.Open) {
	f.t.Helper()
	require.NoError(f.t, f.c.Open())
	f.mustIngestRaw(frame.AMQPHeader.Bytes())
	f.mustIngest(0, remote, nil)
	require.True(f.t, f.c.IsActive())
	f.out.reset()
}

// session begins a session the peer answers on remoteCh.
func (f *fixture) session(remoteCh uint16) *Session {
	f.t.Helper()
	s := f.c.Session()
	require.NoError(f.t, s.Begin())
	ch, ok := s.Channel()
	require.True(f.t, ok)
	f.mustIngest(remoteCh, &types.Begin{RemoteChannel: &ch, IncomingWindow: 100, OutgoingWindow: 100, HandleMax: types.DefaultHandleMax}, nil)
	require.True(f.t, s.IsActive())
	f.out.reset()
	return s
}

// receiver attaches a receiver the peer answers with remoteHandle.
func (f *fixture) receiver(s *Session, remoteCh uint16, name string, remoteHandle uint32, setup ...func(*Receiver)) *Receiver {
	f.t.Helper()
	r := s.Receiver(name)
	for _, fn := range setup {
		fn(r)
	}
	require.NoError(f.t, r.Attach())
	f.mustIngest(remoteCh, &types.Attach{LinkName: name, Handle: remoteHandle, Role: types.RoleSender}, nil)
	require.True(f.t, r.IsActive())
	f.out.reset()
	return r
}

// sender attaches a sender the peer answers with remoteHandle.
func (f *fixture) sender(s *Session, remoteCh uint16, name string, remoteHandle uint32) *Sender {
	f.t.Helper()
	snd := s.Sender(name)
	require.NoError(f.t, snd.Attach())
	f.mustIngest(remoteCh, &types.Attach{LinkName: name, Handle: remoteHandle, Role: types.RoleReceiver}, nil)
	require.True(f.t, snd.IsActive())
	f.out.reset()
	return snd
}

// linkFlow is a flow the peer sends for the link on remoteHandle.
func linkFlow(remoteHandle, count, credit uint32, drain bool) *types.Flow {
	next := uint32(0)
	return &types.Flow{
		NextIncomingID: &next,
		IncomingWindow: 100,
		OutgoingWindow: 100,
		Handle:         &remoteHandle,
		DeliveryCount:  &count,
		LinkCredit:     &credit,
		Drain:          drain,
	}
}

func u32(v uint32) *uint32 { return &v }
