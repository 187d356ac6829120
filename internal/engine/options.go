package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/sasl"
	"github.com/roach88/amqpcore/internal/types"
)

// DefaultSessionWindow is the incoming and outgoing transfer window a
// session advertises unless WithSessionWindow says otherwise.
const DefaultSessionWindow = 2048

// settings holds everything an Option can change. The connection copies
// the connection-level fields at Start.
type settings struct {
	containerID  string
	hostname     string
	maxFrameSize uint32
	channelMax   uint16
	idleTimeout  time.Duration
	properties   map[codec.Symbol]any
	offered      []codec.Symbol
	desired      []codec.Symbol

	sessionWindow uint32
	saslClient    []sasl.Mechanism
	saslServer    sasl.Authenticator
	idGen         IDGenerator
	tagGen        func() TagGenerator
	logger        *slog.Logger
}

func defaultSettings() settings {
	return settings{
		maxFrameSize:  types.DefaultMaxFrameSize,
		channelMax:    types.DefaultChannelMax,
		sessionWindow: DefaultSessionWindow,
		idGen:         UUIDv7Generator{},
		tagGen:        func() TagGenerator { return &SequentialTagGenerator{} },
	}
}

// Option configures an Engine.
type Option func(*settings)

// WithContainerID sets the container id sent in Open. Without it the
// container id generator picks one at Start.
func WithContainerID(id string) Option {
	return func(s *settings) { s.containerID = id }
}

// WithContainerIDGenerator replaces the default UUIDv7 container ids.
func WithContainerIDGenerator(g IDGenerator) Option {
	return func(s *settings) { s.idGen = g }
}

// WithHostname sets the hostname sent in Open and sasl-init.
func WithHostname(h string) Option {
	return func(s *settings) { s.hostname = h }
}

// WithMaxFrameSize sets the largest frame this side accepts. Values below
// 512 are raised to 512.
func WithMaxFrameSize(n uint32) Option {
	return func(s *settings) { s.maxFrameSize = max(n, 512) }
}

// WithChannelMax sets the highest channel number this side accepts.
func WithChannelMax(n uint16) Option {
	return func(s *settings) { s.channelMax = n }
}

// WithIdleTimeout sets the idle timeout advertised in Open. The engine
// does not run timers; enforcing it is up to the caller.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *settings) { s.idleTimeout = d }
}

// WithProperties sets the connection properties sent in Open.
func WithProperties(p map[codec.Symbol]any) Option {
	return func(s *settings) { s.properties = p }
}

// WithOfferedCapabilities sets the capabilities offered in Open.
func WithOfferedCapabilities(caps ...codec.Symbol) Option {
	return func(s *settings) { s.offered = caps }
}

// WithDesiredCapabilities sets the capabilities desired in Open.
func WithDesiredCapabilities(caps ...codec.Symbol) Option {
	return func(s *settings) { s.desired = caps }
}

// WithSessionWindow sets the transfer window every session advertises.
func WithSessionWindow(n uint32) Option {
	return func(s *settings) { s.sessionWindow = max(n, 1) }
}

// WithSASLClient makes the engine authenticate as a SASL client before the
// AMQP layer starts, trying mechs in order of preference.
func WithSASLClient(mechs ...sasl.Mechanism) Option {
	return func(s *settings) {
		s.saslClient = mechs
		s.saslServer = nil
	}
}

// WithSASLServer makes the engine require SASL from its peer and
// authenticate it with auth.
func WithSASLServer(auth sasl.Authenticator) Option {
	return func(s *settings) {
		s.saslServer = auth
		s.saslClient = nil
	}
}

// WithTagGenerator sets the factory that gives each new sender its delivery
// tag generator. The default is a SequentialTagGenerator per sender.
func WithTagGenerator(fn func() TagGenerator) Option {
	return func(s *settings) { s.tagGen = fn }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// ReceiverOptions are link defaults for receivers. A zero value means
// manual credit and no drain timeout.
type ReceiverOptions struct {
	// CreditWindow, when non-zero, keeps the link topped up to this many
	// credits automatically. AddCredit is then rejected.
	CreditWindow uint32
	// DrainTimeout is how long the caller should wait before calling
	// ExpireDrain on an unanswered drain.
	DrainTimeout time.Duration
	// SettleMode is the receiver settle mode requested at attach.
	SettleMode types.ReceiverSettleMode
}

// Apply configures r. It fails once r has been attached.
func (o ReceiverOptions) Apply(r *Receiver) error {
	if err := r.SetCreditWindow(o.CreditWindow); err != nil {
		return err
	}
	r.SetDrainTimeout(o.DrainTimeout)
	r.SetReceiverSettleMode(o.SettleMode)
	return nil
}
