package config

import (
	"fmt"
	"log/slog"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/engine"
	"github.com/roach88/amqpcore/internal/sasl"
	"github.com/roach88/amqpcore/internal/types"
)

// Options translates the profile into engine options. The logger is
// appended last so the caller's choice wins.
func (c *Config) Options(logger *slog.Logger) ([]engine.Option, error) {
	var opts []engine.Option
	if c.ContainerID != "" {
		opts = append(opts, engine.WithContainerID(c.ContainerID))
	}
	if c.Hostname != "" {
		opts = append(opts, engine.WithHostname(c.Hostname))
	}
	if c.MaxFrameSize != 0 {
		opts = append(opts, engine.WithMaxFrameSize(c.MaxFrameSize))
	}
	if c.ChannelMax != nil {
		opts = append(opts, engine.WithChannelMax(*c.ChannelMax))
	}
	idle, err := c.idleTimeout()
	if err != nil {
		return nil, err
	}
	if idle > 0 {
		opts = append(opts, engine.WithIdleTimeout(idle))
	}
	if c.SessionWindow != 0 {
		opts = append(opts, engine.WithSessionWindow(c.SessionWindow))
	}
	if len(c.OfferedCapabilities) > 0 {
		opts = append(opts, engine.WithOfferedCapabilities(symbols(c.OfferedCapabilities)...))
	}
	if len(c.DesiredCapabilities) > 0 {
		opts = append(opts, engine.WithDesiredCapabilities(symbols(c.DesiredCapabilities)...))
	}
	if len(c.Properties) > 0 {
		props := make(map[codec.Symbol]any, len(c.Properties))
		for k, v := range c.Properties {
			props[codec.Symbol(k)] = v
		}
		opts = append(opts, engine.WithProperties(props))
	}

	switch c.TagGenerator {
	case "", "sequential":
	case "uuid":
		opts = append(opts, engine.WithTagGenerator(func() engine.TagGenerator { return engine.UUIDTagGenerator{} }))
	default:
		return nil, fmt.Errorf("unknown tag generator %q", c.TagGenerator)
	}

	if c.SASL != nil {
		opt, err := c.SASL.option()
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	return opts, nil
}

func (s *SASL) option() (engine.Option, error) {
	switch s.Mode {
	case "client":
		mechs := make([]sasl.Mechanism, 0, len(s.Mechanisms))
		for _, name := range s.Mechanisms {
			switch codec.Symbol(name) {
			case sasl.MechanismPlain:
				mechs = append(mechs, sasl.Plain{AuthzID: s.AuthzID, Username: s.Username, Password: s.Password})
			case sasl.MechanismAnonymous:
				mechs = append(mechs, sasl.Anonymous{Trace: s.Username})
			case sasl.MechanismExternal:
				mechs = append(mechs, sasl.External{AuthzID: s.AuthzID})
			default:
				return nil, fmt.Errorf("unsupported sasl mechanism %q", name)
			}
		}
		return engine.WithSASLClient(mechs...), nil
	case "server":
		return engine.WithSASLServer(&sasl.StaticAuthenticator{
			Credentials:    s.Users,
			AllowAnonymous: s.AllowAnonymous,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sasl mode %q", s.Mode)
	}
}

// ReceiverOptions returns the receiver link defaults. A profile without a
// receiver block yields the zero value.
func (c *Config) ReceiverOptions() (engine.ReceiverOptions, error) {
	var o engine.ReceiverOptions
	if c.Receiver == nil {
		return o, nil
	}
	d, err := c.drainTimeout()
	if err != nil {
		return o, err
	}
	o.CreditWindow = c.Receiver.CreditWindow
	o.DrainTimeout = d
	switch c.Receiver.SettleMode {
	case "", "first":
		o.SettleMode = types.ReceiverSettleModeFirst
	case "second":
		o.SettleMode = types.ReceiverSettleModeSecond
	default:
		return o, fmt.Errorf("unknown settle mode %q", c.Receiver.SettleMode)
	}
	return o, nil
}

func symbols(ss []string) []codec.Symbol {
	out := make([]codec.Symbol, len(ss))
	for i, s := range ss {
		out[i] = codec.Symbol(s)
	}
	return out
}
