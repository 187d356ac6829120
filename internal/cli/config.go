package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/amqpcore/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <profile>",
		Short: "Validate an engine profile",
		Long: `Load a YAML (.yaml, .yml) or CUE (.cue) engine profile, validate it
against the engine schema and print the effective settings.

Examples:
  amqpcore config client.yaml
  amqpcore config broker.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := loadProfile(path)
	if err != nil {
		_ = out.Error(CodeConfig, "invalid profile", err.Error())
		return err
	}

	if opts.Format == "json" {
		return out.Success(redact(cfg))
	}
	return out.Success(describeProfile(path, cfg))
}

// loadProfile loads and fully checks a profile, including the parts only
// the engine option mapping can reject.
func loadProfile(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid profile", err)
	}
	if _, err := cfg.Options(nil); err != nil {
		return nil, WrapExitError(ExitFailure, "invalid profile", err)
	}
	if _, err := cfg.ReceiverOptions(); err != nil {
		return nil, WrapExitError(ExitFailure, "invalid profile", err)
	}
	return cfg, nil
}

func describeProfile(path string, cfg *config.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Profile %s is valid\n", path)
	field := func(name string, v any) {
		fmt.Fprintf(&sb, "  %-15s %v\n", name+":", v)
	}
	field("container_id", orDefault(cfg.ContainerID, "(generated)"))
	if cfg.Hostname != "" {
		field("hostname", cfg.Hostname)
	}
	if cfg.MaxFrameSize != 0 {
		field("max_frame_size", cfg.MaxFrameSize)
	}
	if cfg.ChannelMax != nil {
		field("channel_max", *cfg.ChannelMax)
	}
	if cfg.IdleTimeout != "" {
		field("idle_timeout", cfg.IdleTimeout)
	}
	if cfg.SessionWindow != 0 {
		field("session_window", cfg.SessionWindow)
	}
	field("tag_generator", orDefault(cfg.TagGenerator, "sequential"))
	if s := cfg.SASL; s != nil {
		switch s.Mode {
		case "client":
			field("sasl", "client "+strings.Join(s.Mechanisms, ","))
		case "server":
			field("sasl", fmt.Sprintf("server (%d users, anonymous %t)", len(s.Users), s.AllowAnonymous))
		}
	}
	if r := cfg.Receiver; r != nil {
		field("credit_window", r.CreditWindow)
		if r.DrainTimeout != "" {
			field("drain_timeout", r.DrainTimeout)
		}
		field("settle_mode", orDefault(r.SettleMode, "first"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// redact hides SASL secrets from printed profiles.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	if cfg.SASL == nil {
		return &c
	}
	s := *cfg.SASL
	if s.Password != "" {
		s.Password = "***"
	}
	if len(s.Users) > 0 {
		users := make(map[string]string, len(s.Users))
		for name := range s.Users {
			users[name] = "***"
		}
		s.Users = users
	}
	c.SASL = &s
	return &c
}
