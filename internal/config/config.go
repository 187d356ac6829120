// Package config loads engine profiles from YAML or CUE files.
//
// Both formats are checked against the same embedded CUE schema (#Engine),
// so a profile that loads is a profile the engine accepts. YAML is decoded
// strictly: unknown keys are errors, which catches typos like
// "max_frame_szie".
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is an engine profile. Zero fields keep the engine defaults.
type Config struct {
	ContainerID         string            `yaml:"container_id" json:"container_id,omitempty"`
	Hostname            string            `yaml:"hostname" json:"hostname,omitempty"`
	MaxFrameSize        uint32            `yaml:"max_frame_size" json:"max_frame_size,omitempty"`
	ChannelMax          *uint16           `yaml:"channel_max" json:"channel_max,omitempty"`
	IdleTimeout         string            `yaml:"idle_timeout" json:"idle_timeout,omitempty"`
	SessionWindow       uint32            `yaml:"session_window" json:"session_window,omitempty"`
	OfferedCapabilities []string          `yaml:"offered_capabilities" json:"offered_capabilities,omitempty"`
	DesiredCapabilities []string          `yaml:"desired_capabilities" json:"desired_capabilities,omitempty"`
	Properties          map[string]string `yaml:"properties" json:"properties,omitempty"`
	TagGenerator        string            `yaml:"tag_generator" json:"tag_generator,omitempty"`

	SASL     *SASL     `yaml:"sasl" json:"sasl,omitempty"`
	Receiver *Receiver `yaml:"receiver" json:"receiver,omitempty"`
}

// SASL configures the optional SASL layer. Mode "client" uses Mechanisms
// in order of preference; mode "server" authenticates against Users.
type SASL struct {
	Mode string `yaml:"mode" json:"mode"`

	Mechanisms []string `yaml:"mechanisms" json:"mechanisms,omitempty"`
	Username   string   `yaml:"username" json:"username,omitempty"`
	Password   string   `yaml:"password" json:"password,omitempty"`
	AuthzID    string   `yaml:"authz_id" json:"authz_id,omitempty"`

	Users          map[string]string `yaml:"users" json:"users,omitempty"`
	AllowAnonymous bool              `yaml:"allow_anonymous" json:"allow_anonymous,omitempty"`
}

// Receiver holds defaults applied to receiving links.
type Receiver struct {
	CreditWindow uint32 `yaml:"credit_window" json:"credit_window,omitempty"`
	DrainTimeout string `yaml:"drain_timeout" json:"drain_timeout,omitempty"`
	SettleMode   string `yaml:"settle_mode" json:"settle_mode,omitempty"`
}

// Load reads a profile, choosing the format by extension: .yaml/.yml or
// .cue.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .cue)", ext)
	}
}

// ParseYAML decodes a YAML profile and validates it against the schema.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := validate(ctx, v); err != nil {
		return nil, err
	}
	return &cfg, cfg.check()
}

// ParseCUE evaluates a CUE profile, validates it against the schema and
// decodes it. The profile's top-level fields are the #Engine fields.
func ParseCUE(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := validate(ctx, v); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return &cfg, cfg.check()
}

func validate(ctx *cue.Context, v cue.Value) error {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("invalid embedded schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Engine")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// check covers what the schema cannot express.
func (c *Config) check() error {
	if c.SASL != nil {
		switch c.SASL.Mode {
		case "client":
			if len(c.SASL.Mechanisms) == 0 {
				return fmt.Errorf("invalid config: sasl client needs at least one mechanism")
			}
		case "server":
			if len(c.SASL.Users) == 0 && !c.SASL.AllowAnonymous {
				return fmt.Errorf("invalid config: sasl server accepts nobody")
			}
		}
	}
	if _, err := c.idleTimeout(); err != nil {
		return err
	}
	if _, err := c.drainTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) idleTimeout() (time.Duration, error) {
	return parseDuration("idle_timeout", c.IdleTimeout)
}

func (c *Config) drainTimeout() (time.Duration, error) {
	if c.Receiver == nil {
		return 0, nil
	}
	return parseDuration("receiver.drain_timeout", c.Receiver.DrainTimeout)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid config: %s: %w", field, err)
	}
	return d, nil
}
