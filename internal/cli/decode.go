package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/amqpcore/internal/trace"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Hex bool
}

// DecodeResult is the JSON payload of the decode command.
type DecodeResult struct {
	Frames []FrameView `json:"frames"`
	Error  string      `json:"error,omitempty"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <capture>",
		Short: "Decode one direction of a raw AMQP capture",
		Long: `Decode one direction of an AMQP 1.0 connection: protocol headers,
SASL frames and AMQP frames, following the switch from SASL to AMQP.

Each frame body is printed as canonical JSON. Use "-" to read stdin.

Examples:
  amqpcore decode client.bin
  amqpcore decode --hex client.hex --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Hex, "hex", false, "capture is hex text instead of raw bytes")

	return cmd
}

func runDecode(opts *DecodeOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	data, err := readCapture(path, cmd.InOrStdin(), opts.Hex)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read capture", err)
	}
	out.VerboseLog("read %d bytes from %s", len(data), path)

	entries, decodeErr := trace.Decode(data)
	result := DecodeResult{Frames: []FrameView{}}
	for i, e := range entries {
		v, err := viewEntry(int64(i+1), e)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to render frame", err)
		}
		result.Frames = append(result.Frames, v)
	}
	if decodeErr != nil {
		result.Error = decodeErr.Error()
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		for _, v := range result.Frames {
			if err := out.Success(v); err != nil {
				return err
			}
		}
	}

	if decodeErr != nil {
		if opts.Format != "json" {
			_ = out.Error(CodeDecode, "capture did not decode", decodeErr.Error())
		}
		return WrapExitError(ExitFailure, "decode failed", decodeErr)
	}
	return nil
}
