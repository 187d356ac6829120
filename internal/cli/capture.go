package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/roach88/amqpcore/internal/render"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/trace"
)

// readCapture reads a raw capture from path, or stdin for "-". With
// hexInput the file holds hex digits; whitespace and "0x" prefixes are
// ignored so hexdumps can be pasted in.
func readCapture(path string, stdin io.Reader, hexInput bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !hexInput {
		return data, nil
	}
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ReplaceAll(string(data), "0x", ""))
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex capture: %w", err)
	}
	return out, nil
}

// FrameView is the printable form of one decoded header or frame.
type FrameView struct {
	Seq          int64           `json:"seq"`
	Direction    string          `json:"direction,omitempty"`
	Kind         string          `json:"kind"`
	Channel      uint16          `json:"channel"`
	Performative string          `json:"performative,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	PayloadSize  int             `json:"payload_size,omitempty"`
}

func viewEntry(seq int64, e trace.Entry) (FrameView, error) {
	v := FrameView{
		Seq:         seq,
		Kind:        string(e.Kind),
		Channel:     e.Channel,
		PayloadSize: len(e.Payload),
	}
	if e.Body != nil {
		b, err := render.Marshal(e.Body)
		if err != nil {
			return v, err
		}
		v.Body = b
		v.Performative = e.Body.Name()
	} else if e.Kind != store.KindHeartbeat {
		v.Performative = e.Name()
	}
	return v, nil
}

// String renders one line: seq, direction, kind[channel], name, body.
func (v FrameView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d ", v.Seq)
	if v.Direction != "" {
		fmt.Fprintf(&sb, "%-3s ", v.Direction)
	}
	switch v.Kind {
	case string(store.KindHeader):
		fmt.Fprintf(&sb, "%-10s %s", "header", v.Performative)
	case string(store.KindHeartbeat):
		fmt.Fprintf(&sb, "%-10s heartbeat", fmt.Sprintf("amqp[%d]", v.Channel))
	default:
		fmt.Fprintf(&sb, "%-10s %s", fmt.Sprintf("%s[%d]", v.Kind, v.Channel), v.Performative)
		if len(v.Body) > 0 {
			fmt.Fprintf(&sb, " %s", v.Body)
		}
		if v.PayloadSize > 0 {
			fmt.Fprintf(&sb, " +%d bytes", v.PayloadSize)
		}
	}
	return sb.String()
}
