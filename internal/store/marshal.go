package store

import (
	"fmt"
	"time"

	"github.com/roach88/amqpcore/internal/render"
)

// timeLayout keeps recorded_at sortable as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// MarshalBody renders a frame body to canonical JSON TEXT and computes its
// digest over body and payload. A nil body (heartbeat) yields empty strings.
func MarshalBody(body any, payload []byte) (jsonText, digest string, err error) {
	if body == nil {
		return "", "", nil
	}
	data, err := render.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal body: %w", err)
	}
	digest, err = render.FrameDigest(body, payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), digest, nil
}

func marshalTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
