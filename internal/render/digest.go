package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainFrame separates frame digests from any other use of the same
// canonical bytes. The version suffix leaves room to change the rendering.
const DomainFrame = "amqpcore/frame/v1"

// Digest returns the hex SHA-256 of domain, a zero byte and data.
func Digest(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FrameDigest renders body canonically and hashes it together with the
// frame payload, so two frames share a digest only when both match.
func FrameDigest(body any, payload []byte) (string, error) {
	b, err := Marshal(body)
	if err != nil {
		return "", fmt.Errorf("FrameDigest: failed to marshal: %w", err)
	}
	b = append(b, 0x00)
	b = append(b, payload...)
	return Digest(DomainFrame, b), nil
}
