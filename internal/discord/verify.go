// Package discord is the interaction transport client: it verifies signed
// interaction webhooks and posts deferred follow-ups and channel messages.
package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// ParsePublicKey decodes the hex-encoded Ed25519 verification key Discord
// hands out per application.
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("discord: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("discord: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature checks the Ed25519 signature over timestamp||body, the
// scheme used for interaction webhooks. A malformed signature is simply
// invalid, never an error.
func VerifySignature(pub ed25519.PublicKey, timestamp string, body []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(pub, msg, sig)
}
