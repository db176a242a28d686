// Package release implements the release manifest shape and the
// seven-step verification sequence, followed by an evidence checkpoint,
// that turns a signed manifest plus a caller's expectations into a
// pass/fail status with accumulated reasons.
package release

import (
	"crypto/ed25519"
	"encoding/base64"

	"reach/internal/canon"
)

// Body is the signed content of a release manifest.
type Body struct {
	ReleaseID    string         `json:"releaseId"`
	PlanDigest   string         `json:"planDigest"`
	PathDigest   string         `json:"pathDigest,omitempty"`
	Blocks       []string       `json:"blocks"`
	PolicyDigest string         `json:"policyDigest,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Signature is one signature over a canonicalized Body.
type Signature struct {
	SigKind string `json:"sigKind"`
	KeyID   string `json:"keyId"`
	SigB64  string `json:"sigB64"`
}

// Manifest is the release manifest: a body plus its signatures.
type Manifest struct {
	ManifestBody Body        `json:"manifestBody"`
	Signatures   []Signature `json:"signatures"`
}

// CryptoPort abstracts signature verification so the release verifier
// stays pure: production wires it to ed25519, tests can inject a stub.
type CryptoPort interface {
	VerifyEd25519(publicKey, message, signature []byte) bool
}

// Ed25519Port is the production CryptoPort backed by crypto/ed25519.
type Ed25519Port struct{}

func (Ed25519Port) VerifyEd25519(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// KeyAllowlist maps a keyId to its base64-encoded ed25519 public key.
type KeyAllowlist map[string]string

func decodeB64(s string) ([]byte, bool) {
	b, err := base64.StdEncoding.DecodeString(s)
	return b, err == nil
}

// CanonicalBody returns the canonical JSON bytes of body, the exact
// payload every signature is computed and verified over.
func CanonicalBody(body Body) []byte {
	return canon.Canonical(body)
}
