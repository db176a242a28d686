// Package evidence implements the evidence registry: a name-keyed
// plug-in registry of pure verifiers, each mapping an evidence record to
// a verification result.
package evidence

import (
	"sort"
	"sync"

	"reach/internal/canon"
	"reach/internal/trust"
)

// Record is an evidence record as carried in a plan snapshot.
// EvidenceID is the digest of the canonical record with EvidenceID
// itself excluded.
type Record struct {
	EvidenceID string         `json:"evidenceId"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	Subject    string         `json:"subject"`
}

// ComputeEvidenceID returns digest(canonical(record minus EvidenceID)).
func ComputeEvidenceID(r Record) string {
	body := map[string]any{
		"kind":    r.Kind,
		"payload": r.Payload,
		"subject": r.Subject,
	}
	return canon.DigestValue(body)
}

// Status is a verifier's pass/fail outcome.
type Status string

const (
	Verified   Status = "VERIFIED"
	Unverified Status = "UNVERIFIED"
)

// Result is the output of running a verifier against a record.
type Result struct {
	Status           Status         `json:"status"`
	VerifierID       string         `json:"verifierId"`
	VerifierVersion  string         `json:"verifierVersion"`
	ReasonCodes      []trust.Reason `json:"reasonCodes"`
	NormalizedClaims []string       `json:"normalizedClaims"`
}

// Verifier is a pure function from (record, context) to a Result.
// Context carries whatever ambient parameters a verifier needs (e.g. a
// trusted directory root); verifiers must not perform I/O or consult
// wall-clock time.
type Verifier func(record Record, context map[string]any) Result

// Registry maps an evidence kind to its verifier.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// NewDefaultRegistry returns a registry pre-populated with the built-in
// keytrans.inclusion.v1 verifier.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("keytrans.inclusion.v1", KeytransInclusionV1)
	return r
}

// Register adds or replaces the verifier for kind.
func (r *Registry) Register(kind string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[kind] = v
}

// Verify dispatches record.Kind to its registered verifier. An unknown
// kind produces an UNVERIFIED result carrying EVIDENCE_KIND_UNKNOWN.
func (r *Registry) Verify(record Record, context map[string]any) Result {
	r.mu.RLock()
	v, ok := r.verifiers[record.Kind]
	r.mu.RUnlock()
	if !ok {
		return Result{
			Status:      Unverified,
			VerifierID:  "registry",
			ReasonCodes: trust.Normalize([]trust.Reason{{Code: "EVIDENCE_KIND_UNKNOWN", Subject: record.Kind}}, trust.NormalizeOptions{}),
		}
	}
	return v(record, context)
}

// Kinds returns the sorted list of registered evidence kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.verifiers))
	for k := range r.verifiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const keytransMaxCanonicalBytes = 4096

var keytransAllowedKeys = map[string]bool{
	"directoryHeadDigest": true,
	"keyIdDigest":         true,
	"proofDigest":         true,
}

// KeytransInclusionV1 validates a key-transparency inclusion proof
// payload shape: only directoryHeadDigest, keyIdDigest, proofDigest are
// permitted, each (if present) must be a well-formed digest string, and
// the canonical payload must not exceed 4096 bytes. The normalized claim
// is keyed by the first available digest in that field order.
func KeytransInclusionV1(record Record, _ map[string]any) Result {
	const verifierID = "keytrans.inclusion.v1"
	const verifierVersion = "1"

	var reasons []trust.Reason

	for k := range record.Payload {
		if !keytransAllowedKeys[k] {
			reasons = append(reasons, trust.Reason{Code: "KEYTRANS_INVALID", Subject: record.EvidenceID, Detail: k})
		}
	}

	fields := []string{"directoryHeadDigest", "keyIdDigest", "proofDigest"}
	var firstDigest string
	for _, f := range fields {
		raw, ok := record.Payload[f]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok || !isDigestString(s) {
			reasons = append(reasons, trust.Reason{Code: "KEYTRANS_DIGEST_INVALID", Subject: record.EvidenceID, Detail: f})
			continue
		}
		if firstDigest == "" {
			firstDigest = s
		}
	}

	if canonical := canon.Canonical(record.Payload); len(canonical) > keytransMaxCanonicalBytes {
		reasons = append(reasons, trust.Reason{Code: "KEYTRANS_PAYLOAD_TOO_LARGE", Subject: record.EvidenceID})
	}

	normalized := trust.Normalize(reasons, trust.NormalizeOptions{})

	status := Verified
	if len(normalized) > 0 {
		status = Unverified
	}

	var claims []string
	if status == Verified && firstDigest != "" {
		claims = []string{firstDigest}
	}

	return Result{
		Status:           status,
		VerifierID:       verifierID,
		VerifierVersion:  verifierVersion,
		ReasonCodes:      normalized,
		NormalizedClaims: claims,
	}
}

func isDigestString(s string) bool {
	const prefix = "sha256:"
	if len(s) != len(prefix)+64 || s[:len(prefix)] != prefix {
		return false
	}
	for _, c := range s[len(prefix):] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
