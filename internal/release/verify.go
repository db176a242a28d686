package release

import (
	"encoding/json"
	"reflect"
	"regexp"
	"sort"

	"reach/internal/canon"
	"reach/internal/evidence"
	"reach/internal/trust"
)

// VerifyStatus is the outcome of release verification.
type VerifyStatus string

const (
	StatusOK         VerifyStatus = "OK"
	StatusUnverified VerifyStatus = "UNVERIFIED"
)

// VerifyInput bundles everything the verifier needs. ExpectedPathDigest
// is checked only when set; ExpectedPlanDigest and ExpectedBlocks are
// always compared, and a nil CryptoPort fails the signature check.
// EvidenceRecords are run through EvidenceRegistry (or the default
// registry when nil) and their reasons fold into the overall result.
type VerifyInput struct {
	Manifest           *Manifest
	ExpectedPlanDigest string
	ExpectedBlocks     []string
	ExpectedPathDigest string
	CryptoPort         CryptoPort
	KeyAllowlist       KeyAllowlist
	EvidenceRecords    []evidence.Record
	EvidenceRegistry   *evidence.Registry
}

// VerifyResult is the release verifier's output. NormalizedClaims is
// the sorted union of claims the evidence verifiers produced.
type VerifyResult struct {
	Status             VerifyStatus
	ReasonCodes        []trust.Reason
	ObservedReleaseID  string
	ObservedPlanDigest string
	ObservedPathDigest string
	NormalizedClaims   []string
}

// absolutePathPattern matches Unix- and Windows-style absolute paths.
var absolutePathPattern = regexp.MustCompile(`(^|[\s"'=:,])(/[A-Za-z0-9_.\-]+(/[A-Za-z0-9_.\-]+)+|[A-Za-z]:\\[^\s"']+)`)

// envVarMarkerPattern matches shell-style environment variable markers.
var envVarMarkerPattern = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// Verify runs the seven-step checkpoint sequence over in.Manifest, then
// the evidence checkpoint over in.EvidenceRecords. Every check runs
// regardless of earlier failures (a nil Manifest alone returns early);
// reasons accumulate and are normalized at the end.
func Verify(in VerifyInput) VerifyResult {
	var reasons []trust.Reason

	if in.Manifest == nil {
		reasons = append(reasons, trust.Reason{Code: "RELEASE_MANIFEST_MISSING"})
		return finalize(reasons, "", "", "", nil)
	}

	body := in.Manifest.ManifestBody

	if !structurallyValid(body) {
		reasons = append(reasons, trust.Reason{Code: "RELEASE_MANIFEST_INVALID"})
	}

	reasons = append(reasons, privacyLint(body)...)

	reasons = append(reasons, trust.CheckpointEq(in.ExpectedPlanDigest, body.PlanDigest, "RELEASE_PLANDIGEST_MISMATCH")...)

	if body.PathDigest == "" {
		reasons = append(reasons, trust.Reason{Code: "PATH_DIGEST_MISSING"})
	} else if in.ExpectedPathDigest != "" {
		reasons = append(reasons, trust.CheckpointEq(in.ExpectedPathDigest, body.PathDigest, "PATH_DIGEST_MISMATCH")...)
	}

	if !blocksetsEqual(in.ExpectedBlocks, body.Blocks) {
		reasons = append(reasons, trust.Reason{Code: "RELEASE_BLOCKSET_MISMATCH"})
	}

	reasons = append(reasons, verifySignatures(in)...)

	evidenceReasons, claims := verifyEvidence(in)
	reasons = append(reasons, evidenceReasons...)

	return finalize(reasons, body.ReleaseID, body.PlanDigest, body.PathDigest, claims)
}

func finalize(reasons []trust.Reason, releaseID, planDigest, pathDigest string, claims []string) VerifyResult {
	normalized := trust.Normalize(reasons, trust.NormalizeOptions{})
	status := StatusOK
	if len(normalized) > 0 {
		status = StatusUnverified
	}
	return VerifyResult{
		Status:             status,
		ReasonCodes:        normalized,
		ObservedReleaseID:  releaseID,
		ObservedPlanDigest: planDigest,
		ObservedPathDigest: pathDigest,
		NormalizedClaims:   claims,
	}
}

// verifyEvidence runs every supplied evidence record through the
// registry and returns the accumulated reasons plus the sorted-unique
// union of normalized claims.
func verifyEvidence(in VerifyInput) ([]trust.Reason, []string) {
	if len(in.EvidenceRecords) == 0 {
		return nil, nil
	}
	registry := in.EvidenceRegistry
	if registry == nil {
		registry = evidence.NewDefaultRegistry()
	}

	var reasons []trust.Reason
	var claims []string
	for _, rec := range in.EvidenceRecords {
		res := registry.Verify(rec, nil)
		reasons = append(reasons, res.ReasonCodes...)
		claims = append(claims, res.NormalizedClaims...)
	}
	sort.Strings(claims)
	return reasons, dedupe(claims)
}

func structurallyValid(body Body) bool {
	if body.ReleaseID == "" || body.PlanDigest == "" {
		return false
	}
	return sort.StringsAreSorted(body.Blocks) && !hasDuplicates(body.Blocks)
}

func hasDuplicates(xs []string) bool {
	seen := make(map[string]bool, len(xs))
	for _, x := range xs {
		if seen[x] {
			return true
		}
		seen[x] = true
	}
	return false
}

func blocksetsEqual(expected, observed []string) bool {
	a := append([]string(nil), expected...)
	b := append([]string(nil), observed...)
	sort.Strings(a)
	sort.Strings(b)
	return reflect.DeepEqual(dedupe(a), dedupe(b))
}

func dedupe(xs []string) []string {
	out := make([]string, 0, len(xs))
	for i, x := range xs {
		if i == 0 || xs[i-1] != x {
			out = append(out, x)
		}
	}
	return out
}

func privacyLint(body Body) []trust.Reason {
	var reasons []trust.Reason
	walkStringLeaves(body, func(s string) {
		if absolutePathPattern.MatchString(s) {
			reasons = append(reasons, trust.Reason{Code: "PATH_PRIVACY_FAIL"})
		}
		if envVarMarkerPattern.MatchString(s) {
			reasons = append(reasons, trust.Reason{Code: "ENV_PRIVACY_FAIL"})
		}
	})
	return reasons
}

// walkStringLeaves visits every string leaf reachable from v's canonical
// JSON representation, so the lint sees exactly what a verifier
// consuming the serialized manifest would see.
func walkStringLeaves(v any, visit func(string)) {
	var decoded any
	if err := json.Unmarshal(canon.Canonical(v), &decoded); err != nil {
		return
	}
	walkAny(decoded, visit)
}

func walkAny(v any, visit func(string)) {
	switch val := v.(type) {
	case string:
		visit(val)
	case []any:
		for _, e := range val {
			walkAny(e, visit)
		}
	case map[string]any:
		for _, e := range val {
			walkAny(e, visit)
		}
	}
}

func verifySignatures(in VerifyInput) []trust.Reason {
	if in.CryptoPort == nil {
		return []trust.Reason{{Code: "RELEASE_SIGNATURE_BAD"}}
	}
	message := CanonicalBody(in.Manifest.ManifestBody)
	for _, sig := range in.Manifest.Signatures {
		pubB64, ok := in.KeyAllowlist[sig.KeyID]
		if !ok {
			continue
		}
		pub, ok := decodeB64(pubB64)
		if !ok {
			continue
		}
		sigBytes, ok := decodeB64(sig.SigB64)
		if !ok {
			continue
		}
		if in.CryptoPort.VerifyEd25519(pub, message, sigBytes) {
			return nil
		}
	}
	return []trust.Reason{{Code: "RELEASE_SIGNATURE_BAD"}}
}
