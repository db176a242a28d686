package evidence

import "testing"

func TestKeytransInclusionV1AcceptsValidPayload(t *testing.T) {
	rec := Record{
		EvidenceID: "e1",
		Kind:       "keytrans.inclusion.v1",
		Payload: map[string]any{
			"directoryHeadDigest": "sha256:" + repeatHex(64),
		},
	}
	res := KeytransInclusionV1(rec, nil)
	if res.Status != Verified {
		t.Fatalf("expected Verified, got %v reasons=%v", res.Status, res.ReasonCodes)
	}
	if len(res.NormalizedClaims) != 1 || res.NormalizedClaims[0] != rec.Payload["directoryHeadDigest"] {
		t.Fatalf("claims = %v", res.NormalizedClaims)
	}
}

func TestKeytransInclusionV1RejectsExtraKeys(t *testing.T) {
	rec := Record{
		EvidenceID: "e2",
		Kind:       "keytrans.inclusion.v1",
		Payload:    map[string]any{"unexpected": "x"},
	}
	res := KeytransInclusionV1(rec, nil)
	if res.Status != Unverified {
		t.Fatal("expected Unverified for unknown payload key")
	}
	found := false
	for _, r := range res.ReasonCodes {
		if r.Code == "KEYTRANS_INVALID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected KEYTRANS_INVALID, got %v", res.ReasonCodes)
	}
}

func TestKeytransInclusionV1RejectsMalformedDigest(t *testing.T) {
	rec := Record{
		EvidenceID: "e3",
		Kind:       "keytrans.inclusion.v1",
		Payload:    map[string]any{"proofDigest": "not-a-digest"},
	}
	res := KeytransInclusionV1(rec, nil)
	if res.Status != Unverified {
		t.Fatal("expected Unverified for malformed digest")
	}
}

func TestRegistryDispatchesByKind(t *testing.T) {
	r := NewDefaultRegistry()
	rec := Record{Kind: "keytrans.inclusion.v1", Payload: map[string]any{}}
	res := r.Verify(rec, nil)
	if res.Status != Verified {
		t.Fatalf("expected Verified for empty-but-valid payload, got %v", res.ReasonCodes)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewDefaultRegistry()
	res := r.Verify(Record{Kind: "nonsense.v9"}, nil)
	if res.Status != Unverified || len(res.ReasonCodes) != 1 || res.ReasonCodes[0].Code != "EVIDENCE_KIND_UNKNOWN" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func repeatHex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "0123456789abcdef"[i%16]
	}
	return string(b)
}
