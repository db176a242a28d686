package loader

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"reach/internal/canon"
	"reach/internal/channel"
	"reach/internal/compartment"
	"reach/internal/kernel"
	"reach/internal/plan"
	"reach/internal/release"
	"reach/internal/store"
	"reach/internal/trust"
)

type stubBlock struct {
	value   map[string]any
	reasons []trust.Reason
}

func (b stubBlock) Invoke(exportName string, args map[string]any) (map[string]any, []trust.Reason, error) {
	return b.value, b.reasons, nil
}

type stubEvaluator struct{ block compartment.Block }

func (e stubEvaluator) Eval(sourceText string, caps compartment.Caps) (compartment.Block, error) {
	return e.block, nil
}

func signedManifest(t *testing.T) (*release.Manifest, release.KeyAllowlist) {
	t.Helper()
	pub, priv, _ := ed25519.GenerateKey(nil)
	body := release.Body{
		ReleaseID:  "r1",
		PlanDigest: "sha256:plan",
		PathDigest: "sha256:path",
		Blocks:     []string{"sha256:a"},
	}
	msg := release.CanonicalBody(body)
	sig := ed25519.Sign(priv, msg)
	m := &release.Manifest{
		ManifestBody: body,
		Signatures:   []release.Signature{{SigKind: "ed25519", KeyID: "k1", SigB64: base64.StdEncoding.EncodeToString(sig)}},
	}
	return m, release.KeyAllowlist{"k1": base64.StdEncoding.EncodeToString(pub)}
}

func baseInput(t *testing.T) Input {
	m, allow := signedManifest(t)
	return Input{
		Plan:       plan.Snapshot{Mode: plan.ModeStrict},
		PlanDigest: "sha256:plan",
		Release: release.VerifyInput{
			Manifest:           m,
			ExpectedPlanDigest: "sha256:plan",
			ExpectedBlocks:     []string{"sha256:a"},
			ExpectedPathDigest: "sha256:path",
			CryptoPort:         release.Ed25519Port{},
			KeyAllowlist:       allow,
		},
	}
}

func TestRunAllowsWhenVerifiedAndNoExecution(t *testing.T) {
	res := Run(baseInput(t))
	if res.Verdict != trust.Allow {
		t.Fatalf("expected ALLOW, got %v reasons=%v", res.Verdict, res.ReasonCodes)
	}
	if res.Verify.Verdict != trust.Allow {
		t.Fatalf("expected verify ALLOW, got %v", res.Verify.Verdict)
	}
}

func TestRunQuarantinesOnArtifactTamperWithoutRecovery(t *testing.T) {
	s := store.New("")
	payload := []byte("source text")
	digest := canon.Digest(payload)
	putRes := s.Put(digest, payload)
	if !putRes.OK {
		t.Fatalf("put failed: %+v", putRes)
	}
	s.Corrupt(digest, []byte("tampered"))
	s.DropLastGood(digest)

	in := baseInput(t)
	in.ArtifactStore = s
	in.ExpectedSourceDigest = digest

	res := Run(in)
	if res.Verdict != trust.Quarantine {
		t.Fatalf("expected QUARANTINE, got %v reasons=%v", res.Verdict, res.ReasonCodes)
	}
	if res.IncidentLatest == nil || res.IncidentLatest.Kind != "artifact.mismatch" {
		t.Fatalf("expected artifact.mismatch incident, got %+v", res.IncidentLatest)
	}
	if res.IncidentLatest.PlanDigest != "sha256:plan" {
		t.Fatalf("incident not bound to the run's plan digest: %+v", res.IncidentLatest)
	}
	if res.IncidentSummary.Quarantine != 1 || res.IncidentSummary.Total != 1 {
		t.Fatalf("unexpected incident summary: %+v", res.IncidentSummary)
	}
}

func TestRunDeniesOnRecoveredArtifactTamper(t *testing.T) {
	s := store.New("")
	payload := []byte("source text")
	digest := canon.Digest(payload)
	s.Put(digest, payload)
	s.Corrupt(digest, []byte("tampered"))

	in := baseInput(t)
	in.ArtifactStore = s
	in.ExpectedSourceDigest = digest

	res := Run(in)
	if res.Verdict != trust.Deny {
		t.Fatalf("expected DENY on recovered-but-flagged tamper, got %v", res.Verdict)
	}
	if !res.Rollback {
		t.Fatal("expected Rollback to be true")
	}
	if res.IncidentLatest == nil || res.IncidentLatest.Kind != "artifact.mismatch" {
		t.Fatalf("expected artifact.mismatch incident, got %+v", res.IncidentLatest)
	}
	if res.IncidentSummary.Warn != 1 || res.IncidentSummary.Quarantine != 0 || res.IncidentSummary.Total != 1 {
		t.Fatalf("unexpected incident summary: %+v", res.IncidentSummary)
	}
}

func TestRunSkipsExecutionWhenCompartmentUnavailable(t *testing.T) {
	in := baseInput(t)
	in.ExecutionRequested = true

	res := Run(in)
	if res.Execute.Result != ExecuteSkip {
		t.Fatalf("expected SKIP, got %v", res.Execute.Result)
	}
	if res.Verdict != trust.Deny {
		t.Fatalf("expected DENY when execution could not run, got %v", res.Verdict)
	}
}

func TestRunAllowsWithSuccessfulExecution(t *testing.T) {
	in := baseInput(t)
	in.ExecutionRequested = true
	in.Evaluator = stubEvaluator{block: stubBlock{value: map[string]any{"ok": true}}}
	in.EntryExportName = "main"

	res := Run(in)
	if res.Execute.Result != ExecuteAllow {
		t.Fatalf("expected ALLOW execute result, got %v reasons=%v", res.Execute.Result, res.Execute.ReasonCodes)
	}
	if res.Verdict != trust.Allow {
		t.Fatalf("expected ALLOW verdict, got %v", res.Verdict)
	}
	if !res.ExecutionOK {
		t.Fatal("expected ExecutionOK true")
	}
}

// capBlock is a block whose entry makes one net.fetch call through its
// caps and surfaces whatever the host decided.
type capBlock struct{ caps compartment.Caps }

func (b *capBlock) Invoke(exportName string, args map[string]any) (map[string]any, []trust.Reason, error) {
	value, reasons := b.caps.NetFetch(map[string]any{"url": "https://example.test"})
	if len(reasons) > 0 {
		return nil, reasons, nil
	}
	return value, nil, nil
}

type capEvaluator struct{}

func (capEvaluator) Eval(sourceText string, caps compartment.Caps) (compartment.Block, error) {
	return &capBlock{caps: caps}, nil
}

func kernelInput(t *testing.T) Input {
	in := baseInput(t)
	in.ExecutionRequested = true
	in.Evaluator = capEvaluator{}
	in.EntryExportName = "main"
	in.CallerBlockHash = "sha256:block"
	in.Kernel = &kernel.Params{
		PolicyDigest: "sha256:policy",
		RuntimeTier:  kernel.TierT1,
		KnownCaps:    map[string]kernel.CapRequirement{"net.fetch": {RequiredTier: kernel.TierT1}},
		DisabledCaps: map[string]bool{},
		GrantedCaps:  map[string]bool{"net.fetch": true},
	}
	in.CapImpl = CapImpl{NetFetch: func(args map[string]any) (map[string]any, []trust.Reason) {
		return map[string]any{"status": "ok"}, nil
	}}
	return in
}

// TestRunAdjudicatesCapabilityThroughKernel runs a real block whose
// entry calls caps.NetFetch: the call passes through kernel.HandleInvoke
// against the session's own nonce and plan digest before the host
// implementation answers.
func TestRunAdjudicatesCapabilityThroughKernel(t *testing.T) {
	res := Run(kernelInput(t))
	if res.Execute.Result != ExecuteAllow {
		t.Fatalf("expected ALLOW execute result, got %v reasons=%v", res.Execute.Result, res.Execute.ReasonCodes)
	}
	if res.Verdict != trust.Allow {
		t.Fatalf("expected ALLOW verdict, got %v", res.Verdict)
	}
}

func TestRunDeniesUngrantedCapabilityThroughKernel(t *testing.T) {
	in := kernelInput(t)
	in.Kernel.GrantedCaps = map[string]bool{}

	res := Run(in)
	if res.Execute.Result != ExecuteDeny {
		t.Fatalf("expected DENY execute result, got %v", res.Execute.Result)
	}
	found := false
	for _, r := range res.Execute.ReasonCodes {
		if r.Code == "CAP_NOT_GRANTED" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CAP_NOT_GRANTED from the kernel, got %v", res.Execute.ReasonCodes)
	}
	if res.Verdict != trust.Deny {
		t.Fatalf("expected DENY verdict, got %v", res.Verdict)
	}
}

func TestRunBrokersConsentBeforeExecution(t *testing.T) {
	in := kernelInput(t)
	in.Kernel.KnownCaps["net.fetch"] = kernel.CapRequirement{RequiredTier: kernel.TierT1, RequiresConsent: true}
	in.Consent = ConsentConfig{
		Responder: func(msg channel.Message) channel.Message {
			return channel.Message{Envelope: msg.Envelope, Kind: "consent.result", Result: map[string]any{"granted": true, "consentId": "c1"}}
		},
	}

	res := Run(in)
	if res.Execute.Result != ExecuteAllow {
		t.Fatalf("expected ALLOW with brokered consent, got %v reasons=%v", res.Execute.Result, res.Execute.ReasonCodes)
	}
}

func TestRunDeniesConsentRequiringCapWithoutResponder(t *testing.T) {
	in := kernelInput(t)
	in.Kernel.KnownCaps["net.fetch"] = kernel.CapRequirement{RequiredTier: kernel.TierT1, RequiresConsent: true}

	res := Run(in)
	if res.Execute.Result != ExecuteDeny {
		t.Fatalf("expected DENY without a consent surface, got %v", res.Execute.Result)
	}
	found := false
	for _, r := range res.Execute.ReasonCodes {
		if r.Code == "CONSENT_MISSING" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CONSENT_MISSING, got %v", res.Execute.ReasonCodes)
	}
}

// TestResultCanonicalJSONByteStable: repeated runs with identical
// inputs must serialize to byte-identical canonical JSON — the session
// nonce is fresh per run but never reaches the persisted result.
func TestResultCanonicalJSONByteStable(t *testing.T) {
	in := baseInput(t)
	in.ExecutionRequested = true
	in.Evaluator = stubEvaluator{block: stubBlock{value: map[string]any{"ok": true}}}
	in.EntryExportName = "main"

	a := canon.Canonical(Run(in))
	b := canon.Canonical(Run(in))
	if string(a) != string(b) {
		t.Fatalf("loader result not byte-stable:\n%s\n%s", a, b)
	}
}

func TestRunDeniesWhenBlockReportsReasons(t *testing.T) {
	in := baseInput(t)
	in.ExecutionRequested = true
	in.Evaluator = stubEvaluator{block: stubBlock{reasons: []trust.Reason{{Code: "CAP_NOT_GRANTED"}}}}

	res := Run(in)
	if res.Execute.Result != ExecuteDeny {
		t.Fatalf("expected DENY execute result, got %v", res.Execute.Result)
	}
	if res.Verdict != trust.Deny {
		t.Fatalf("expected DENY verdict, got %v", res.Verdict)
	}
}
