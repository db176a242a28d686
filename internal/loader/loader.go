// Package loader implements the strict loader: the orchestration that
// runs release verification, artifact recovery, and compartment
// execution in sequence and folds their outcomes into a single
// bit-exact persisted result.
package loader

import (
	"reach/internal/channel"
	"reach/internal/compartment"
	"reach/internal/kernel"
	"reach/internal/plan"
	"reach/internal/release"
	"reach/internal/store"
	"reach/internal/trust"
)

// Input bundles every optional input to a single Run. PlanDigest is the
// digest sessions bind to; when empty it is computed from Plan.
//
// When Kernel is set, Run ignores Caps and constructs the compartment's
// capability surface itself via KernelCaps, filling the session-bound
// fields (mode, plan digest, nonce, caller) before any block code runs;
// consent claims are brokered through Consent. Caps is the escape hatch
// for callers that mediate capability calls some other way.
type Input struct {
	Plan                  plan.Snapshot
	PlanDigest            string
	Release               release.VerifyInput
	ArtifactStore         *store.Store
	ExpectedSourceDigest  string
	ExecutionRequested    bool
	CallerBlockHash       string
	EntryExportName       string
	EntryArgs             map[string]any
	Evaluator             compartment.EvaluatorPort
	Caps                  compartment.Caps
	Kernel                *kernel.Params
	CapImpl               CapImpl
	Consent               ConsentConfig
	ForbiddenGlobalsProbe []string
}

// VerifyRecord is the verify half of the persisted result.
type VerifyRecord struct {
	Verdict            trust.Verdict        `json:"verdict"`
	ReasonCodes        []trust.Reason       `json:"reasonCodes"`
	ReleaseStatus      release.VerifyStatus `json:"releaseStatus"`
	ReleaseReasonCodes []trust.Reason       `json:"releaseReasonCodes"`
	ReleaseID          string               `json:"releaseId,omitempty"`
}

// ExecuteOutcome is the execute half's result tag.
type ExecuteOutcome string

const (
	ExecuteAllow ExecuteOutcome = "ALLOW"
	ExecuteDeny  ExecuteOutcome = "DENY"
	ExecuteSkip  ExecuteOutcome = "SKIP"
)

// ExecuteRecord is the execute half of the persisted result.
type ExecuteRecord struct {
	Attempted   bool           `json:"attempted"`
	Result      ExecuteOutcome `json:"result"`
	ReasonCodes []trust.Reason `json:"reasonCodes"`
}

// IncidentSummary counts incidents observed during this run by severity
// and by kind, even when none occurred.
type IncidentSummary struct {
	Total      int            `json:"total"`
	Info       int            `json:"info"`
	Warn       int            `json:"warn"`
	Deny       int            `json:"deny"`
	Quarantine int            `json:"quarantine"`
	Kinds      map[string]int `json:"kinds"`
}

// Result is the strict loader's persisted output: canonical JSON,
// bit-exact across repeated runs with identical inputs.
type Result struct {
	Verify                 VerifyRecord    `json:"verify"`
	Execute                ExecuteRecord   `json:"execute"`
	Verdict                trust.Verdict   `json:"verdict"`
	ExecutionOK            bool            `json:"executionOk"`
	ReasonCodes            []trust.Reason  `json:"reasonCodes"`
	PlanDigest             string          `json:"planDigest"`
	PolicyDigest           string          `json:"policyDigest,omitempty"`
	EvidenceDigests        []string        `json:"evidenceDigests,omitempty"`
	ExpectedArtifactDigest string          `json:"expectedArtifactDigest,omitempty"`
	ObservedArtifactDigest string          `json:"observedArtifactDigest,omitempty"`
	ReleaseID              string          `json:"releaseId,omitempty"`
	Rollback               bool            `json:"rollback,omitempty"`
	IncidentSummary        IncidentSummary `json:"incidentSummary"`
	IncidentLatest         *store.Incident `json:"incidentLatest,omitempty"`
}

// Run executes the full orchestration described by in and returns the
// persisted result.
func Run(in Input) Result {
	planDigest := in.PlanDigest
	if planDigest == "" {
		planDigest = in.Plan.Digest()
	}

	if in.Release.ExpectedPathDigest == "" && in.Plan.PathSummary != nil {
		in.Release.ExpectedPathDigest = in.Plan.PathDigest()
	}

	releaseResult := release.Verify(in.Release)

	var artifactReasons []trust.Reason
	var recovered bool
	var observedDigest string
	var incident *store.Incident
	var sourceBytes []byte

	if in.ArtifactStore != nil && in.ExpectedSourceDigest != "" {
		readResult := in.ArtifactStore.Read(in.ExpectedSourceDigest)
		artifactReasons = readResult.Reasons
		recovered = readResult.Recovered
		observedDigest = readResult.ObservedDigest
		incident = readResult.Incident
		sourceBytes = readResult.Value

		// The store only knows the artifact's own digest; the loader
		// knows which plan and caller the read was on behalf of.
		if incident != nil {
			incident.PlanDigest = planDigest
			if in.CallerBlockHash != "" {
				incident.BlockHash = in.CallerBlockHash
			}
		}
	}

	verifyReasons := trust.Join(releaseResult.ReasonCodes, artifactReasons)
	verifyQuarantined := hasCode(artifactReasons, "ARTIFACT_DIGEST_MISMATCH") && !hasCode(artifactReasons, "ARTIFACT_RECOVERED")
	verifyOK := len(verifyReasons) == 0

	verifyVerdict := trust.Allow
	switch {
	case verifyQuarantined:
		verifyVerdict = trust.Quarantine
	case !verifyOK:
		verifyVerdict = trust.Deny
	}

	executeRecord := ExecuteRecord{Result: ExecuteSkip}
	executeOK := false

	if in.ExecutionRequested {
		nonce, _ := channel.NewNonce()
		env := channel.Envelope{ExecutionMode: in.Plan.Mode, PlanDigest: planDigest, SessionNonce: nonce}
		_, childPort := channel.CreateBoundChannel(env)

		caps := in.Caps
		if in.Kernel != nil {
			kp := *in.Kernel
			kp.ExecutionMode = in.Plan.Mode
			kp.PlanDigest = planDigest
			kp.SessionNonce = nonce
			kp.CallerBlockHash = in.CallerBlockHash
			if kp.ConsentClaims == nil {
				kp.ConsentClaims = brokerConsent(kp, env, in.Consent)
			}
			caps = KernelCaps(kp, in.CapImpl)
		}

		bootstrap := &compartment.Bootstrap{Evaluator: in.Evaluator, Caps: caps}
		initMsg := compartment.Init{
			ExecutionMode:   in.Plan.Mode,
			PlanDigest:      planDigest,
			SessionNonce:    nonce,
			CallerBlockHash: in.CallerBlockHash,
			SourceText:      string(sourceBytes),
			EntryExportName: in.EntryExportName,
			EntryArgs:       in.EntryArgs,
			Port:            childPort,
		}

		bootResult := bootstrap.Run(initMsg, in.ForbiddenGlobalsProbe)
		executeRecord.Attempted = true
		executeRecord.ReasonCodes = bootResult.Reasons

		switch {
		case hasCode(bootResult.Reasons, "STRICT_COMPARTMENT_UNAVAILABLE"):
			executeRecord.Result = ExecuteSkip
		case bootResult.OK:
			executeRecord.Result = ExecuteAllow
			executeOK = true
		default:
			executeRecord.Result = ExecuteDeny
		}
	}

	verdict := trust.JoinVerdict(verifyQuarantined, verifyOK, executeOK || !in.ExecutionRequested)

	// The top-level reason set unions the execute and artifact reasons;
	// release reasons stay inside the verify record, which carries them
	// verbatim alongside its own verdict.
	mergedReasons := trust.Join(artifactReasons, executeRecord.ReasonCodes)

	summary := buildIncidentSummary(incident, recovered)

	return Result{
		Verify: VerifyRecord{
			Verdict:            verifyVerdict,
			ReasonCodes:        verifyReasons,
			ReleaseStatus:      releaseResult.Status,
			ReleaseReasonCodes: releaseResult.ReasonCodes,
			ReleaseID:          releaseResult.ObservedReleaseID,
		},
		Execute:                executeRecord,
		Verdict:                verdict,
		ExecutionOK:            executeOK || !in.ExecutionRequested,
		ReasonCodes:            mergedReasons,
		PlanDigest:             planDigest,
		PolicyDigest:           in.Plan.PolicyDigest,
		EvidenceDigests:        in.Plan.EvidenceDigests,
		ExpectedArtifactDigest: in.ExpectedSourceDigest,
		ObservedArtifactDigest: observedDigest,
		ReleaseID:              releaseResult.ObservedReleaseID,
		Rollback:               recovered,
		IncidentSummary:        summary,
		IncidentLatest:         incident,
	}
}

func hasCode(xs []trust.Reason, code string) bool {
	for _, r := range xs {
		if r.Code == code {
			return true
		}
	}
	return false
}

// buildIncidentSummary buckets the run's single incident by severity.
// recovered disambiguates the two cases that share Kind "artifact.mismatch":
// a tamper the store healed from lastGood (warn) versus one it could not
// recover, which quarantines the result.
func buildIncidentSummary(incident *store.Incident, recovered bool) IncidentSummary {
	summary := IncidentSummary{Kinds: map[string]int{}}
	if incident == nil {
		return summary
	}
	summary.Total = 1
	summary.Kinds[incident.Kind] = 1
	switch {
	case incident.Kind == "artifact.mismatch" && recovered:
		summary.Warn = 1
	case incident.Kind == "artifact.mismatch":
		summary.Quarantine = 1
	case incident.Kind == "artifact.missing":
		summary.Deny = 1
	default:
		summary.Info = 1
	}
	return summary
}
