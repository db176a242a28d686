// Package kernel implements the capability kernel: a deny-by-default
// decision function over a fixed set of construction parameters and an
// incoming request. The kernel is pure — handleInvoke never performs
// I/O and is referentially transparent given its construction
// parameters and the request.
package kernel

import (
	"reach/internal/channel"
	"reach/internal/trust"
)

// Tier is a compartment's runtime trust tier.
type Tier string

const (
	TierT0 Tier = "T0"
	TierT1 Tier = "T1"
	TierT2 Tier = "T2"
)

// Stamp is a shop stamp bound to an exact blockHash and policyDigest.
type Stamp struct {
	Tier           Tier
	ShopID         string
	PolicyDigest   string
	BlockHash      string
	AcceptDecision trust.Decision
	ReasonCodes    []trust.Reason
	StampDigest    string
	Signature      string
}

// StampVerifier verifies a shop stamp's signature under the kernel's key
// allowlist; it is injected so the kernel stays pure.
type StampVerifier interface {
	VerifyStampSignature(stamp Stamp) bool
}

// ConsentClaim records that a SecretZone consent request was granted for
// a given action/subject pair within a session.
type ConsentClaim struct {
	ConsentID  string
	Action     string
	BlockHash  string
	PlanDigest string
	IssuerID   string
	Seq        int64
}

// Request is a single invoke request arriving at the kernel.
type Request struct {
	ReqID           string
	CapID           string
	ExecutionMode   string
	PlanDigest      string
	SessionNonce    string
	CallerBlockHash string
	Args            map[string]any
}

// CapRequirement describes what a known capability demands of the
// caller before it can be granted.
type CapRequirement struct {
	RequiredTier    Tier
	RequiresStamp   bool
	RequiresConsent bool
}

// Params are the kernel's construction parameters: everything
// handleInvoke is referentially transparent with respect to, besides
// the request itself. PolicyDigest is the kernel's configured policy
// snapshot digest, distinct from PlanDigest: a stamp binds to
// PolicyDigest, never to the plan digest of whichever request happens
// to be in flight.
type Params struct {
	ExecutionMode   string
	PlanDigest      string
	PolicyDigest    string
	SessionNonce    string
	CallerBlockHash string
	RuntimeTier     Tier

	KnownCaps     map[string]CapRequirement
	DisabledCaps  map[string]bool
	GrantedCaps   map[string]bool
	ConsentClaims map[string]ConsentClaim // keyed by capId

	CurrentStamp  *Stamp
	StampVerifier StampVerifier
}

// Decision is the kernel's per-request outcome.
type Decision struct {
	OK      bool
	Reasons []trust.Reason
}

// HandleInvoke runs the ordered check table over req against params and
// returns a deny-by-default decision: ok is true iff no check failed.
func HandleInvoke(params Params, req Request) Decision {
	var reasons []trust.Reason

	if req.ExecutionMode != params.ExecutionMode {
		reasons = append(reasons, trust.Reason{Code: "MODE_MISMATCH", Subject: req.ReqID})
	}
	if req.PlanDigest != params.PlanDigest {
		reasons = append(reasons, trust.Reason{Code: "PLANDIGEST_MISMATCH", Subject: req.ReqID})
	}
	if !channel.ValidateNonce(req.SessionNonce) || !channel.SafeEqual(req.SessionNonce, params.SessionNonce) {
		reasons = append(reasons, trust.Reason{Code: "NONCE_MISMATCH", Subject: req.ReqID})
	}
	if req.CallerBlockHash != params.CallerBlockHash {
		reasons = append(reasons, trust.Reason{Code: "CALLER_MISMATCH", Subject: req.ReqID})
	}

	requirement, known := params.KnownCaps[req.CapID]
	if !known {
		reasons = append(reasons, trust.Reason{Code: "CAP_UNKNOWN", Subject: req.CapID})
		normalized := trust.Normalize(reasons, trust.NormalizeOptions{})
		return Decision{OK: len(normalized) == 0, Reasons: normalized}
	}

	if params.DisabledCaps[req.CapID] {
		reasons = append(reasons, trust.Reason{Code: "NET_DISABLED_IN_V0", Subject: req.CapID})
	}

	if !params.GrantedCaps[req.CapID] {
		reasons = append(reasons, trust.Reason{Code: "CAP_NOT_GRANTED", Subject: req.CapID})
	}

	if !tierSatisfies(params.RuntimeTier, requirement.RequiredTier) {
		reasons = append(reasons, trust.Reason{Code: "TIER_VIOLATION", Subject: req.CapID})
	}

	if requirement.RequiresStamp {
		reasons = append(reasons, checkStamp(params, req)...)
	}

	if requirement.RequiresConsent {
		reasons = append(reasons, checkConsent(params, req)...)
	}

	normalized := trust.Normalize(reasons, trust.NormalizeOptions{})
	return Decision{OK: len(normalized) == 0, Reasons: normalized}
}

// tierOrder gives each tier a strength for the "satisfies" comparison:
// a compartment's runtime tier must be at least as strong as the
// capability's required tier.
var tierOrder = map[Tier]int{TierT0: 0, TierT1: 1, TierT2: 2}

func tierSatisfies(have, required Tier) bool {
	return tierOrder[have] >= tierOrder[required]
}

func checkStamp(params Params, req Request) []trust.Reason {
	stamp := params.CurrentStamp
	if stamp == nil {
		return []trust.Reason{{Code: "STAMP_MISSING", Subject: req.CapID}}
	}

	var reasons []trust.Reason
	if stamp.BlockHash != req.CallerBlockHash || stamp.PolicyDigest != params.PolicyDigest {
		reasons = append(reasons, trust.Reason{Code: "STAMP_INVALID", Subject: req.CapID})
	}
	if stamp.Tier != params.RuntimeTier {
		reasons = append(reasons, trust.Reason{Code: "TIER_VIOLATION", Subject: req.CapID})
	}
	if params.StampVerifier == nil || !params.StampVerifier.VerifyStampSignature(*stamp) {
		reasons = append(reasons, trust.Reason{Code: "STAMP_SIG_INVALID", Subject: req.CapID})
	}
	return reasons
}

func checkConsent(params Params, req Request) []trust.Reason {
	claim, ok := params.ConsentClaims[req.CapID]
	if !ok {
		return []trust.Reason{{Code: "CONSENT_MISSING", Subject: req.CapID}}
	}
	if claim.BlockHash != req.CallerBlockHash || claim.PlanDigest != params.PlanDigest {
		return []trust.Reason{{Code: "CONSENT_INVALID", Subject: req.CapID}}
	}
	return nil
}
