package trust

// Decision is a three-valued lattice value. NO absorbs: joining NO with
// anything yields NO. YES joined with YES yields YES. Every other
// combination yields MAYBE.
type Decision string

const (
	Yes   Decision = "YES"
	Maybe Decision = "MAYBE"
	No    Decision = "NO"
)

// JoinDecision computes a ⊔ b under the lattice's join table.
func JoinDecision(a, b Decision) Decision {
	if a == No || b == No {
		return No
	}
	if a == Yes && b == Yes {
		return Yes
	}
	return Maybe
}

// Verdict is the strict loader's derived outcome: {ALLOW, DENY, QUARANTINE}.
type Verdict string

const (
	Allow      Verdict = "ALLOW"
	Deny       Verdict = "DENY"
	Quarantine Verdict = "QUARANTINE"
)

// JoinVerdict derives the loader verdict from the verify and execute
// sub-verdicts: QUARANTINE dominates; else DENY unless both yield ALLOW.
func JoinVerdict(verifyQuarantined bool, verifyOK, executeOK bool) Verdict {
	if verifyQuarantined {
		return Quarantine
	}
	if verifyOK && executeOK {
		return Allow
	}
	return Deny
}
