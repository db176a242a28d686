// Package trust implements the reason-code algebra and decision lattice
// that every other component in the engine reports through: a decision
// is never a bare boolean, it is always a set of normalized reasons plus
// a lattice value derived from them.
package trust

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Reason is a single deterministic reason code, optionally carrying a
// "CODE:detail" suffix, and the subject/locator it was raised against.
// Subject and locator participate only in sorting and per-subject
// budgeting; the wire value of a reason is Code alone unless detail is
// set, in which case it renders as "Code:Detail".
type Reason struct {
	Code    string
	Detail  string
	Subject string
	Locator string
}

// maxDetailBytes is the UTF-8 byte cap on a reason's detail suffix,
// truncated at a codepoint boundary.
const maxDetailBytes = 512

// String renders the wire form of a reason: "CODE" or "CODE:detail".
func (r Reason) String() string {
	if r.Detail == "" {
		return r.Code
	}
	return r.Code + ":" + truncateUTF8(r.Detail, maxDetailBytes)
}

// MarshalJSON renders a Reason as its wire token ("CODE" or
// "CODE:detail"), matching String(). Subject and Locator never appear
// on the wire — they are internal sort/budget keys, not persisted
// state — so every persisted reasonCodes array is a plain array of
// strings.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON parses a wire token back into a Reason, splitting on
// the first colon into Code and Detail. Subject and Locator are left
// zero, since the wire form never carries them.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		r.Code = s[:idx]
		r.Detail = s[idx+1:]
	} else {
		r.Code = s
		r.Detail = ""
	}
	r.Subject = ""
	r.Locator = ""
	return nil
}

func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sortKey is the compound key reasons are ordered by: (code, subject,
// locator), with detail as a final tiebreaker so the ordering is total —
// two reasons that differ only in detail must still come out in the same
// byte order on every run.
func (r Reason) sortKey() string {
	return r.Code + "\x00" + r.Subject + "\x00" + r.Locator + "\x00" + r.Detail
}

func lessReason(a, b Reason) bool {
	return a.sortKey() < b.sortKey()
}

func equalReason(a, b Reason) bool {
	return a.Code == b.Code && a.Detail == b.Detail && a.Subject == b.Subject && a.Locator == b.Locator
}

// Budget tracks the process-wide reason count across Normalize calls. A
// Budget is an explicit handle passed by the caller; there is no global
// instance — the core holds no state of its own.
type Budget struct {
	limit int
	used  int
}

// NewBudget returns a budget with the given process-wide cap. A zero or
// negative limit disables budgeting (unlimited).
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// DefaultBudget returns the process-wide default of 2048 reasons.
func DefaultBudget() *Budget {
	return NewBudget(2048)
}

// Used returns the running total consumed so far.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	return b.used
}

// maxPerSubject caps how many reasons a single subject may accumulate.
const maxPerSubject = 32

// NormalizeOptions configures Normalize.
type NormalizeOptions struct {
	// MaxPerSubject overrides the default per-subject cap of 32; zero
	// means use the default.
	MaxPerSubject int
	// Budget is the process-wide handle; nil disables the global cap.
	Budget *Budget
}

// Join returns the deduplicated, sorted union of two reason arrays.
func Join(a, b []Reason) []Reason {
	combined := make([]Reason, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return Normalize(combined, NormalizeOptions{})
}

// Normalize filters out reasons with an empty code and incoming
// TRUST_REASONS_TRUNCATED meta reasons, sorts by (code, subject, locator),
// deduplicates, and applies the per-subject and process-wide budgets. On
// truncation the kept prefix is cut to limit-1 entries and a single meta
// reason "TRUST_REASONS_TRUNCATED:kept=K,dropped=D" is appended, then the
// result is re-sorted (not re-normalized, which would drop the meta
// reason itself).
func Normalize(xs []Reason, opts NormalizeOptions) []Reason {
	maxSubject := opts.MaxPerSubject
	if maxSubject <= 0 {
		maxSubject = maxPerSubject
	}

	filtered := make([]Reason, 0, len(xs))
	for _, r := range xs {
		if strings.TrimSpace(r.Code) == "" {
			continue
		}
		if isMetaCode(r.Code) {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.Slice(filtered, func(i, j int) bool { return lessReason(filtered[i], filtered[j]) })

	deduped := make([]Reason, 0, len(filtered))
	for i, r := range filtered {
		if i > 0 && equalReason(r, filtered[i-1]) {
			continue
		}
		deduped = append(deduped, r)
	}

	perSubjectCapped := applyPerSubjectCap(deduped, maxSubject)

	if opts.Budget == nil {
		return perSubjectCapped
	}

	return applyProcessBudget(perSubjectCapped, opts.Budget)
}

func isMetaCode(code string) bool {
	return strings.HasPrefix(code, "TRUST_REASONS_TRUNCATED")
}

func applyPerSubjectCap(xs []Reason, maxSubject int) []Reason {
	counts := make(map[string]int)
	out := make([]Reason, 0, len(xs))
	for _, r := range xs {
		counts[r.Subject]++
		if counts[r.Subject] > maxSubject {
			continue
		}
		out = append(out, r)
	}
	return out
}

func applyProcessBudget(xs []Reason, budget *Budget) []Reason {
	if budget.limit <= 0 {
		budget.used += len(xs)
		return xs
	}

	remaining := budget.limit - budget.used
	if remaining < 0 {
		remaining = 0
	}

	if len(xs) <= remaining {
		budget.used += len(xs)
		return xs
	}

	keep := remaining - 1
	if keep < 0 {
		keep = 0
	}
	dropped := len(xs) - keep

	kept := make([]Reason, 0, keep+1)
	kept = append(kept, xs[:keep]...)
	kept = append(kept, Reason{
		Code: fmt.Sprintf("TRUST_REASONS_TRUNCATED:kept=%d,dropped=%d", keep, dropped),
	})

	sort.Slice(kept, func(i, j int) bool { return lessReason(kept[i], kept[j]) })

	budget.used += len(kept)
	return kept
}

// CheckpointEq returns [code] if expected != observed, else an empty
// slice. Used throughout the release verifier for digest/checkpoint
// comparisons.
func CheckpointEq(expected, observed, code string) []Reason {
	if expected == observed {
		return nil
	}
	return []Reason{{Code: code}}
}

// AssertSortedUnique panics if xs is not sorted-unique by the compound
// key. This is one of the two places in the engine where a programmer
// error is signaled by a thrown failure rather than a reason code: it
// guards an invariant the rest of the algebra depends on, not a data
// condition a caller can recover from.
func AssertSortedUnique(xs []Reason, kind string) {
	for i := 1; i < len(xs); i++ {
		if !lessReason(xs[i-1], xs[i]) {
			panic(fmt.Sprintf("trust: %s violates sorted-unique invariant at index %d", kind, i))
		}
	}
}
