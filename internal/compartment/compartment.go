// Package compartment implements the sandbox-side bootstrap that runs
// inside the compartment's logical execution context: hardening
// self-test, curated capability endowments, and a single source-eval
// plus entry-point invocation. Go has no JavaScript-style Compartment
// primitive, so block source text is handed to an injected
// EvaluatorPort implementation rather than evaluated as script; the
// bootstrap sequence and its failure modes are otherwise unchanged.
package compartment

import (
	"errors"
	"sort"

	"reach/internal/channel"
	"reach/internal/trust"
)

// ErrEntryMissing is returned by a Block whose exports do not include
// the requested entry name.
var ErrEntryMissing = errors.New("compartment: entry export not found")

// forbiddenGlobals is the self-test's deny list: names a hardened
// compartment must never expose.
var forbiddenGlobals = []string{
	"caches", "EventSource", "fetch", "importScripts", "indexedDB",
	"localStorage", "sessionStorage", "WebSocket", "XMLHttpRequest",
}

// Caps is the frozen shape of host callbacks available to a block:
// net.fetch, storage.read, storage.write. Each call serializes an
// "invoke" message over the bound channel and awaits a correlated
// result.
type Caps struct {
	NetFetch     func(args map[string]any) (map[string]any, []trust.Reason)
	StorageRead  func(args map[string]any) (map[string]any, []trust.Reason)
	StorageWrite func(args map[string]any) (map[string]any, []trust.Reason)
}

// Block is the evaluated unit of untrusted code. It is constructed by
// an EvaluatorPort from source text and exposes its entry export.
type Block interface {
	// Invoke calls the named export with args and returns its result or
	// the block's own reason codes on failure.
	Invoke(exportName string, args map[string]any) (map[string]any, []trust.Reason, error)
}

// EvaluatorPort abstracts "evaluate this source once" — the one place a
// real Compartment primitive would differ from this Go port.
type EvaluatorPort interface {
	// Eval compiles sourceText into a Block bound to caps. An error
	// return models SANDBOX_EVAL_ERROR.
	Eval(sourceText string, caps Caps) (Block, error)
}

// Init mirrors the host's init{...} message to the compartment.
type Init struct {
	ExecutionMode   string
	PlanDigest      string
	SessionNonce    string
	CallerBlockHash string
	SourceText      string
	EntryExportName string
	EntryArgs       map[string]any
	Port            *channel.Port
}

// Bootstrap is a sandbox-side compartment construction. Run performs
// the ordered sequence: construct the compartment (evaluator check),
// self-test, eval, and invoke. Sealing host-messaging is the separate
// SealHostMessaging call, which Run does not make; no globals are frozen.
type Bootstrap struct {
	Evaluator EvaluatorPort
	Caps      Caps

	untrustedPostMessageUsed bool
	hardened                 bool
}

// Result is the outcome of running a full bootstrap sequence.
type Result struct {
	OK      bool
	Value   map[string]any
	Reasons []trust.Reason
}

// SealHostMessaging overwrites any global post-to-host function with
// one that records untrustedPostMessageUsed and reports UNTRUSTED_CHANNEL
// on use. In this Go port sealing is represented by the flag the
// Bootstrap itself checks after invocation; there is no ambient global
// object to mutate.
func (b *Bootstrap) SealHostMessaging() {
	b.untrustedPostMessageUsed = false
}

// TripUntrustedChannel is called by an evaluator implementation if the
// block attempts to post to the host outside its caps surface.
func (b *Bootstrap) TripUntrustedChannel() {
	b.untrustedPostMessageUsed = true
}

// SelfTest evaluates a probe for forbidden globals. globalsPresent names
// whichever forbidden globals, if any, the evaluator's runtime exposes;
// a hardened EvaluatorPort returns an empty set. Findings are reported
// one reason per name, sorted.
func (b *Bootstrap) SelfTest(globalsPresent []string) []trust.Reason {
	present := make(map[string]bool, len(globalsPresent))
	for _, g := range globalsPresent {
		present[g] = true
	}

	var found []string
	for _, g := range forbiddenGlobals {
		if present[g] {
			found = append(found, g)
		}
	}
	sort.Strings(found)

	var reasons []trust.Reason
	for _, g := range found {
		reasons = append(reasons, trust.Reason{Code: "SANDBOX_HARDENING_FAILED", Detail: g})
	}

	if len(reasons) == 0 {
		b.hardened = true
	}
	return trust.Normalize(reasons, trust.NormalizeOptions{})
}

// Run executes the full bootstrap sequence against init, given the
// observed forbidden-globals probe result from SelfTest. If Evaluator
// is nil, STRICT_COMPARTMENT_UNAVAILABLE is reported in place of a
// Compartment primitive no longer being constructible.
func (b *Bootstrap) Run(init Init, globalsPresent []string) Result {
	if b.Evaluator == nil {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "STRICT_COMPARTMENT_UNAVAILABLE"}}, trust.NormalizeOptions{})}
	}

	if reasons := b.SelfTest(globalsPresent); len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	block, err := b.Evaluator.Eval(init.SourceText, b.Caps)
	if err != nil {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "SANDBOX_EVAL_ERROR"}}, trust.NormalizeOptions{})}
	}

	value, blockReasons, invokeErr := block.Invoke(init.EntryExportName, init.EntryArgs)

	if b.untrustedPostMessageUsed {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "UNTRUSTED_CHANNEL"}}, trust.NormalizeOptions{})}
	}

	if errors.Is(invokeErr, ErrEntryMissing) {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "SANDBOX_ENTRY_MISSING"}}, trust.NormalizeOptions{})}
	}
	if invokeErr != nil {
		return Result{Reasons: trust.Normalize([]trust.Reason{{Code: "SANDBOX_EXECUTION_ERROR"}}, trust.NormalizeOptions{})}
	}

	normalized := trust.Normalize(blockReasons, trust.NormalizeOptions{})
	return Result{OK: len(normalized) == 0, Value: value, Reasons: normalized}
}
