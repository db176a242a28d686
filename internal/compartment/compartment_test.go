package compartment

import (
	"errors"
	"testing"

	"reach/internal/trust"
)

type stubBlock struct {
	value   map[string]any
	reasons []trust.Reason
	err     error
}

func (b stubBlock) Invoke(exportName string, args map[string]any) (map[string]any, []trust.Reason, error) {
	return b.value, b.reasons, b.err
}

type stubEvaluator struct {
	block Block
	err   error
}

func (e stubEvaluator) Eval(sourceText string, caps Caps) (Block, error) {
	return e.block, e.err
}

func TestRunSucceedsWithCleanSelfTestAndBlock(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{block: stubBlock{value: map[string]any{"ok": true}}}}
	res := b.Run(Init{EntryExportName: "main"}, nil)
	if !res.OK || res.Value["ok"] != true {
		t.Fatalf("expected successful run, got %+v", res)
	}
}

func TestRunReportsHardeningFailureSorted(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{block: stubBlock{}}}
	res := b.Run(Init{}, []string{"fetch", "WebSocket"})
	if res.OK {
		t.Fatal("expected failure on hardening violation")
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %v", res.Reasons)
	}
	if res.Reasons[0].Detail != "WebSocket" || res.Reasons[1].Detail != "fetch" {
		t.Fatalf("expected sorted detail order, got %v", res.Reasons)
	}
}

func TestRunReportsCompartmentUnavailableWithNoEvaluator(t *testing.T) {
	b := &Bootstrap{}
	res := b.Run(Init{}, nil)
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "STRICT_COMPARTMENT_UNAVAILABLE" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestRunReportsEvalError(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{err: errors.New("bad source")}}
	res := b.Run(Init{}, nil)
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "SANDBOX_EVAL_ERROR" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestRunReportsEntryMissing(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{block: stubBlock{err: ErrEntryMissing}}}
	res := b.Run(Init{EntryExportName: "missing"}, nil)
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "SANDBOX_ENTRY_MISSING" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestRunReportsExecutionError(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{block: stubBlock{err: errors.New("boom")}}}
	res := b.Run(Init{}, nil)
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "SANDBOX_EXECUTION_ERROR" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}

func TestRunReportsUntrustedChannelOverridesOtherOutcomes(t *testing.T) {
	b := &Bootstrap{Evaluator: stubEvaluator{block: stubBlock{value: map[string]any{"ok": true}}}}
	b.TripUntrustedChannel()
	res := b.Run(Init{}, nil)
	if len(res.Reasons) != 1 || res.Reasons[0].Code != "UNTRUSTED_CHANNEL" {
		t.Fatalf("reasons = %v", res.Reasons)
	}
}
