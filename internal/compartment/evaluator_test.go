package compartment

import (
	"errors"
	"testing"

	"reach/internal/trust"
)

const declSourceText = `{"exports": {"main": {
	"calls": [{"cap": "storage.read", "args": {"digest": "sha256:abc"}}],
	"value": {"ok": true}
}}}`

func TestDeclEvaluatorInvokesDeclaredCalls(t *testing.T) {
	var gotArgs map[string]any
	caps := Caps{
		StorageRead: func(args map[string]any) (map[string]any, []trust.Reason) {
			gotArgs = args
			return map[string]any{"payload": "x"}, nil
		},
	}

	block, err := DeclEvaluator{}.Eval(declSourceText, caps)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	value, reasons, invokeErr := block.Invoke("main", nil)
	if invokeErr != nil || len(reasons) != 0 {
		t.Fatalf("invoke: err=%v reasons=%v", invokeErr, reasons)
	}
	if value["ok"] != true {
		t.Fatalf("value = %v", value)
	}
	if gotArgs["digest"] != "sha256:abc" {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestDeclEvaluatorSurfacesCallDenial(t *testing.T) {
	caps := Caps{
		StorageRead: func(args map[string]any) (map[string]any, []trust.Reason) {
			return nil, []trust.Reason{{Code: "CAP_NOT_GRANTED", Subject: "storage.read"}}
		},
	}

	block, err := DeclEvaluator{}.Eval(declSourceText, caps)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	_, reasons, invokeErr := block.Invoke("main", nil)
	if invokeErr != nil {
		t.Fatalf("invoke: %v", invokeErr)
	}
	if len(reasons) != 1 || reasons[0].Code != "CAP_NOT_GRANTED" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestDeclEvaluatorMissingEntry(t *testing.T) {
	block, err := DeclEvaluator{}.Eval(`{"exports": {}}`, Caps{})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	_, _, invokeErr := block.Invoke("main", nil)
	if !errors.Is(invokeErr, ErrEntryMissing) {
		t.Fatalf("err = %v, want ErrEntryMissing", invokeErr)
	}
}

func TestDeclEvaluatorRejectsMalformedSource(t *testing.T) {
	if _, err := (DeclEvaluator{}).Eval("not json", Caps{}); err == nil {
		t.Fatal("expected eval error for malformed source")
	}
}
