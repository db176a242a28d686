package trust

import (
	"encoding/json"
	"reflect"
	"testing"
)

func r(code, subject, locator string) Reason {
	return Reason{Code: code, Subject: subject, Locator: locator}
}

func TestNormalizeIdempotent(t *testing.T) {
	xs := []Reason{r("B", "s1", "l1"), r("A", "s1", "l1"), r("A", "s1", "l1")}
	once := Normalize(xs, NormalizeOptions{})
	twice := Normalize(once, NormalizeOptions{})
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Normalize not idempotent: %v vs %v", once, twice)
	}
}

func TestJoinCommutativeAndAssociative(t *testing.T) {
	a := []Reason{r("A", "s", "l")}
	b := []Reason{r("B", "s", "l")}
	c := []Reason{r("C", "s", "l")}

	if !reflect.DeepEqual(Join(a, b), Join(b, a)) {
		t.Fatal("Join not commutative")
	}
	left := Join(a, Join(b, c))
	right := Join(Join(a, b), c)
	if !reflect.DeepEqual(left, right) {
		t.Fatal("Join not associative")
	}
	if !reflect.DeepEqual(Join(a, a), Normalize(a, NormalizeOptions{})) {
		t.Fatal("Join(a,a) must equal Normalize(a)")
	}
}

func TestNormalizeSortsByCompoundKey(t *testing.T) {
	xs := []Reason{r("B", "s2", "l1"), r("B", "s1", "l1"), r("A", "s1", "l1")}
	got := Normalize(xs, NormalizeOptions{})
	want := []Reason{r("A", "s1", "l1"), r("B", "s1", "l1"), r("B", "s2", "l1")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalizeDropsMetaCodesAndEmpty(t *testing.T) {
	xs := []Reason{{Code: ""}, {Code: "TRUST_REASONS_TRUNCATED:kept=1,dropped=2"}, r("A", "s", "l")}
	got := Normalize(xs, NormalizeOptions{})
	if len(got) != 1 || got[0].Code != "A" {
		t.Fatalf("Normalize() = %v, want only [A]", got)
	}
}

func TestNormalizePerSubjectCap(t *testing.T) {
	var xs []Reason
	for i := 0; i < 40; i++ {
		xs = append(xs, Reason{Code: "C", Subject: "s", Locator: string(rune('a' + i))})
	}
	got := Normalize(xs, NormalizeOptions{})
	if len(got) != maxPerSubject {
		t.Fatalf("got %d reasons, want cap %d", len(got), maxPerSubject)
	}
}

func TestNormalizeProcessBudgetTruncates(t *testing.T) {
	budget := NewBudget(10)
	var xs []Reason
	for i := 0; i < 15; i++ {
		xs = append(xs, Reason{Code: "C", Subject: string(rune('a' + i)), Locator: "l"})
	}
	got := Normalize(xs, NormalizeOptions{Budget: budget})
	if len(got) != 10 {
		t.Fatalf("got %d reasons, want budget-capped 10", len(got))
	}
	last := got[len(got)-1]
	if last.Code != "TRUST_REASONS_TRUNCATED:kept=9,dropped=6" {
		t.Fatalf("unexpected truncation marker: %s", last.Code)
	}
	if budget.Used() != 10 {
		t.Fatalf("budget.Used() = %d, want 10", budget.Used())
	}
}

// TestNormalizeOrdersDetailTiebreakDeterministically: two reasons that
// share (code, subject, locator) but differ in detail must come out in
// the same byte order on every run.
func TestNormalizeOrdersDetailTiebreakDeterministically(t *testing.T) {
	xs := []Reason{
		{Code: "SANDBOX_HARDENING_FAILED", Detail: "fetch"},
		{Code: "SANDBOX_HARDENING_FAILED", Detail: "WebSocket"},
	}
	got := Normalize(xs, NormalizeOptions{})
	if len(got) != 2 || got[0].Detail != "WebSocket" || got[1].Detail != "fetch" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCheckpointEq(t *testing.T) {
	if got := CheckpointEq("a", "a", "CODE"); len(got) != 0 {
		t.Fatalf("expected no reason for equal values, got %v", got)
	}
	if got := CheckpointEq("a", "b", "CODE"); len(got) != 1 || got[0].Code != "CODE" {
		t.Fatalf("expected [CODE], got %v", got)
	}
}

func TestJoinDecisionLattice(t *testing.T) {
	cases := []struct {
		a, b Decision
		want Decision
	}{
		{Yes, Yes, Yes},
		{Yes, Maybe, Maybe},
		{Yes, No, No},
		{No, Yes, No},
		{Maybe, Maybe, Maybe},
		{No, No, No},
	}
	for _, c := range cases {
		if got := JoinDecision(c.a, c.b); got != c.want {
			t.Fatalf("JoinDecision(%s,%s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestJoinVerdict(t *testing.T) {
	if JoinVerdict(true, false, false) != Quarantine {
		t.Fatal("quarantine must dominate")
	}
	if JoinVerdict(false, true, true) != Allow {
		t.Fatal("allow requires both ok")
	}
	if JoinVerdict(false, true, false) != Deny {
		t.Fatal("deny when execute not ok")
	}
}

func TestAssertSortedUniquePanicsOnViolation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unsorted input")
		}
	}()
	AssertSortedUnique([]Reason{r("B", "", ""), r("A", "", "")}, "test")
}

func TestAssertSortedUniqueAcceptsValid(t *testing.T) {
	AssertSortedUnique([]Reason{r("A", "", ""), r("B", "", "")}, "test")
}

func TestReasonJSONRoundTripMatchesString(t *testing.T) {
	in := Reason{Code: "FOO", Detail: "bar", Subject: "s", Locator: "l"}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(b); got != `"FOO:bar"` {
		t.Fatalf("Marshal(%v) = %s, want \"FOO:bar\"", in, got)
	}

	var out Reason
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := Reason{Code: "FOO", Detail: "bar"}
	if out != want {
		t.Fatalf("Unmarshal(%s) = %+v, want %+v", b, out, want)
	}
}

func TestReasonJSONBareCode(t *testing.T) {
	in := Reason{Code: "FOO"}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(b); got != `"FOO"` {
		t.Fatalf("Marshal(%v) = %s, want \"FOO\"", in, got)
	}

	var out Reason
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("Unmarshal(%s) = %+v, want %+v", b, out, in)
	}
}

func TestReasonJSONInSlicePreservesOrder(t *testing.T) {
	xs := []Reason{{Code: "A"}, {Code: "B", Detail: "d"}}
	b, err := json.Marshal(xs)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(b); got != `["A","B:d"]` {
		t.Fatalf("Marshal(%v) = %s, want [\"A\",\"B:d\"]", xs, got)
	}
}
