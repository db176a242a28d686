package incidentlog

import (
	"context"
	"path/filepath"
	"testing"

	"reach/internal/store"
	"reach/internal/trust"
)

func TestRecordAndRecentRoundTrips(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	inc := store.Incident{
		Kind:        "artifact.recovered",
		PlanDigest:  "sha256:plan",
		BlockHash:   "sha256:block",
		ReasonCodes: []trust.Reason{{Code: "ARTIFACT_RECOVERED"}},
		Seq:         1,
	}
	if err := sink.Record(ctx, inc); err != nil {
		t.Fatalf("record: %v", err)
	}

	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Kind != "artifact.recovered" || recent[0].Seq != 1 {
		t.Fatalf("unexpected recent: %+v", recent)
	}
}

func TestByKindCounts(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	sink.Record(ctx, store.Incident{Kind: "artifact.mismatch", Seq: 1})
	sink.Record(ctx, store.Incident{Kind: "artifact.mismatch", Seq: 2})
	sink.Record(ctx, store.Incident{Kind: "artifact.missing", Seq: 3})

	counts, err := sink.ByKind(ctx)
	if err != nil {
		t.Fatalf("bykind: %v", err)
	}
	if counts["artifact.mismatch"] != 2 || counts["artifact.missing"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestOpenCreatesNestedDataRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	sink, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sink.Close()
}
