// Package store implements the content-addressed artifact store: a
// two-slot (current, lastGood) persistence layer with fail-closed
// recovery and a monotonic per-store incident sequence.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"reach/internal/canon"
	"reach/internal/trust"
)

// Incident is emitted whenever put or read detects digest corruption.
// Incident content is a pure function of its inputs plus Seq, which is
// assigned by the store's monotonic counter.
type Incident struct {
	Kind        string         `json:"kind"`
	PlanDigest  string         `json:"planDigest,omitempty"`
	BlockHash   string         `json:"blockHash,omitempty"`
	ReasonCodes []trust.Reason `json:"reasonCodes"`
	Seq         int64          `json:"seq"`
}

// PutResult is the outcome of Put.
type PutResult struct {
	OK       bool
	Reasons  []trust.Reason
	Incident *Incident
}

// ReadResult is the outcome of Read.
type ReadResult struct {
	OK             bool
	Value          []byte
	ObservedDigest string
	Recovered      bool
	Reasons        []trust.Reason
	Incident       *Incident
}

// Store is the two-slot content-addressed artifact store. Keys are
// content digests ("sha256:<hex>"); each key has a "current" slot
// (authoritative) and a "lastGood" slot (recovery snapshot written on
// every successful Put).
type Store struct {
	mu       sync.Mutex
	root     string
	seq      int64
	current  map[string][]byte
	lastGood map[string][]byte
}

// New constructs a store rooted at dir. If dir is empty the store is
// purely in-memory. If dir is set, each write to a current slot is also
// written atomically to a file under dir; New does not load existing
// files, and Read consults only the in-memory slots.
func New(dir string) *Store {
	return &Store{
		root:     dir,
		current:  make(map[string][]byte),
		lastGood: make(map[string][]byte),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Put computes digest(bytes) and compares it to expectedDigest. On
// mismatch it returns ARTIFACT_DIGEST_MISMATCH with an incident of kind
// "artifact.mismatch" and writes nothing. On success it writes both the
// current and lastGood slots for expectedDigest.
func (s *Store) Put(expectedDigest string, payload []byte) PutResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	observed := canon.Digest(payload)
	if observed != expectedDigest {
		reasons := trust.Normalize([]trust.Reason{{Code: "ARTIFACT_DIGEST_MISMATCH", Subject: expectedDigest}}, trust.NormalizeOptions{})
		incident := &Incident{
			Kind:        "artifact.mismatch",
			BlockHash:   expectedDigest,
			ReasonCodes: reasons,
			Seq:         s.nextSeq(),
		}
		return PutResult{OK: false, Reasons: reasons, Incident: incident}
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.current[expectedDigest] = cp
	lgCp := make([]byte, len(payload))
	copy(lgCp, payload)
	s.lastGood[expectedDigest] = lgCp

	if s.root != "" {
		_ = s.persist(expectedDigest, cp)
	}

	return PutResult{OK: true}
}

// Read looks up expectedDigest. Missing → ARTIFACT_MISSING. If the
// stored bytes' digest doesn't match expectedDigest and a lastGood
// snapshot exists, Read recovers: current is restored from lastGood,
// the lastGood value is returned, reasons are exactly
// [ARTIFACT_DIGEST_MISMATCH, ARTIFACT_RECOVERED], and an incident is
// emitted. Recovery never synthesizes bytes — if both slots diverge
// from expectedDigest, the read fails closed. Recovery is one-shot per
// read: corruption that re-occurs on a later read re-emits a new
// incident with a higher seq.
func (s *Store) Read(expectedDigest string) ReadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, haveCurrent := s.current[expectedDigest]
	if !haveCurrent {
		reasons := trust.Normalize([]trust.Reason{{Code: "ARTIFACT_MISSING", Subject: expectedDigest}}, trust.NormalizeOptions{})
		incident := &Incident{Kind: "artifact.missing", BlockHash: expectedDigest, ReasonCodes: reasons, Seq: s.nextSeq()}
		return ReadResult{OK: false, Reasons: reasons, Incident: incident}
	}

	observed := canon.Digest(current)
	if observed == expectedDigest {
		return ReadResult{OK: true, Value: current, ObservedDigest: observed}
	}

	lastGood, haveLastGood := s.lastGood[expectedDigest]
	if !haveLastGood || canon.Digest(lastGood) != expectedDigest {
		reasons := trust.Normalize([]trust.Reason{{Code: "ARTIFACT_DIGEST_MISMATCH", Subject: expectedDigest}}, trust.NormalizeOptions{})
		incident := &Incident{Kind: "artifact.mismatch", BlockHash: expectedDigest, ReasonCodes: reasons, Seq: s.nextSeq()}
		return ReadResult{OK: false, Reasons: reasons, Incident: incident}
	}

	s.current[expectedDigest] = lastGood
	if s.root != "" {
		_ = s.persist(expectedDigest, lastGood)
	}

	reasons := trust.Normalize([]trust.Reason{
		{Code: "ARTIFACT_DIGEST_MISMATCH", Subject: expectedDigest},
		{Code: "ARTIFACT_RECOVERED", Subject: expectedDigest},
	}, trust.NormalizeOptions{})
	incident := &Incident{Kind: "artifact.mismatch", BlockHash: expectedDigest, ReasonCodes: reasons, Seq: s.nextSeq()}

	return ReadResult{OK: true, Value: lastGood, Recovered: true, Reasons: reasons, Incident: incident}
}

// Corrupt overwrites the current slot for a key without touching
// lastGood, for test setup that simulates tamper scenarios.
func (s *Store) Corrupt(expectedDigest string, tampered []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[expectedDigest] = tampered
}

// DropLastGood removes the lastGood snapshot for a key, for test setup
// that simulates the no-recovery-possible scenario.
func (s *Store) DropLastGood(expectedDigest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastGood, expectedDigest)
}

func (s *Store) persist(digest string, payload []byte) error {
	path := filepath.Join(s.root, digest[len("sha256:"):])
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
