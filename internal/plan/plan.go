// Package plan defines the plan snapshot: the acyclic, digest-keyed
// descriptor that pins a session's artifacts, grants, policy, and
// execution mode. The plan digest is the content digest of the
// snapshot's canonical JSON, so changing any field — policyDigest
// included — invalidates every session bound to it.
package plan

import (
	"reach/internal/canon"
)

// Execution modes a snapshot may declare.
const (
	ModeStrict        = "strict"
	ModeStrictPrivacy = "strict-privacy"
)

// ArtifactRef pins one DAG node to its content hash.
type ArtifactRef struct {
	NodeID      string `json:"nodeId"`
	ContentHash string `json:"contentHash"`
}

// Grant lists the capabilities a single block is eligible for.
type Grant struct {
	BlockHash    string   `json:"blockHash"`
	EligibleCaps []string `json:"eligibleCaps"`
}

// Snapshot is the full plan descriptor. All references are by digest;
// the structure holds no back-edges.
type Snapshot struct {
	GraphDigest     string         `json:"graphDigest"`
	Artifacts       []ArtifactRef  `json:"artifacts"`
	PolicyDigest    string         `json:"policyDigest"`
	EvidenceDigests []string       `json:"evidenceDigests"`
	Grants          []Grant        `json:"grants"`
	Mode            string         `json:"mode"`
	Tier            string         `json:"tier"`
	PathSummary     map[string]any `json:"pathSummary"`
}

// Digest returns the plan digest: the content digest of the snapshot's
// canonical JSON.
func (s Snapshot) Digest() string {
	return canon.DigestValue(s)
}

// PathDigest returns the digest of the snapshot's path summary, or ""
// when no summary is present.
func (s Snapshot) PathDigest() string {
	if s.PathSummary == nil {
		return ""
	}
	return canon.DigestValue(s.PathSummary)
}

// EligibleCaps returns the capability set granted to blockHash, or nil
// when the plan grants it nothing.
func (s Snapshot) EligibleCaps(blockHash string) []string {
	for _, g := range s.Grants {
		if g.BlockHash == blockHash {
			return g.EligibleCaps
		}
	}
	return nil
}
