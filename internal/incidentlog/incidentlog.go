// Package incidentlog provides optional durable storage for the
// incidents the artifact store emits: a SQLite-backed append log keyed
// by the store's monotonic sequence number, so incidents survive past
// the in-memory process that raised them.
package incidentlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"reach/internal/errors"
	"reach/internal/store"
)

// Sink is a durable incident sink backed by SQLite.
type Sink struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database under dataRoot and returns
// a Sink ready to record incidents.
func Open(dataRoot string) (*Sink, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, errors.ClassifyAndWrap(err, "incidentlog: create data root")
	}

	dbPath := filepath.Join(dataRoot, "incidents.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreUnavailable, "incidentlog: open database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeStoreUnavailable, "incidentlog: set WAL mode")
	}

	s := &Sink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		seq INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		plan_digest TEXT,
		block_hash TEXT,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_kind ON incidents(kind);
	`
	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, errors.CodeStoreUnavailable, "incidentlog: init schema")
	}
	return nil
}

// Record persists inc, keyed by its own Seq. Recording the same Seq
// twice overwrites the prior row: Seq is assigned once by the store
// that raised the incident and never reused across distinct incidents.
func (s *Sink) Record(ctx context.Context, inc store.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "incidentlog: marshal incident")
	}

	query := `
	INSERT INTO incidents (seq, kind, plan_digest, block_hash, payload)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(seq) DO UPDATE SET
		kind = excluded.kind,
		plan_digest = excluded.plan_digest,
		block_hash = excluded.block_hash,
		payload = excluded.payload;
	`
	if _, err := s.db.ExecContext(ctx, query, inc.Seq, inc.Kind, inc.PlanDigest, inc.BlockHash, string(payload)); err != nil {
		return errors.Wrap(err, errors.CodeIOFailure, "incidentlog: insert incident")
	}
	return nil
}

// Recent returns up to limit incidents ordered by descending Seq, the
// same ordering the persisted loader result's incidentLatest reflects.
func (s *Sink) Recent(ctx context.Context, limit int) ([]store.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT payload FROM incidents ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: query recent")
	}
	defer rows.Close()

	out := make([]store.Incident, 0, limit)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: scan row")
		}
		var inc store.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			return nil, errors.Wrap(err, errors.CodeSerialization, "incidentlog: unmarshal incident")
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: iterate rows")
	}
	return out, nil
}

// ByKind counts persisted incidents grouped by kind, the durable
// counterpart to a single run's in-memory incident summary.
func (s *Sink) ByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM incidents GROUP BY kind`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: count by kind")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: scan count")
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIOFailure, "incidentlog: iterate count rows")
	}
	return counts, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("incidentlog: close: %w", err)
	}
	return nil
}
