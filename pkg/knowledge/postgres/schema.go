// Package postgres provides a PostgreSQL-backed implementation of
// [knowledge.TripleStore].
//
// Unlike the in-memory variant, every mutation runs in a single transaction
// covering both the live record and its version history entry: a versioning
// failure rolls back the structural mutation. Temporal selection is pushed
// into SQL (DISTINCT ON over the version table) rather than replayed in Go.
//
// All tables are tenant-partitioned by a leading tenant_id column and every
// statement filters on it, so no query can cross tenants.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	t, err := store.AddTriple(ctx, tenant, triple)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlGraphs = `
CREATE TABLE IF NOT EXISTS graphs (
    tenant_id   TEXT         NOT NULL,
    uri         TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, uri)
);
`

const ddlTriples = `
CREATE TABLE IF NOT EXISTS triples (
    tenant_id           TEXT              NOT NULL,
    id                  TEXT              NOT NULL,
    subject_id          TEXT              NOT NULL,
    predicate_uri       TEXT              NOT NULL,
    object_id           TEXT              NOT NULL,
    is_literal          BOOLEAN           NOT NULL DEFAULT FALSE,
    literal_data_type   TEXT              NOT NULL DEFAULT '',
    language_tag        TEXT              NOT NULL DEFAULT '',
    graph_uri           TEXT              NOT NULL,
    confidence          DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ       NOT NULL,
    updated_at          TIMESTAMPTZ       NOT NULL,
    source_document_id  TEXT              NOT NULL DEFAULT '',
    is_verified         BOOLEAN           NOT NULL DEFAULT FALSE,
    version             INTEGER           NOT NULL,
    provenance          JSONB             NOT NULL DEFAULT '{}',
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_triples_graph
    ON triples (tenant_id, graph_uri);

CREATE INDEX IF NOT EXISTS idx_triples_subject
    ON triples (tenant_id, subject_id);

CREATE INDEX IF NOT EXISTS idx_triples_predicate
    ON triples (tenant_id, predicate_uri);

CREATE INDEX IF NOT EXISTS idx_triples_object
    ON triples (tenant_id, object_id);

CREATE INDEX IF NOT EXISTS idx_triples_created_at
    ON triples (tenant_id, created_at);
`

const ddlTripleVersions = `
CREATE TABLE IF NOT EXISTS triple_versions (
    tenant_id           TEXT              NOT NULL,
    triple_id           TEXT              NOT NULL,
    version_number      INTEGER           NOT NULL,
    change_type         TEXT              NOT NULL,
    changed_by          TEXT              NOT NULL DEFAULT '',
    comment             TEXT              NOT NULL DEFAULT '',
    recorded_at         TIMESTAMPTZ       NOT NULL,
    subject_id          TEXT              NOT NULL,
    predicate_uri       TEXT              NOT NULL,
    object_id           TEXT              NOT NULL,
    is_literal          BOOLEAN           NOT NULL DEFAULT FALSE,
    literal_data_type   TEXT              NOT NULL DEFAULT '',
    language_tag        TEXT              NOT NULL DEFAULT '',
    graph_uri           TEXT              NOT NULL,
    confidence          DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ       NOT NULL,
    updated_at          TIMESTAMPTZ       NOT NULL,
    source_document_id  TEXT              NOT NULL DEFAULT '',
    is_verified         BOOLEAN           NOT NULL DEFAULT FALSE,
    triple_version      INTEGER           NOT NULL,
    provenance          JSONB             NOT NULL DEFAULT '{}',
    PRIMARY KEY (tenant_id, triple_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_triple_versions_recorded_at
    ON triple_versions (tenant_id, recorded_at);

CREATE INDEX IF NOT EXISTS idx_triple_versions_changed_by
    ON triple_versions (tenant_id, changed_by);
`

const ddlSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    tenant_id   TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL,
    graph_uris  TEXT[]       NOT NULL,
    PRIMARY KEY (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS snapshot_triples (
    tenant_id           TEXT              NOT NULL,
    snapshot_name       TEXT              NOT NULL,
    position            INTEGER           NOT NULL,
    id                  TEXT              NOT NULL,
    subject_id          TEXT              NOT NULL,
    predicate_uri       TEXT              NOT NULL,
    object_id           TEXT              NOT NULL,
    is_literal          BOOLEAN           NOT NULL DEFAULT FALSE,
    literal_data_type   TEXT              NOT NULL DEFAULT '',
    language_tag        TEXT              NOT NULL DEFAULT '',
    graph_uri           TEXT              NOT NULL,
    confidence          DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ       NOT NULL,
    updated_at          TIMESTAMPTZ       NOT NULL,
    source_document_id  TEXT              NOT NULL DEFAULT '',
    is_verified         BOOLEAN           NOT NULL DEFAULT FALSE,
    version             INTEGER           NOT NULL,
    provenance          JSONB             NOT NULL DEFAULT '{}',
    PRIMARY KEY (tenant_id, snapshot_name, position),
    FOREIGN KEY (tenant_id, snapshot_name)
        REFERENCES snapshots (tenant_id, name) ON DELETE CASCADE
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlGraphs,
		ddlTriples,
		ddlTripleVersions,
		ddlSnapshots,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
