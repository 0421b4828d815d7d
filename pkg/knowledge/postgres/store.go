package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Compile-time interface check.
var _ knowledge.TripleStore = (*Store)(nil)

// Store is a PostgreSQL-backed [knowledge.TripleStore]. All operations are
// safe for concurrent use; per-triple write serialisation relies on row locks
// (SELECT ... FOR UPDATE) inside each mutation transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn and
// runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// checkArgs validates the tenant and context shared by every operation.
func checkArgs(ctx context.Context, tenant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tenant == "" {
		return fmt.Errorf("postgres store: empty tenant: %w", knowledge.ErrInvalidArgument)
	}
	return nil
}

// prepare normalises and completes a triple for insertion. It assigns an ID
// when missing, applies URI normalisation, and resolves the default graph.
func prepare(tenant string, t knowledge.Triple) (knowledge.Triple, error) {
	if t.Confidence < 0 || t.Confidence > 1 {
		return knowledge.Triple{}, fmt.Errorf("postgres store: confidence %v outside [0,1]: %w", t.Confidence, knowledge.ErrInvalidArgument)
	}
	if t.SubjectID == "" || t.PredicateURI == "" || t.ObjectID == "" {
		return knowledge.Triple{}, fmt.Errorf("postgres store: subject, predicate and object must be non-empty: %w", knowledge.ErrInvalidArgument)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.TenantID = tenant
	t.SubjectID = knowledge.NormalizeURI(t.SubjectID)
	t.PredicateURI = knowledge.NormalizeURI(t.PredicateURI)
	if !t.IsLiteral {
		t.ObjectID = knowledge.NormalizeURI(t.ObjectID)
	}
	if t.GraphURI == "" {
		t.GraphURI = knowledge.DefaultGraphURI(tenant)
	} else {
		t.GraphURI = knowledge.NormalizeURI(t.GraphURI)
	}
	return t, nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// AddTriple implements [knowledge.TripleStore].
func (s *Store) AddTriple(ctx context.Context, tenant string, t knowledge.Triple) (knowledge.Triple, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}
	t, err := prepare(tenant, t)
	if err != nil {
		return knowledge.Triple{}, err
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := ensureGraph(ctx, tx, tenant, t.GraphURI); err != nil {
			return err
		}
		if err := insertTriple(ctx, tx, t); err != nil {
			return err
		}
		return insertVersion(ctx, tx, knowledge.TripleVersion{
			Triple:        t,
			TripleID:      t.ID,
			VersionNumber: 1,
			Change:        knowledge.ChangeCreation,
			RecordedAt:    now,
		})
	})
	if err != nil {
		return knowledge.Triple{}, err
	}
	return t, nil
}

// AddTriples implements [knowledge.TripleStore]. Elements are inserted in
// input order; a failing element is logged and skipped.
func (s *Store) AddTriples(ctx context.Context, tenant string, triples []knowledge.Triple) (int, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return 0, err
	}
	added := 0
	for i, t := range triples {
		if _, err := s.AddTriple(ctx, tenant, t); err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			slog.Warn("postgres store: batch element rejected", "index", i, "err", err)
			continue
		}
		added++
	}
	return added, nil
}

// GetTriple implements [knowledge.TripleStore].
func (s *Store) GetTriple(ctx context.Context, tenant, id string) (knowledge.Triple, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}

	q := `SELECT ` + tripleColumns + ` FROM triples WHERE tenant_id = $1 AND id = $2`
	rows, err := s.pool.Query(ctx, q, tenant, id)
	if err != nil {
		return knowledge.Triple{}, fmt.Errorf("postgres store: get triple: %w", err)
	}
	triples, err := collectTriples(rows)
	if err != nil {
		return knowledge.Triple{}, fmt.Errorf("postgres store: get triple: %w", err)
	}
	if len(triples) == 0 {
		return knowledge.Triple{}, notFound(id)
	}
	return triples[0], nil
}

// UpdateTriple implements [knowledge.TripleStore].
func (s *Store) UpdateTriple(ctx context.Context, tenant string, t knowledge.Triple) (knowledge.Triple, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}
	if t.ID == "" {
		return knowledge.Triple{}, fmt.Errorf("postgres store: update without id: %w", knowledge.ErrInvalidArgument)
	}
	t, err := prepare(tenant, t)
	if err != nil {
		return knowledge.Triple{}, err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		prev, err := lockTriple(ctx, tx, tenant, t.ID)
		if err != nil {
			return err
		}

		t.CreatedAt = prev.CreatedAt
		t.UpdatedAt = time.Now()
		t.Version = prev.Version + 1

		if err := ensureGraph(ctx, tx, tenant, t.GraphURI); err != nil {
			return err
		}
		if err := replaceTriple(ctx, tx, t); err != nil {
			return err
		}
		return insertVersion(ctx, tx, knowledge.TripleVersion{
			Triple:        t,
			TripleID:      t.ID,
			VersionNumber: t.Version,
			Change:        knowledge.ChangeUpdate,
			RecordedAt:    t.UpdatedAt,
		})
	})
	if err != nil {
		return knowledge.Triple{}, err
	}
	return t, nil
}

// RemoveTriple implements [knowledge.TripleStore].
func (s *Store) RemoveTriple(ctx context.Context, tenant, id string) error {
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("postgres store: remove without id: %w", knowledge.ErrInvalidArgument)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return removeTripleTx(ctx, tx, tenant, id)
	})
}

// removeTripleTx removes one live triple and emits its deletion version
// inside the caller's transaction.
func removeTripleTx(ctx context.Context, tx pgx.Tx, tenant, id string) error {
	prev, err := lockTriple(ctx, tx, tenant, id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM triples WHERE tenant_id = $1 AND id = $2`, tenant, id); err != nil {
		return fmt.Errorf("postgres store: remove triple: %w", err)
	}
	return insertVersion(ctx, tx, knowledge.TripleVersion{
		Triple:        prev,
		TripleID:      id,
		VersionNumber: prev.Version + 1,
		Change:        knowledge.ChangeDeletion,
		RecordedAt:    time.Now(),
	})
}

// CreateGraph implements [knowledge.TripleStore]. Creation is idempotent.
func (s *Store) CreateGraph(ctx context.Context, tenant, uri string) error {
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("postgres store: empty graph uri: %w", knowledge.ErrInvalidArgument)
	}
	uri = knowledge.NormalizeURI(uri)

	const q = `
		INSERT INTO graphs (tenant_id, uri)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, uri) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, tenant, uri); err != nil {
		return fmt.Errorf("postgres store: create graph: %w", err)
	}
	return nil
}

// RemoveGraph implements [knowledge.TripleStore]. Removal cascades to every
// triple in the graph, each emitting a deletion version.
func (s *Store) RemoveGraph(ctx context.Context, tenant, uri string) error {
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	uri = knowledge.NormalizeURI(uri)

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM graphs WHERE tenant_id = $1 AND uri = $2`, tenant, uri)
		if err != nil {
			return fmt.Errorf("postgres store: remove graph: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notFound(uri)
		}

		rows, err := tx.Query(ctx,
			`SELECT id FROM triples WHERE tenant_id = $1 AND graph_uri = $2 ORDER BY id FOR UPDATE`,
			tenant, uri)
		if err != nil {
			return fmt.Errorf("postgres store: remove graph: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("postgres store: remove graph: %w", err)
		}
		for _, id := range ids {
			if err := removeTripleTx(ctx, tx, tenant, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListGraphs implements [knowledge.TripleStore].
func (s *Store) ListGraphs(ctx context.Context, tenant string) ([]string, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT uri FROM graphs WHERE tenant_id = $1 ORDER BY uri`, tenant)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list graphs: %w", err)
	}
	uris, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: list graphs: %w", err)
	}
	if uris == nil {
		uris = []string{}
	}
	return uris, nil
}

// Statistics implements [knowledge.TripleStore].
func (s *Store) Statistics(ctx context.Context, tenant string) (knowledge.Statistics, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Statistics{}, err
	}

	var stats knowledge.Statistics
	const qTriples = `
		SELECT count(*),
		       count(DISTINCT subject_id),
		       count(DISTINCT predicate_uri),
		       count(DISTINCT object_id),
		       count(*) FILTER (WHERE is_literal),
		       count(*) FILTER (WHERE is_verified),
		       COALESCE(avg(confidence), 0),
		       COALESCE(max(updated_at), 'epoch'::timestamptz)
		FROM   triples
		WHERE  tenant_id = $1`
	err := s.pool.QueryRow(ctx, qTriples, tenant).Scan(
		&stats.Triples,
		&stats.DistinctSubjects,
		&stats.DistinctPredicates,
		&stats.DistinctObjects,
		&stats.Literals,
		&stats.Verified,
		&stats.MeanConfidence,
		&stats.LastUpdated,
	)
	if err != nil {
		return knowledge.Statistics{}, fmt.Errorf("postgres store: statistics: %w", err)
	}

	const qGraphs = `SELECT count(*) FROM graphs WHERE tenant_id = $1`
	if err := s.pool.QueryRow(ctx, qGraphs, tenant).Scan(&stats.Graphs); err != nil {
		return knowledge.Statistics{}, fmt.Errorf("postgres store: statistics: %w", err)
	}
	return stats, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row helpers
// ─────────────────────────────────────────────────────────────────────────────

// tripleColumns is the canonical column list scanned by collectTriples.
const tripleColumns = `tenant_id, id, subject_id, predicate_uri, object_id,
	is_literal, literal_data_type, language_tag, graph_uri, confidence,
	created_at, updated_at, source_document_id, is_verified, version, provenance`

// ensureGraph makes sure a graph row exists within the caller's transaction.
func ensureGraph(ctx context.Context, tx pgx.Tx, tenant, uri string) error {
	const q = `
		INSERT INTO graphs (tenant_id, uri)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, uri) DO NOTHING`
	if _, err := tx.Exec(ctx, q, tenant, uri); err != nil {
		return fmt.Errorf("postgres store: ensure graph: %w", err)
	}
	return nil
}

// insertTriple inserts a live triple row. A duplicate ID maps to
// [knowledge.ErrInvalidArgument].
func insertTriple(ctx context.Context, tx pgx.Tx, t knowledge.Triple) error {
	provJSON, err := marshalProvenance(t.Provenance)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO triples (` + tripleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = tx.Exec(ctx, q,
		t.TenantID, t.ID, t.SubjectID, t.PredicateURI, t.ObjectID,
		t.IsLiteral, t.LiteralDataType, t.LanguageTag, t.GraphURI, t.Confidence,
		t.CreatedAt, t.UpdatedAt, t.SourceDocumentID, t.Verified, t.Version, provJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres store: triple %q already exists: %w", t.ID, knowledge.ErrInvalidArgument)
		}
		return fmt.Errorf("postgres store: insert triple: %w", err)
	}
	return nil
}

// replaceTriple upserts the live triple row, used by update and restore paths.
func replaceTriple(ctx context.Context, tx pgx.Tx, t knowledge.Triple) error {
	provJSON, err := marshalProvenance(t.Provenance)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO triples (` + tripleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
		    subject_id         = EXCLUDED.subject_id,
		    predicate_uri      = EXCLUDED.predicate_uri,
		    object_id          = EXCLUDED.object_id,
		    is_literal         = EXCLUDED.is_literal,
		    literal_data_type  = EXCLUDED.literal_data_type,
		    language_tag       = EXCLUDED.language_tag,
		    graph_uri          = EXCLUDED.graph_uri,
		    confidence         = EXCLUDED.confidence,
		    created_at         = EXCLUDED.created_at,
		    updated_at         = EXCLUDED.updated_at,
		    source_document_id = EXCLUDED.source_document_id,
		    is_verified        = EXCLUDED.is_verified,
		    version            = EXCLUDED.version,
		    provenance         = EXCLUDED.provenance`
	_, err = tx.Exec(ctx, q,
		t.TenantID, t.ID, t.SubjectID, t.PredicateURI, t.ObjectID,
		t.IsLiteral, t.LiteralDataType, t.LanguageTag, t.GraphURI, t.Confidence,
		t.CreatedAt, t.UpdatedAt, t.SourceDocumentID, t.Verified, t.Version, provJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres store: replace triple: %w", err)
	}
	return nil
}

// lockTriple fetches a live triple FOR UPDATE, serialising concurrent
// mutations of the same (tenant, id).
func lockTriple(ctx context.Context, tx pgx.Tx, tenant, id string) (knowledge.Triple, error) {
	q := `SELECT ` + tripleColumns + ` FROM triples WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	rows, err := tx.Query(ctx, q, tenant, id)
	if err != nil {
		return knowledge.Triple{}, fmt.Errorf("postgres store: lock triple: %w", err)
	}
	triples, err := collectTriples(rows)
	if err != nil {
		return knowledge.Triple{}, fmt.Errorf("postgres store: lock triple: %w", err)
	}
	if len(triples) == 0 {
		return knowledge.Triple{}, notFound(id)
	}
	return triples[0], nil
}

// collectTriples scans pgx rows into Triple values.
func collectTriples(rows pgx.Rows) ([]knowledge.Triple, error) {
	triples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Triple, error) {
		var (
			t        knowledge.Triple
			provJSON []byte
		)
		if err := row.Scan(
			&t.TenantID, &t.ID, &t.SubjectID, &t.PredicateURI, &t.ObjectID,
			&t.IsLiteral, &t.LiteralDataType, &t.LanguageTag, &t.GraphURI, &t.Confidence,
			&t.CreatedAt, &t.UpdatedAt, &t.SourceDocumentID, &t.Verified, &t.Version, &provJSON,
		); err != nil {
			return knowledge.Triple{}, err
		}
		if len(provJSON) > 0 {
			if err := unmarshalProvenance(provJSON, &t); err != nil {
				return knowledge.Triple{}, err
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return triples, nil
}

func unmarshalProvenance(data []byte, t *knowledge.Triple) error {
	if err := json.Unmarshal(data, &t.Provenance); err != nil {
		return fmt.Errorf("postgres store: unmarshal provenance: %w", err)
	}
	if len(t.Provenance) == 0 {
		t.Provenance = nil
	}
	return nil
}

func marshalProvenance(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres store: marshal provenance: %w", err)
	}
	return b, nil
}

func notFound(id string) error {
	return fmt.Errorf("postgres store: %q: %w", id, knowledge.ErrNotFound)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
