// Package pgvector implements vectorindex.Index on PostgreSQL with the
// pgvector extension.
//
// Each collection becomes its own table holding (id, embedding, payload)
// rows, registered in a vector_collections catalog that records the vector
// dimension. Similarity search uses the cosine distance operator <=>, and
// payload filtering works through expression indexes on the tenant_id and
// document_id JSONB fields.
//
// This backend suits deployments that already run PostgreSQL for the triple
// store and do not want a second stateful service for vectors.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

// DefaultBatchSize is the number of points written per insert statement.
const DefaultBatchSize = 100

// Ensure Index implements the vectorindex.Index interface.
var _ vectorindex.Index = (*Index)(nil)

// collectionName restricts collection names to safe SQL identifier material.
var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,50}$`)

const ddlCatalog = `
CREATE TABLE IF NOT EXISTS vector_collections (
    name       TEXT PRIMARY KEY,
    dim        INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Index implements vectorindex.Index on PostgreSQL + pgvector.
type Index struct {
	pool      *pgxpool.Pool
	batchSize int
}

// New connects to PostgreSQL, enables the vector extension and prepares the
// collection catalog.
func New(ctx context.Context, dsn string, batchSize int) (*Index, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: enable extension: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCatalog); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: create catalog: %w", err)
	}

	return &Index{pool: pool, batchSize: batchSize}, nil
}

// CollectionExists implements vectorindex.Index.
func (x *Index) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM vector_collections WHERE name = $1)`
	if err := x.pool.QueryRow(ctx, q, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgvector index: collection exists: %w", err)
	}
	return exists, nil
}

// CreateCollection implements vectorindex.Index. The per-collection table
// gets expression indexes on the tenant_id and document_id payload fields.
func (x *Index) CreateCollection(ctx context.Context, name string, dim int) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("pgvector index: dim %d: %w", dim, vectorindex.ErrInvalidArgument)
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector index: create collection: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO vector_collections (name, dim) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, dim)
	if err != nil {
		return fmt.Errorf("pgvector index: register collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgvector index: collection %q: %w", name, vectorindex.ErrCollectionExists)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id        TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload   JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, table, dim),
		fmt.Sprintf(`CREATE INDEX %s_tenant_idx ON %s ((payload->>'tenant_id'))`, table, table),
		fmt.Sprintf(`CREATE INDEX %s_document_idx ON %s ((payload->>'document_id'))`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector index: create collection %q: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector index: create collection: %w", err)
	}
	return nil
}

// DeleteCollection implements vectorindex.Index.
func (x *Index) DeleteCollection(ctx context.Context, name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector index: delete collection: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM vector_collections WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("pgvector index: delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgvector index: collection %q: %w", name, vectorindex.ErrCollectionNotFound)
	}
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("pgvector index: drop table %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector index: delete collection: %w", err)
	}
	return nil
}

// Upsert implements vectorindex.Index. Vectors are checked against the
// registered collection dimension before any row is written.
func (x *Index) Upsert(ctx context.Context, collection string, points []vectorindex.Point) error {
	table, dim, err := x.lookupCollection(ctx, collection)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`, table)

	for start := 0; start < len(points); start += x.batchSize {
		end := min(start+x.batchSize, len(points))

		batch := &pgx.Batch{}
		for _, p := range points[start:end] {
			if p.ID == "" {
				return fmt.Errorf("pgvector index: point with empty ID: %w", vectorindex.ErrInvalidArgument)
			}
			if len(p.Vector) != dim {
				return fmt.Errorf("pgvector index: vector length %d, collection dim %d: %w",
					len(p.Vector), dim, vectorindex.ErrDimensionMismatch)
			}
			payload := p.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			batch.Queue(sql, p.ID, pgv.NewVector(p.Vector), payload)
		}

		if err := x.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("pgvector index: upsert into %q: %w", collection, err)
		}
	}
	return nil
}

// Search implements vectorindex.Index. Cosine similarity is computed as
// 1 - (embedding <=> query).
func (x *Index) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.SearchResult, error) {
	if req.TenantID == "" || req.Limit <= 0 {
		return nil, fmt.Errorf("pgvector index: search request: %w", vectorindex.ErrInvalidArgument)
	}
	table, err := x.lookupTable(ctx, req.Collection)
	if err != nil {
		return nil, err
	}

	args := []any{pgv.NewVector(req.Vector), req.TenantID}
	conditions := []string{`payload->>'tenant_id' = $2`}
	for field, value := range req.Filter {
		if field == vectorindex.PayloadTenantID {
			continue
		}
		args = append(args, field, value)
		conditions = append(conditions,
			fmt.Sprintf(`payload->>$%d = $%d`, len(args)-1, len(args)))
	}

	args = append(args, req.Limit)
	sql := fmt.Sprintf(`
		SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM   %s
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  $%d`, table, strings.Join(conditions, " AND "), len(args))

	rows, err := x.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: search %q: %w", req.Collection, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorindex.SearchResult, error) {
		var r vectorindex.SearchResult
		var score float64
		if err := row.Scan(&r.ID, &r.Payload, &score); err != nil {
			return vectorindex.SearchResult{}, err
		}
		r.Score = float32(score)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector index: search %q: %w", req.Collection, err)
	}

	if req.ScoreThreshold > 0 {
		filtered := results[:0]
		for _, r := range results {
			if r.Score >= req.ScoreThreshold {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	return results, nil
}

// DeletePoints implements vectorindex.Index.
func (x *Index) DeletePoints(ctx context.Context, collection string, ids []string, tenant string) error {
	table, err := x.lookupTable(ctx, collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	sql := `DELETE FROM ` + table + ` WHERE id = ANY($1)`
	args := []any{ids}
	if tenant != "" {
		sql += ` AND payload->>'tenant_id' = $2`
		args = append(args, tenant)
	}
	if _, err := x.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("pgvector index: delete points from %q: %w", collection, err)
	}
	return nil
}

// DeleteByFilter implements vectorindex.Index.
func (x *Index) DeleteByFilter(ctx context.Context, collection string, filter vectorindex.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("pgvector index: refusing to delete with empty filter: %w", vectorindex.ErrInvalidArgument)
	}
	table, err := x.lookupTable(ctx, collection)
	if err != nil {
		return err
	}

	var (
		args       []any
		conditions []string
	)
	for field, value := range filter {
		args = append(args, field, value)
		conditions = append(conditions,
			fmt.Sprintf(`payload->>$%d = $%d`, len(args)-1, len(args)))
	}
	sql := `DELETE FROM ` + table + ` WHERE ` + strings.Join(conditions, " AND ")
	if _, err := x.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("pgvector index: delete by filter from %q: %w", collection, err)
	}
	return nil
}

// DeleteDocument implements vectorindex.Index.
func (x *Index) DeleteDocument(ctx context.Context, collection, documentID, tenant string) error {
	if documentID == "" {
		return fmt.Errorf("pgvector index: empty document ID: %w", vectorindex.ErrInvalidArgument)
	}
	filter := vectorindex.Filter{vectorindex.PayloadDocumentID: documentID}
	if tenant != "" {
		filter[vectorindex.PayloadTenantID] = tenant
	}
	return x.DeleteByFilter(ctx, collection, filter)
}

// Count implements vectorindex.Index.
func (x *Index) Count(ctx context.Context, collection string, filter vectorindex.Filter) (int, error) {
	table, err := x.lookupTable(ctx, collection)
	if err != nil {
		return 0, err
	}

	sql := `SELECT count(*) FROM ` + table
	var args []any
	if len(filter) > 0 {
		var conditions []string
		for field, value := range filter {
			args = append(args, field, value)
			conditions = append(conditions,
				fmt.Sprintf(`payload->>$%d = $%d`, len(args)-1, len(args)))
		}
		sql += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	var count int
	if err := x.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgvector index: count %q: %w", collection, err)
	}
	return count, nil
}

// ListCollections implements vectorindex.Index.
func (x *Index) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := x.pool.Query(ctx, `SELECT name FROM vector_collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: list collections: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgvector index: list collections: %w", err)
	}
	return names, nil
}

// GetCollectionInfo implements vectorindex.Index.
func (x *Index) GetCollectionInfo(ctx context.Context, name string) (vectorindex.CollectionInfo, error) {
	table, err := tableName(name)
	if err != nil {
		return vectorindex.CollectionInfo{}, err
	}

	info := vectorindex.CollectionInfo{Name: name}
	err = x.pool.QueryRow(ctx, `SELECT dim FROM vector_collections WHERE name = $1`, name).Scan(&info.VectorSize)
	if err != nil {
		if isNoRows(err) {
			return vectorindex.CollectionInfo{}, fmt.Errorf("pgvector index: collection %q: %w", name, vectorindex.ErrCollectionNotFound)
		}
		return vectorindex.CollectionInfo{}, fmt.Errorf("pgvector index: collection info: %w", err)
	}
	if err := x.pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&info.PointCount); err != nil {
		return vectorindex.CollectionInfo{}, fmt.Errorf("pgvector index: collection info: %w", err)
	}
	return info, nil
}

// Close implements vectorindex.Index.
func (x *Index) Close() error {
	x.pool.Close()
	return nil
}

// lookupTable resolves a collection to its table, verifying registration.
func (x *Index) lookupTable(ctx context.Context, collection string) (string, error) {
	table, err := tableName(collection)
	if err != nil {
		return "", err
	}
	exists, err := x.CollectionExists(ctx, collection)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("pgvector index: collection %q: %w", collection, vectorindex.ErrCollectionNotFound)
	}
	return table, nil
}

// lookupCollection resolves a collection to its table and registered vector
// dimension.
func (x *Index) lookupCollection(ctx context.Context, collection string) (string, int, error) {
	table, err := tableName(collection)
	if err != nil {
		return "", 0, err
	}
	var dim int
	const q = `SELECT dim FROM vector_collections WHERE name = $1`
	if err := x.pool.QueryRow(ctx, q, collection).Scan(&dim); err != nil {
		if isNoRows(err) {
			return "", 0, fmt.Errorf("pgvector index: collection %q: %w", collection, vectorindex.ErrCollectionNotFound)
		}
		return "", 0, fmt.Errorf("pgvector index: lookup collection: %w", err)
	}
	return table, dim, nil
}

// tableName validates the collection name and derives its table identifier.
// Names are restricted so the identifier can be interpolated into DDL safely.
func tableName(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("pgvector index: collection name %q: %w", collection, vectorindex.ErrInvalidArgument)
	}
	return "vi_" + collection, nil
}

// isNoRows reports whether err is pgx.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
