package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// versionColumns is the canonical column list scanned by collectVersions.
const versionColumns = `tenant_id, triple_id, version_number, change_type,
	changed_by, comment, recorded_at, subject_id, predicate_uri, object_id,
	is_literal, literal_data_type, language_tag, graph_uri, confidence,
	created_at, updated_at, source_document_id, is_verified, triple_version,
	provenance`

// insertVersion appends a version record inside the caller's transaction.
// A duplicate version number violates the primary key and fails the whole
// transaction: the persistent store trades availability for a strictly
// consistent audit trail.
func insertVersion(ctx context.Context, tx pgx.Tx, v knowledge.TripleVersion) error {
	provJSON, err := marshalProvenance(v.Triple.Provenance)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO triple_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	t := v.Triple
	_, err = tx.Exec(ctx, q,
		t.TenantID, v.TripleID, v.VersionNumber, string(v.Change),
		v.ChangedBy, v.Comment, v.RecordedAt, t.SubjectID, t.PredicateURI, t.ObjectID,
		t.IsLiteral, t.LiteralDataType, t.LanguageTag, t.GraphURI, t.Confidence,
		t.CreatedAt, t.UpdatedAt, t.SourceDocumentID, t.Verified, t.Version,
		provJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert version: %w", err)
	}
	return nil
}

// collectVersions scans pgx rows into TripleVersion values.
func collectVersions(rows pgx.Rows) ([]knowledge.TripleVersion, error) {
	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.TripleVersion, error) {
		var (
			v        knowledge.TripleVersion
			change   string
			provJSON []byte
		)
		t := &v.Triple
		if err := row.Scan(
			&t.TenantID, &v.TripleID, &v.VersionNumber, &change,
			&v.ChangedBy, &v.Comment, &v.RecordedAt, &t.SubjectID, &t.PredicateURI, &t.ObjectID,
			&t.IsLiteral, &t.LiteralDataType, &t.LanguageTag, &t.GraphURI, &t.Confidence,
			&t.CreatedAt, &t.UpdatedAt, &t.SourceDocumentID, &t.Verified, &t.Version,
			&provJSON,
		); err != nil {
			return knowledge.TripleVersion{}, err
		}
		v.Change = knowledge.ChangeType(change)
		t.ID = v.TripleID
		if len(provJSON) > 0 {
			if err := unmarshalProvenance(provJSON, t); err != nil {
				return knowledge.TripleVersion{}, err
			}
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// History implements [knowledge.TripleStore]. It returns the max newest
// versions, newest first. max <= 0 returns the full history.
func (s *Store) History(ctx context.Context, tenant, tripleID string, max int) ([]knowledge.TripleVersion, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}

	sql := `SELECT ` + versionColumns + `
		FROM   triple_versions
		WHERE  tenant_id = $1 AND triple_id = $2
		ORDER  BY version_number DESC`
	args := []any{tenant, tripleID}
	if max > 0 {
		args = append(args, max)
		sql += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: history: %w", err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: history: %w", err)
	}
	if len(versions) == 0 {
		return nil, notFound(tripleID)
	}
	return versions, nil
}

// Version implements [knowledge.TripleStore].
func (s *Store) Version(ctx context.Context, tenant, tripleID string, n int) (knowledge.TripleVersion, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.TripleVersion{}, err
	}
	return s.version(ctx, s.pool, tenant, tripleID, n)
}

// queryer abstracts pool and transaction for shared read helpers.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) version(ctx context.Context, q queryer, tenant, tripleID string, n int) (knowledge.TripleVersion, error) {
	sql := `SELECT ` + versionColumns + `
		FROM   triple_versions
		WHERE  tenant_id = $1 AND triple_id = $2 AND version_number = $3`
	rows, err := q.Query(ctx, sql, tenant, tripleID, n)
	if err != nil {
		return knowledge.TripleVersion{}, fmt.Errorf("postgres store: version: %w", err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return knowledge.TripleVersion{}, fmt.Errorf("postgres store: version: %w", err)
	}
	if len(versions) == 0 {
		return knowledge.TripleVersion{}, fmt.Errorf("postgres store: %q version %d: %w", tripleID, n, knowledge.ErrNotFound)
	}
	return versions[0], nil
}

// Diff implements [knowledge.TripleStore].
func (s *Store) Diff(ctx context.Context, tenant, tripleID string, from, to int) (knowledge.VersionDiff, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.VersionDiff{}, err
	}
	if from >= to {
		return knowledge.VersionDiff{}, fmt.Errorf("postgres store: diff range %d..%d: %w", from, to, knowledge.ErrInvalidArgument)
	}

	a, err := s.version(ctx, s.pool, tenant, tripleID, from)
	if err != nil {
		return knowledge.VersionDiff{}, err
	}
	b, err := s.version(ctx, s.pool, tenant, tripleID, to)
	if err != nil {
		return knowledge.VersionDiff{}, err
	}
	return knowledge.DiffVersions(tripleID, a, b), nil
}

// RestoreVersion implements [knowledge.TripleStore]. It rebuilds the live
// triple from version n, continues the version sequence, and stamps
// restoration provenance. The triple may have been deleted; restoration
// revives it.
func (s *Store) RestoreVersion(ctx context.Context, tenant, tripleID string, n int, user, comment string) (knowledge.Triple, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}

	var restored knowledge.Triple
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		v, err := s.version(ctx, tx, tenant, tripleID, n)
		if err != nil {
			return err
		}

		var latest int
		const qLatest = `
			SELECT COALESCE(max(version_number), 0)
			FROM   triple_versions
			WHERE  tenant_id = $1 AND triple_id = $2`
		if err := tx.QueryRow(ctx, qLatest, tenant, tripleID).Scan(&latest); err != nil {
			return fmt.Errorf("postgres store: restore version: %w", err)
		}

		now := time.Now()
		restored = v.Triple
		restored.Version = latest + 1
		restored.UpdatedAt = now
		restored.Provenance = cloneProvenance(restored.Provenance)
		restored.Provenance["RestoredFromVersion"] = n
		restored.Provenance["RestorationTime"] = now
		if user != "" {
			restored.Provenance["RestoredByUser"] = user
		}

		if err := ensureGraph(ctx, tx, tenant, restored.GraphURI); err != nil {
			return err
		}
		if err := replaceTriple(ctx, tx, restored); err != nil {
			return err
		}
		return insertVersion(ctx, tx, knowledge.TripleVersion{
			Triple:        restored,
			TripleID:      tripleID,
			VersionNumber: restored.Version,
			Change:        knowledge.ChangeRestoration,
			ChangedBy:     user,
			Comment:       comment,
			RecordedAt:    now,
		})
	})
	if err != nil {
		return knowledge.Triple{}, err
	}
	return restored, nil
}

func cloneProvenance(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
