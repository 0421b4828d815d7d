package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// snapshotTripleColumns is the frozen triple column list of snapshot_triples,
// after the (tenant_id, snapshot_name, position) key.
const snapshotTripleColumns = `id, subject_id, predicate_uri, object_id,
	is_literal, literal_data_type, language_tag, graph_uri, confidence,
	created_at, updated_at, source_document_id, is_verified, version,
	provenance`

// CreateSnapshot implements [knowledge.TripleStore]. It freezes all triples
// in the given graphs (or every graph of the tenant when graphURIs is empty)
// under name. An existing snapshot of the same name is an error.
func (s *Store) CreateSnapshot(ctx context.Context, tenant, name string, graphURIs []string) (knowledge.SnapshotInfo, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.SnapshotInfo{}, err
	}
	if name == "" {
		return knowledge.SnapshotInfo{}, fmt.Errorf("postgres store: empty snapshot name: %w", knowledge.ErrInvalidArgument)
	}

	var info knowledge.SnapshotInfo
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var uris []string
		if len(graphURIs) == 0 {
			rows, err := tx.Query(ctx,
				`SELECT uri FROM graphs WHERE tenant_id = $1 ORDER BY uri`, tenant)
			if err != nil {
				return fmt.Errorf("postgres store: create snapshot: %w", err)
			}
			uris, err = pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return fmt.Errorf("postgres store: create snapshot: %w", err)
			}
		} else {
			for _, uri := range graphURIs {
				uri = knowledge.NormalizeURI(uri)
				var exists bool
				const q = `SELECT EXISTS (SELECT 1 FROM graphs WHERE tenant_id = $1 AND uri = $2)`
				if err := tx.QueryRow(ctx, q, tenant, uri).Scan(&exists); err != nil {
					return fmt.Errorf("postgres store: create snapshot: %w", err)
				}
				if !exists {
					return notFound(uri)
				}
				uris = append(uris, uri)
			}
		}

		now := time.Now()
		const qInsert = `
			INSERT INTO snapshots (tenant_id, name, created_at, graph_uris)
			VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, qInsert, tenant, name, now, uris); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres store: snapshot %q already exists: %w", name, knowledge.ErrInvalidArgument)
			}
			return fmt.Errorf("postgres store: create snapshot: %w", err)
		}

		// Freeze the member triples in a single statement, ordered for
		// deterministic positions.
		const qFreeze = `
			INSERT INTO snapshot_triples
			    (tenant_id, snapshot_name, position, ` + snapshotTripleColumns + `)
			SELECT tenant_id, $2,
			       row_number() OVER (ORDER BY graph_uri, id) - 1,
			       ` + snapshotTripleColumns + `
			FROM   triples
			WHERE  tenant_id = $1 AND graph_uri = ANY($3::text[])`
		tag, err := tx.Exec(ctx, qFreeze, tenant, name, uris)
		if err != nil {
			return fmt.Errorf("postgres store: create snapshot: freeze: %w", err)
		}

		info = knowledge.SnapshotInfo{
			Name:        name,
			TenantID:    tenant,
			CreatedAt:   now,
			GraphURIs:   uris,
			TripleCount: int(tag.RowsAffected()),
		}
		return nil
	})
	if err != nil {
		return knowledge.SnapshotInfo{}, err
	}
	return info, nil
}

// RestoreSnapshot implements [knowledge.TripleStore]. Every graph referenced
// by the snapshot is cleared (emitting deletion versions), then the frozen
// triples are re-inserted, each continuing its version sequence with a
// restoration version.
func (s *Store) RestoreSnapshot(ctx context.Context, tenant, name string) (int, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return 0, err
	}

	restored := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var uris []string
		const qSnap = `SELECT graph_uris FROM snapshots WHERE tenant_id = $1 AND name = $2`
		if err := tx.QueryRow(ctx, qSnap, tenant, name).Scan(&uris); err != nil {
			if isNoRows(err) {
				return notFound(name)
			}
			return fmt.Errorf("postgres store: restore snapshot: %w", err)
		}

		// Clear the referenced graphs, tombstoning each live triple.
		rows, err := tx.Query(ctx,
			`SELECT id FROM triples WHERE tenant_id = $1 AND graph_uri = ANY($2::text[]) ORDER BY id FOR UPDATE`,
			tenant, uris)
		if err != nil {
			return fmt.Errorf("postgres store: restore snapshot: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("postgres store: restore snapshot: %w", err)
		}
		for _, id := range ids {
			if err := removeTripleTx(ctx, tx, tenant, id); err != nil {
				return err
			}
		}

		frozen, err := s.snapshotTriples(ctx, tx, tenant, name)
		if err != nil {
			return err
		}

		comment := fmt.Sprintf("Restored from snapshot '%s'", name)
		now := time.Now()
		for _, t := range frozen {
			var latest int
			const qLatest = `
				SELECT COALESCE(max(version_number), 0)
				FROM   triple_versions
				WHERE  tenant_id = $1 AND triple_id = $2`
			if err := tx.QueryRow(ctx, qLatest, tenant, t.ID).Scan(&latest); err != nil {
				return fmt.Errorf("postgres store: restore snapshot: %w", err)
			}

			t.UpdatedAt = now
			if latest > 0 {
				t.Version = latest + 1
			} else {
				t.Version = 1
			}

			if err := ensureGraph(ctx, tx, tenant, t.GraphURI); err != nil {
				return err
			}
			if err := replaceTriple(ctx, tx, t); err != nil {
				return err
			}
			if err := insertVersion(ctx, tx, knowledge.TripleVersion{
				Triple:        t,
				TripleID:      t.ID,
				VersionNumber: t.Version,
				Change:        knowledge.ChangeRestoration,
				Comment:       comment,
				RecordedAt:    now,
			}); err != nil {
				return err
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

// ListSnapshots implements [knowledge.TripleStore]. It returns metadata only,
// ordered by creation time then name.
func (s *Store) ListSnapshots(ctx context.Context, tenant string) ([]knowledge.SnapshotInfo, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}

	const q = `
		SELECT s.name, s.tenant_id, s.created_at, s.graph_uris,
		       (SELECT count(*) FROM snapshot_triples st
		        WHERE  st.tenant_id = s.tenant_id AND st.snapshot_name = s.name)
		FROM   snapshots s
		WHERE  s.tenant_id = $1
		ORDER  BY s.created_at, s.name`
	rows, err := s.pool.Query(ctx, q, tenant)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list snapshots: %w", err)
	}
	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.SnapshotInfo, error) {
		var info knowledge.SnapshotInfo
		err := row.Scan(&info.Name, &info.TenantID, &info.CreatedAt, &info.GraphURIs, &info.TripleCount)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list snapshots: %w", err)
	}
	if infos == nil {
		infos = []knowledge.SnapshotInfo{}
	}
	return infos, nil
}

// snapshotTriples loads a snapshot's frozen triples in position order.
func (s *Store) snapshotTriples(ctx context.Context, tx pgx.Tx, tenant, name string) ([]knowledge.Triple, error) {
	sql := `SELECT tenant_id, ` + snapshotTripleColumns + `
		FROM   snapshot_triples
		WHERE  tenant_id = $1 AND snapshot_name = $2
		ORDER  BY position`
	rows, err := tx.Query(ctx, sql, tenant, name)
	if err != nil {
		return nil, fmt.Errorf("postgres store: snapshot triples: %w", err)
	}
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
		return nil, fmt.Errorf("postgres store: snapshot triples: %w", err)
	}
	return triples, nil
}
