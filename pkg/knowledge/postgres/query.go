package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// sortColumns maps query sort fields to triples table columns.
var sortColumns = map[knowledge.SortField]string{
	knowledge.SortByCreatedAt:    "created_at",
	knowledge.SortByUpdatedAt:    "updated_at",
	knowledge.SortByConfidence:   "confidence",
	knowledge.SortBySubjectID:    "subject_id",
	knowledge.SortByPredicateURI: "predicate_uri",
	knowledge.SortByObjectID:     "object_id",
	knowledge.SortByID:           "id",
	knowledge.SortByVersion:      "version",
}

// Query implements [knowledge.TripleStore]. Filtering, sorting and paging all
// run in SQL; the total match count rides along as a window aggregate.
func (s *Store) Query(ctx context.Context, tenant string, q knowledge.TripleQuery) (knowledge.QueryResult, error) {
	start := time.Now()
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.QueryResult{}, err
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = knowledge.SortByCreatedAt
	}
	column, ok := sortColumns[sortBy]
	if !ok {
		return knowledge.QueryResult{}, fmt.Errorf("postgres store: unknown sort field %q: %w", q.SortBy, knowledge.ErrInvalidArgument)
	}

	args := []any{tenant}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $1"}
	if q.SubjectID != "" {
		conditions = append(conditions, "subject_id = "+next(q.SubjectID))
	}
	if q.PredicateURI != "" {
		conditions = append(conditions, "predicate_uri = "+next(q.PredicateURI))
	}
	if q.ObjectID != "" {
		conditions = append(conditions, "object_id = "+next(q.ObjectID))
	}
	if q.GraphURI != "" {
		conditions = append(conditions, "graph_uri = "+next(q.GraphURI))
	}
	if q.MinConfidence > 0 {
		conditions = append(conditions, "confidence >= "+next(q.MinConfidence))
	}
	if q.Verified != nil {
		conditions = append(conditions, "is_verified = "+next(*q.Verified))
	}
	if q.SourceDocumentID != "" {
		conditions = append(conditions, "source_document_id = "+next(q.SourceDocumentID))
	}
	if !q.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at >= "+next(q.CreatedAfter))
	}
	if !q.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at <= "+next(q.CreatedBefore))
	}

	direction := "DESC"
	if q.SortAscending {
		direction = "ASC"
	}

	sql := "SELECT " + tripleColumns + ", count(*) OVER() AS total\n" +
		"FROM   triples\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND ") + "\n" +
		fmt.Sprintf("ORDER  BY %s %s, id %s", column, direction, direction)

	if q.Offset > 0 {
		sql += "\nOFFSET " + next(q.Offset)
	}
	if q.Limit > 0 {
		sql += "\nLIMIT " + next(q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return knowledge.QueryResult{}, fmt.Errorf("postgres store: query: %w", err)
	}

	var (
		triples []knowledge.Triple
		total   int
	)
	for rows.Next() {
		var (
			t        knowledge.Triple
			provJSON []byte
		)
		if err := rows.Scan(
			&t.TenantID, &t.ID, &t.SubjectID, &t.PredicateURI, &t.ObjectID,
			&t.IsLiteral, &t.LiteralDataType, &t.LanguageTag, &t.GraphURI, &t.Confidence,
			&t.CreatedAt, &t.UpdatedAt, &t.SourceDocumentID, &t.Verified, &t.Version, &provJSON,
			&total,
		); err != nil {
			return knowledge.QueryResult{}, fmt.Errorf("postgres store: query scan: %w", err)
		}
		if len(provJSON) > 0 {
			if err := unmarshalProvenance(provJSON, &t); err != nil {
				return knowledge.QueryResult{}, err
			}
		}
		triples = append(triples, t)
	}
	if err := rows.Err(); err != nil {
		return knowledge.QueryResult{}, fmt.Errorf("postgres store: query: %w", err)
	}

	// A page past the end returns zero rows, losing the window total; fetch
	// the bare count in that case. Each condition consumed exactly one
	// placeholder, so the filter args are the first len(conditions) entries.
	if len(triples) == 0 {
		countSQL := "SELECT count(*) FROM triples WHERE " + strings.Join(conditions, " AND ")
		if err := s.pool.QueryRow(ctx, countSQL, args[:len(conditions)]...).Scan(&total); err != nil {
			return knowledge.QueryResult{}, fmt.Errorf("postgres store: query count: %w", err)
		}
		triples = []knowledge.Triple{}
	}

	return knowledge.QueryResult{
		Triples:    triples,
		TotalCount: total,
		HasMore:    q.Limit > 0 && total > q.Offset+q.Limit,
		QueryTime:  time.Since(start),
	}, nil
}
