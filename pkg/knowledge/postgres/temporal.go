package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// QueryTemporal implements [knowledge.TripleStore].
//
// The structural sub-query filters the frozen version states, the temporal
// mode picks versions among the survivors (DISTINCT ON handles the
// latest-per-triple collapse), and the ChangedBy / ChangeTypes filters run
// last in Go to match the in-memory semantics exactly.
func (s *Store) QueryTemporal(ctx context.Context, tenant string, q knowledge.TemporalQuery) (knowledge.TemporalResult, error) {
	start := time.Now()
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.TemporalResult{}, err
	}
	if err := validateTemporal(q); err != nil {
		return knowledge.TemporalResult{}, err
	}

	args := []any{tenant}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $1"}
	sub := q.Query
	if sub.SubjectID != "" {
		conditions = append(conditions, "subject_id = "+next(sub.SubjectID))
	}
	if sub.PredicateURI != "" {
		conditions = append(conditions, "predicate_uri = "+next(sub.PredicateURI))
	}
	if sub.ObjectID != "" {
		conditions = append(conditions, "object_id = "+next(sub.ObjectID))
	}
	if sub.GraphURI != "" {
		conditions = append(conditions, "graph_uri = "+next(sub.GraphURI))
	}
	if sub.MinConfidence > 0 {
		conditions = append(conditions, "confidence >= "+next(sub.MinConfidence))
	}
	if sub.Verified != nil {
		conditions = append(conditions, "is_verified = "+next(*sub.Verified))
	}
	if sub.SourceDocumentID != "" {
		conditions = append(conditions, "source_document_id = "+next(sub.SourceDocumentID))
	}
	if !sub.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at >= "+next(sub.CreatedAfter))
	}
	if !sub.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at <= "+next(sub.CreatedBefore))
	}

	candidates := "SELECT " + versionColumns + "\nFROM triple_versions\nWHERE " +
		strings.Join(conditions, "\n  AND ")

	var sql string
	switch {
	case q.VersionNumber > 0:
		sql = "WITH candidates AS (\n" + candidates + "\n)\n" +
			"SELECT " + versionColumns + " FROM candidates\n" +
			"WHERE  version_number = " + next(q.VersionNumber) + "\n" +
			"ORDER  BY triple_id"

	case !q.AsOf.IsZero():
		sql = "WITH candidates AS (\n" + candidates + "\n)\n" +
			"SELECT DISTINCT ON (triple_id) " + versionColumns + " FROM candidates\n" +
			"WHERE  recorded_at <= " + next(q.AsOf) + "\n" +
			"ORDER  BY triple_id, version_number DESC"

	case q.Current:
		sql = "WITH candidates AS (\n" + candidates + "\n)\n" +
			"SELECT DISTINCT ON (triple_id) " + versionColumns + " FROM candidates\n" +
			"ORDER  BY triple_id, version_number DESC"

	default: // From/To range
		rangeCond := "recorded_at >= " + next(q.From) + " AND recorded_at <= " + next(q.To)
		if q.IncludeAllVersions {
			sql = "WITH candidates AS (\n" + candidates + "\n)\n" +
				"SELECT " + versionColumns + " FROM candidates\n" +
				"WHERE  " + rangeCond + "\n" +
				"ORDER  BY triple_id, version_number DESC"
		} else {
			sql = "WITH candidates AS (\n" + candidates + "\n)\n" +
				"SELECT DISTINCT ON (triple_id) " + versionColumns + " FROM candidates\n" +
				"WHERE  " + rangeCond + "\n" +
				"ORDER  BY triple_id, version_number DESC"
		}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return knowledge.TemporalResult{}, fmt.Errorf("postgres store: temporal query: %w", err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return knowledge.TemporalResult{}, fmt.Errorf("postgres store: temporal query: %w", err)
	}

	// Deletion tombstones are hidden from point-in-time views by default.
	if (!q.AsOf.IsZero() || q.Current) && !q.IncludeDeleted {
		versions = slices.DeleteFunc(versions, func(v knowledge.TripleVersion) bool {
			return v.Change == knowledge.ChangeDeletion
		})
	}

	// Post-selection filters.
	versions = slices.DeleteFunc(versions, func(v knowledge.TripleVersion) bool {
		if q.ChangedBy != "" && v.ChangedBy != q.ChangedBy {
			return true
		}
		if len(q.ChangeTypes) > 0 && !slices.Contains(q.ChangeTypes, v.Change) {
			return true
		}
		return false
	})

	result := knowledge.TemporalResult{}
	for _, group := range groupByTriple(versions) {
		if q.MaxVersionsPerTriple > 0 && q.IncludeAllVersions && len(group) > q.MaxVersionsPerTriple {
			group = group[:q.MaxVersionsPerTriple]
		}
		result.Versions = append(result.Versions, group...)

		if !q.AsOf.IsZero() {
			newest := group[0]
			if newest.Change != knowledge.ChangeDeletion {
				result.Triples = append(result.Triples, newest.Triple)
			}
		}

		if q.DiffOnly && q.IncludeAllVersions && len(group) > 1 {
			// group is newest-first; diff consecutive pairs oldest→newest.
			for i := len(group) - 1; i > 0; i-- {
				result.Diffs = append(result.Diffs, knowledge.DiffVersions(group[i].TripleID, group[i], group[i-1]))
			}
		}
	}

	result.QueryTime = time.Since(start)
	return result, nil
}

// validateTemporal checks that exactly one temporal mode is set.
func validateTemporal(q knowledge.TemporalQuery) error {
	modes := 0
	if q.VersionNumber > 0 {
		modes++
	}
	if !q.AsOf.IsZero() {
		modes++
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		if q.From.IsZero() || q.To.IsZero() || q.To.Before(q.From) {
			return fmt.Errorf("postgres store: temporal range requires from <= to: %w", knowledge.ErrInvalidArgument)
		}
		modes++
	}
	if q.Current {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("postgres store: temporal query requires exactly one of version, as-of, range, or current: %w", knowledge.ErrInvalidArgument)
	}
	return nil
}

// groupByTriple splits an already triple-ordered, newest-first version list
// into per-triple groups, preserving order.
func groupByTriple(versions []knowledge.TripleVersion) [][]knowledge.TripleVersion {
	var groups [][]knowledge.TripleVersion
	for i := 0; i < len(versions); {
		j := i
		for j < len(versions) && versions[j].TripleID == versions[i].TripleID {
			j++
		}
		groups = append(groups, versions[i:j])
		i = j
	}
	return groups
}
