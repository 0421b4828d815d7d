package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Query implements [knowledge.TripleStore]. It filters, sorts, and pages the
// tenant's live triples under a read lock.
func (s *Store) Query(ctx context.Context, tenant string, q knowledge.TripleQuery) (knowledge.QueryResult, error) {
	start := time.Now()
	defer s.observeQuery(ctx, "structural", start)
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.QueryResult{}, err
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = knowledge.SortByCreatedAt
	}
	if !sortBy.IsValid() {
		return knowledge.QueryResult{}, fmt.Errorf("memstore: unknown sort field %q: %w", q.SortBy, knowledge.ErrInvalidArgument)
	}

	s.mu.RLock()
	var matched []knowledge.Triple
	if ts, ok := s.tenants[tenant]; ok {
		for _, t := range ts.triples {
			if matchesQuery(t, q) {
				matched = append(matched, t)
			}
		}
	}
	s.mu.RUnlock()

	sortTriples(matched, sortBy, q.SortAscending)

	total := len(matched)
	page := pageOf(matched, q.Offset, q.Limit)

	return knowledge.QueryResult{
		Triples:    page,
		TotalCount: total,
		HasMore:    q.Limit > 0 && total > q.Offset+q.Limit,
		QueryTime:  time.Since(start),
	}, nil
}

// matchesQuery applies the structural filters of q to t.
func matchesQuery(t knowledge.Triple, q knowledge.TripleQuery) bool {
	if q.SubjectID != "" && t.SubjectID != q.SubjectID {
		return false
	}
	if q.PredicateURI != "" && t.PredicateURI != q.PredicateURI {
		return false
	}
	if q.ObjectID != "" && t.ObjectID != q.ObjectID {
		return false
	}
	if q.GraphURI != "" && t.GraphURI != q.GraphURI {
		return false
	}
	if q.MinConfidence > 0 && t.Confidence < q.MinConfidence {
		return false
	}
	if q.Verified != nil && t.Verified != *q.Verified {
		return false
	}
	if q.SourceDocumentID != "" && t.SourceDocumentID != q.SourceDocumentID {
		return false
	}
	if !q.CreatedAfter.IsZero() && t.CreatedAt.Before(q.CreatedAfter) {
		return false
	}
	if !q.CreatedBefore.IsZero() && t.CreatedAt.After(q.CreatedBefore) {
		return false
	}
	return true
}

// sortTriples orders triples by the given field. Ties fall back to triple ID
// so that paging is deterministic.
func sortTriples(triples []knowledge.Triple, field knowledge.SortField, ascending bool) {
	less := func(a, b knowledge.Triple) bool {
		switch field {
		case knowledge.SortByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case knowledge.SortByUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case knowledge.SortByConfidence:
			if a.Confidence != b.Confidence {
				return a.Confidence < b.Confidence
			}
		case knowledge.SortBySubjectID:
			if a.SubjectID != b.SubjectID {
				return a.SubjectID < b.SubjectID
			}
		case knowledge.SortByPredicateURI:
			if a.PredicateURI != b.PredicateURI {
				return a.PredicateURI < b.PredicateURI
			}
		case knowledge.SortByObjectID:
			if a.ObjectID != b.ObjectID {
				return a.ObjectID < b.ObjectID
			}
		case knowledge.SortByVersion:
			if a.Version != b.Version {
				return a.Version < b.Version
			}
		}
		return a.ID < b.ID
	}

	sort.SliceStable(triples, func(i, j int) bool {
		if ascending {
			return less(triples[i], triples[j])
		}
		return less(triples[j], triples[i])
	})
}

// pageOf applies offset/limit to an already-sorted slice.
func pageOf(triples []knowledge.Triple, offset, limit int) []knowledge.Triple {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(triples) {
		return []knowledge.Triple{}
	}
	end := len(triples)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]knowledge.Triple, end-offset)
	copy(page, triples[offset:end])
	return page
}
