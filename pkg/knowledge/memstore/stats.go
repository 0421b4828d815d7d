package memstore

import (
	"context"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Statistics implements [knowledge.TripleStore].
func (s *Store) Statistics(ctx context.Context, tenant string) (knowledge.Statistics, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Statistics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := knowledge.Statistics{}
	ts, ok := s.tenants[tenant]
	if !ok {
		return stats, nil
	}

	stats.Graphs = len(ts.graphs)
	subjects := map[string]struct{}{}
	predicates := map[string]struct{}{}
	objects := map[string]struct{}{}
	confidenceSum := 0.0

	for _, t := range ts.triples {
		stats.Triples++
		subjects[t.SubjectID] = struct{}{}
		predicates[t.PredicateURI] = struct{}{}
		objects[t.ObjectID] = struct{}{}
		if t.IsLiteral {
			stats.Literals++
		}
		if t.Verified {
			stats.Verified++
		}
		confidenceSum += t.Confidence
		if t.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = t.UpdatedAt
		}
	}

	stats.DistinctSubjects = len(subjects)
	stats.DistinctPredicates = len(predicates)
	stats.DistinctObjects = len(objects)
	if stats.Triples > 0 {
		stats.MeanConfidence = confidenceSum / float64(stats.Triples)
	}
	return stats, nil
}
