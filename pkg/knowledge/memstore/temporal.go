package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// QueryTemporal implements [knowledge.TripleStore].
//
// Selection proceeds per triple: the structural sub-query filters the frozen
// version states, the temporal mode picks versions among the survivors, and
// the ChangedBy / ChangeTypes filters run last. AsOf queries additionally
// materialise the implied live triples; DiffOnly with IncludeAllVersions
// emits consecutive-pair diffs.
func (s *Store) QueryTemporal(ctx context.Context, tenant string, q knowledge.TemporalQuery) (knowledge.TemporalResult, error) {
	start := time.Now()
	defer s.observeQuery(ctx, "temporal", start)
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.TemporalResult{}, err
	}
	if err := validateTemporal(q); err != nil {
		return knowledge.TemporalResult{}, err
	}

	s.mu.RLock()
	histories := map[string][]knowledge.TripleVersion{}
	if ts, ok := s.tenants[tenant]; ok {
		for id, history := range ts.versions {
			histories[id] = slices.Clone(history)
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	result := knowledge.TemporalResult{}
	for _, id := range ids {
		// Structural sub-query filters the frozen states.
		candidates := histories[id][:0:0]
		for _, v := range histories[id] {
			if matchesQuery(v.Triple, q.Query) {
				candidates = append(candidates, v)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		picked := pickVersions(candidates, q)

		// Post-selection filters.
		picked = slices.DeleteFunc(picked, func(v knowledge.TripleVersion) bool {
			if q.ChangedBy != "" && v.ChangedBy != q.ChangedBy {
				return true
			}
			if len(q.ChangeTypes) > 0 && !slices.Contains(q.ChangeTypes, v.Change) {
				return true
			}
			return false
		})
		if len(picked) == 0 {
			continue
		}

		// Newest first within the triple's group.
		slices.SortFunc(picked, func(a, b knowledge.TripleVersion) int {
			return b.VersionNumber - a.VersionNumber
		})
		if q.MaxVersionsPerTriple > 0 && q.IncludeAllVersions && len(picked) > q.MaxVersionsPerTriple {
			picked = picked[:q.MaxVersionsPerTriple]
		}

		result.Versions = append(result.Versions, picked...)

		if !q.AsOf.IsZero() {
			// Materialise the implied live state.
			newest := picked[0]
			if newest.Change != knowledge.ChangeDeletion {
				result.Triples = append(result.Triples, newest.Triple)
			}
		}

		if q.DiffOnly && q.IncludeAllVersions && len(picked) > 1 {
			// picked is newest-first; diff consecutive pairs oldest→newest.
			for i := len(picked) - 1; i > 0; i-- {
				result.Diffs = append(result.Diffs, knowledge.DiffVersions(id, picked[i], picked[i-1]))
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
			return fmt.Errorf("memstore: temporal range requires from <= to: %w", knowledge.ErrInvalidArgument)
		}
		modes++
	}
	if q.Current {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("memstore: temporal query requires exactly one of version, as-of, range, or current: %w", knowledge.ErrInvalidArgument)
	}
	return nil
}

// pickVersions applies the temporal mode of q to one triple's candidate
// versions (ordered by version number).
func pickVersions(candidates []knowledge.TripleVersion, q knowledge.TemporalQuery) []knowledge.TripleVersion {
	switch {
	case q.VersionNumber > 0:
		for _, v := range candidates {
			if v.VersionNumber == q.VersionNumber {
				return []knowledge.TripleVersion{v}
			}
		}
		return nil

	case !q.AsOf.IsZero():
		var newest *knowledge.TripleVersion
		for i := range candidates {
			v := &candidates[i]
			if v.RecordedAt.After(q.AsOf) {
				continue
			}
			if newest == nil || v.VersionNumber > newest.VersionNumber {
				newest = v
			}
		}
		if newest == nil {
			return nil
		}
		if newest.Change == knowledge.ChangeDeletion && !q.IncludeDeleted {
			return nil
		}
		return []knowledge.TripleVersion{*newest}

	case q.Current:
		latest := candidates[len(candidates)-1]
		if latest.Change == knowledge.ChangeDeletion {
			if !q.IncludeDeleted {
				return nil
			}
			return []knowledge.TripleVersion{latest}
		}
		return []knowledge.TripleVersion{latest}

	default: // From/To range
		var in []knowledge.TripleVersion
		for _, v := range candidates {
			if v.RecordedAt.Before(q.From) || v.RecordedAt.After(q.To) {
				continue
			}
			in = append(in, v)
		}
		if len(in) == 0 {
			return nil
		}
		if !q.IncludeAllVersions {
			// Collapse to the latest per triple; the per-triple cap is
			// documented as ignored in this case.
			return []knowledge.TripleVersion{in[len(in)-1]}
		}
		return in
	}
}
