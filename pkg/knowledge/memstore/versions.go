package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Provenance keys stamped on restored triples.
const (
	provRestoredFromVersion = "RestoredFromVersion"
	provRestorationTime     = "RestorationTime"
	provRestoredByUser      = "RestoredByUser"
)

// History implements [knowledge.TripleStore]. It returns the max newest
// versions, newest first. max <= 0 returns the full history.
func (s *Store) History(ctx context.Context, tenant, tripleID string, max int) ([]knowledge.TripleVersion, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, err := s.historyLocked(tenant, tripleID)
	if err != nil {
		return nil, err
	}

	n := len(history)
	if max > 0 && max < n {
		n = max
	}
	out := make([]knowledge.TripleVersion, n)
	for i := 0; i < n; i++ {
		out[i] = history[len(history)-1-i]
	}
	return out, nil
}

// Version implements [knowledge.TripleStore].
func (s *Store) Version(ctx context.Context, tenant, tripleID string, n int) (knowledge.TripleVersion, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.TripleVersion{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(tenant, tripleID, n)
}

// Diff implements [knowledge.TripleStore].
func (s *Store) Diff(ctx context.Context, tenant, tripleID string, from, to int) (knowledge.VersionDiff, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.VersionDiff{}, err
	}
	if from >= to {
		return knowledge.VersionDiff{}, fmt.Errorf("memstore: diff range %d..%d: %w", from, to, knowledge.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.versionLocked(tenant, tripleID, from)
	if err != nil {
		return knowledge.VersionDiff{}, err
	}
	b, err := s.versionLocked(tenant, tripleID, to)
	if err != nil {
		return knowledge.VersionDiff{}, err
	}
	return knowledge.DiffVersions(tripleID, a, b), nil
}

// RestoreVersion implements [knowledge.TripleStore]. It rebuilds the live
// triple from version n, continues the version sequence, and stamps
// restoration provenance.
func (s *Store) RestoreVersion(ctx context.Context, tenant, tripleID string, n int, user, comment string) (_ knowledge.Triple, err error) {
	defer s.observeMutation(ctx, "restore", time.Now(), &err)
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}

	unlock := s.keys.lock(tenant + "\x00" + tripleID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.versionLocked(tenant, tripleID, n)
	if err != nil {
		return knowledge.Triple{}, err
	}
	ts := s.tenant(tenant)
	history := ts.versions[tripleID]
	latest := history[len(history)-1].VersionNumber

	now := s.now()
	restored := v.Triple
	restored.Version = latest + 1
	restored.UpdatedAt = now
	restored.Provenance = cloneProvenance(restored.Provenance)
	restored.Provenance[provRestoredFromVersion] = n
	restored.Provenance[provRestorationTime] = now
	if user != "" {
		restored.Provenance[provRestoredByUser] = user
	}

	ts.triples[tripleID] = restored
	graph := ts.graphs[restored.GraphURI]
	if graph == nil {
		graph = make(map[string]struct{})
		ts.graphs[restored.GraphURI] = graph
	}
	graph[tripleID] = struct{}{}

	s.appendVersion(ts, knowledge.TripleVersion{
		Triple:        restored,
		TripleID:      tripleID,
		VersionNumber: restored.Version,
		Change:        knowledge.ChangeRestoration,
		ChangedBy:     user,
		Comment:       comment,
		RecordedAt:    now,
	})
	return restored, nil
}

// historyLocked returns the raw ordered history of a triple.
// Callers must hold s.mu.
func (s *Store) historyLocked(tenant, tripleID string) ([]knowledge.TripleVersion, error) {
	ts, ok := s.tenants[tenant]
	if !ok {
		return nil, notFound(tripleID)
	}
	history, ok := ts.versions[tripleID]
	if !ok || len(history) == 0 {
		return nil, notFound(tripleID)
	}
	return history, nil
}

// versionLocked returns version n of a triple. Callers must hold s.mu.
func (s *Store) versionLocked(tenant, tripleID string, n int) (knowledge.TripleVersion, error) {
	history, err := s.historyLocked(tenant, tripleID)
	if err != nil {
		return knowledge.TripleVersion{}, err
	}
	for _, v := range history {
		if v.VersionNumber == n {
			return v, nil
		}
	}
	return knowledge.TripleVersion{}, fmt.Errorf("memstore: %q version %d: %w", tripleID, n, knowledge.ErrNotFound)
}

func cloneProvenance(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
