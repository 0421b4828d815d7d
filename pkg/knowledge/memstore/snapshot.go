package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// CreateSnapshot implements [knowledge.TripleStore]. It freezes all triples
// in the given graphs (or every graph of the tenant when graphURIs is empty)
// under name. An existing snapshot of the same name is an error — snapshots
// are immutable once created.
func (s *Store) CreateSnapshot(ctx context.Context, tenant, name string, graphURIs []string) (knowledge.SnapshotInfo, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.SnapshotInfo{}, err
	}
	if name == "" {
		return knowledge.SnapshotInfo{}, fmt.Errorf("memstore: empty snapshot name: %w", knowledge.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tenant(tenant)
	if _, exists := ts.snapshots[name]; exists {
		return knowledge.SnapshotInfo{}, fmt.Errorf("memstore: snapshot %q already exists: %w", name, knowledge.ErrInvalidArgument)
	}

	var uris []string
	if len(graphURIs) == 0 {
		for uri := range ts.graphs {
			uris = append(uris, uri)
		}
	} else {
		for _, uri := range graphURIs {
			uri = knowledge.NormalizeURI(uri)
			if _, ok := ts.graphs[uri]; !ok {
				return knowledge.SnapshotInfo{}, notFound(uri)
			}
			uris = append(uris, uri)
		}
	}
	slices.Sort(uris)

	var frozen []knowledge.Triple
	for _, uri := range uris {
		var ids []string
		for id := range ts.graphs[uri] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			frozen = append(frozen, ts.triples[id])
		}
	}

	snap := knowledge.Snapshot{
		Name:      name,
		TenantID:  tenant,
		CreatedAt: s.now(),
		GraphURIs: uris,
		Triples:   frozen,
	}
	ts.snapshots[name] = snap

	return snapshotInfo(snap), nil
}

// RestoreSnapshot implements [knowledge.TripleStore]. Every graph referenced
// by the snapshot is cleared (emitting deletion versions), then the frozen
// triples are re-inserted, each continuing its version sequence with a
// restoration version.
func (s *Store) RestoreSnapshot(ctx context.Context, tenant, name string) (int, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenant]
	if !ok {
		return 0, notFound(name)
	}
	snap, ok := ts.snapshots[name]
	if !ok {
		return 0, notFound(name)
	}

	comment := fmt.Sprintf("Restored from snapshot '%s'", name)
	now := s.now()

	for _, uri := range snap.GraphURIs {
		graph, ok := ts.graphs[uri]
		if !ok {
			graph = make(map[string]struct{})
			ts.graphs[uri] = graph
		}
		for id := range graph {
			_ = s.removeTripleLocked(ts, id)
		}
	}

	restored := 0
	for _, frozen := range snap.Triples {
		t := frozen
		t.UpdatedAt = now
		if history := ts.versions[t.ID]; len(history) > 0 {
			t.Version = history[len(history)-1].VersionNumber + 1
		} else {
			t.Version = 1
		}

		ts.triples[t.ID] = t
		graph := ts.graphs[t.GraphURI]
		if graph == nil {
			graph = make(map[string]struct{})
			ts.graphs[t.GraphURI] = graph
		}
		graph[t.ID] = struct{}{}

		s.appendVersion(ts, knowledge.TripleVersion{
			Triple:        t,
			TripleID:      t.ID,
			VersionNumber: t.Version,
			Change:        knowledge.ChangeRestoration,
			Comment:       comment,
			RecordedAt:    now,
		})
		restored++
	}
	return restored, nil
}

// ListSnapshots implements [knowledge.TripleStore]. It returns metadata only,
// ordered by creation time then name.
func (s *Store) ListSnapshots(ctx context.Context, tenant string) ([]knowledge.SnapshotInfo, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := []knowledge.SnapshotInfo{}
	if ts, ok := s.tenants[tenant]; ok {
		for _, snap := range ts.snapshots {
			infos = append(infos, snapshotInfo(snap))
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

func snapshotInfo(snap knowledge.Snapshot) knowledge.SnapshotInfo {
	return knowledge.SnapshotInfo{
		Name:        snap.Name,
		TenantID:    snap.TenantID,
		CreatedAt:   snap.CreatedAt,
		GraphURIs:   slices.Clone(snap.GraphURIs),
		TripleCount: len(snap.Triples),
	}
}
