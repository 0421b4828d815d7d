// Package memstore provides an in-memory implementation of
// [knowledge.TripleStore].
//
// The store keeps live triples, per-triple version histories, named graphs,
// and snapshots in tenant-partitioned maps guarded by a read-write mutex.
// Mutations to the same (tenant, triple ID) are additionally serialised
// through a keyed mutex so that version numbers are strictly increasing even
// under concurrent writers.
//
// Versioning failures during an otherwise successful mutation are logged and
// swallowed — the structural mutation stands. This is a deliberate
// availability-over-auditability choice for the in-memory variant; the
// PostgreSQL store (pkg/knowledge/postgres) is transactional instead.
//
// The store is suitable for single-process deployments and testing.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Compile-time assertion that Store satisfies the TripleStore interface.
var _ knowledge.TripleStore = (*Store)(nil)

// Store is a thread-safe, in-memory [knowledge.TripleStore].
// Use [New] to obtain a ready instance.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState

	// keys serialises mutations per (tenant, triple ID).
	keys keyedMutex

	// now is stubbed in tests to drive temporal scenarios.
	now func() time.Time

	metrics *observe.Metrics
}

// tenantState holds one tenant's partition. All access goes through Store.mu.
type tenantState struct {
	// graphs maps a graph URI to the set of live triple IDs it contains.
	graphs map[string]map[string]struct{}

	// triples holds the live records by triple ID.
	triples map[string]knowledge.Triple

	// versions holds per-triple histories ordered by version number.
	versions map[string][]knowledge.TripleVersion

	// snapshots holds frozen graph copies by name.
	snapshots map[string]knowledge.Snapshot
}

// Option is a functional option for [New].
type Option func(*Store)

// WithMetrics overrides the metrics instance mutations and queries are
// recorded on. Intended for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New returns an initialised empty [Store].
func New(opts ...Option) *Store {
	s := &Store{
		tenants: make(map[string]*tenantState),
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// observeMutation records the outcome and latency of one mutation.
func (s *Store) observeMutation(ctx context.Context, op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	s.metrics.RecordTripleMutation(ctx, op, status, time.Since(start).Seconds())
}

// observeQuery records the latency of one query.
func (s *Store) observeQuery(ctx context.Context, kind string, start time.Time) {
	s.metrics.RecordQuery(ctx, kind, time.Since(start).Seconds())
}

// tenant returns the state partition for t, creating it on first use.
// Callers must hold s.mu for writing.
func (s *Store) tenant(t string) *tenantState {
	ts, ok := s.tenants[t]
	if !ok {
		ts = &tenantState{
			graphs:    make(map[string]map[string]struct{}),
			triples:   make(map[string]knowledge.Triple),
			versions:  make(map[string][]knowledge.TripleVersion),
			snapshots: make(map[string]knowledge.Snapshot),
		}
		s.tenants[t] = ts
	}
	return ts
}

// checkArgs validates the tenant and context shared by every operation.
func checkArgs(ctx context.Context, tenant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tenant == "" {
		return fmt.Errorf("memstore: empty tenant: %w", knowledge.ErrInvalidArgument)
	}
	return nil
}

// prepare normalises and completes a triple for insertion. It assigns an ID
// when missing, applies URI normalisation, and resolves the default graph.
func prepare(tenant string, t knowledge.Triple) (knowledge.Triple, error) {
	if t.Confidence < 0 || t.Confidence > 1 {
		return knowledge.Triple{}, fmt.Errorf("memstore: confidence %v outside [0,1]: %w", t.Confidence, knowledge.ErrInvalidArgument)
	}
	if t.SubjectID == "" || t.PredicateURI == "" || t.ObjectID == "" {
		return knowledge.Triple{}, fmt.Errorf("memstore: subject, predicate and object must be non-empty: %w", knowledge.ErrInvalidArgument)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.TenantID = tenant
	t.SubjectID = knowledge.NormalizeURI(t.SubjectID)
	t.PredicateURI = knowledge.NormalizeURI(t.PredicateURI)
	if !t.IsLiteral {
		t.ObjectID = knowledge.NormalizeURI(t.ObjectID)
	}
	if t.GraphURI == "" {
		t.GraphURI = knowledge.DefaultGraphURI(tenant)
	} else {
		t.GraphURI = knowledge.NormalizeURI(t.GraphURI)
	}
	return t, nil
}

// AddTriple implements [knowledge.TripleStore].
func (s *Store) AddTriple(ctx context.Context, tenant string, t knowledge.Triple) (_ knowledge.Triple, err error) {
	defer s.observeMutation(ctx, "add", time.Now(), &err)
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}
	t, err = prepare(tenant, t)
	if err != nil {
		return knowledge.Triple{}, err
	}

	unlock := s.keys.lock(tenant + "\x00" + t.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tenant(tenant)
	if _, exists := ts.triples[t.ID]; exists {
		return knowledge.Triple{}, fmt.Errorf("memstore: triple %q already exists: %w", t.ID, knowledge.ErrInvalidArgument)
	}

	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

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
		VersionNumber: 1,
		Change:        knowledge.ChangeCreation,
		RecordedAt:    now,
	})
	return t, nil
}

// AddTriples implements [knowledge.TripleStore]. Elements are inserted in
// input order; a failing element is logged and skipped.
func (s *Store) AddTriples(ctx context.Context, tenant string, triples []knowledge.Triple) (int, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return 0, err
	}
	added := 0
	for i, t := range triples {
		if _, err := s.AddTriple(ctx, tenant, t); err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			slog.Warn("memstore: batch element rejected", "index", i, "err", err)
			continue
		}
		added++
	}
	return added, nil
}

// GetTriple implements [knowledge.TripleStore].
func (s *Store) GetTriple(ctx context.Context, tenant, id string) (knowledge.Triple, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.tenants[tenant]
	if !ok {
		return knowledge.Triple{}, notFound(id)
	}
	t, ok := ts.triples[id]
	if !ok {
		return knowledge.Triple{}, notFound(id)
	}
	return t, nil
}

// UpdateTriple implements [knowledge.TripleStore].
func (s *Store) UpdateTriple(ctx context.Context, tenant string, t knowledge.Triple) (_ knowledge.Triple, err error) {
	defer s.observeMutation(ctx, "update", time.Now(), &err)
	if err := checkArgs(ctx, tenant); err != nil {
		return knowledge.Triple{}, err
	}
	if t.ID == "" {
		return knowledge.Triple{}, fmt.Errorf("memstore: update without id: %w", knowledge.ErrInvalidArgument)
	}
	t, err = prepare(tenant, t)
	if err != nil {
		return knowledge.Triple{}, err
	}

	unlock := s.keys.lock(tenant + "\x00" + t.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenant]
	if !ok {
		return knowledge.Triple{}, notFound(t.ID)
	}
	prev, ok := ts.triples[t.ID]
	if !ok {
		return knowledge.Triple{}, notFound(t.ID)
	}

	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = s.now()
	t.Version = prev.Version + 1

	ts.triples[t.ID] = t
	if prev.GraphURI != t.GraphURI {
		delete(ts.graphs[prev.GraphURI], t.ID)
		graph := ts.graphs[t.GraphURI]
		if graph == nil {
			graph = make(map[string]struct{})
			ts.graphs[t.GraphURI] = graph
		}
		graph[t.ID] = struct{}{}
	}

	s.appendVersion(ts, knowledge.TripleVersion{
		Triple:        t,
		TripleID:      t.ID,
		VersionNumber: t.Version,
		Change:        knowledge.ChangeUpdate,
		RecordedAt:    t.UpdatedAt,
	})
	return t, nil
}

// RemoveTriple implements [knowledge.TripleStore].
func (s *Store) RemoveTriple(ctx context.Context, tenant, id string) (err error) {
	defer s.observeMutation(ctx, "remove", time.Now(), &err)
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("memstore: remove without id: %w", knowledge.ErrInvalidArgument)
	}

	unlock := s.keys.lock(tenant + "\x00" + id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenant]
	if !ok {
		return notFound(id)
	}
	return s.removeTripleLocked(ts, id)
}

// removeTripleLocked removes one live triple and emits its deletion version.
// Callers must hold s.mu for writing.
func (s *Store) removeTripleLocked(ts *tenantState, id string) error {
	prev, ok := ts.triples[id]
	if !ok {
		return notFound(id)
	}
	delete(ts.triples, id)
	delete(ts.graphs[prev.GraphURI], id)

	s.appendVersion(ts, knowledge.TripleVersion{
		Triple:        prev,
		TripleID:      id,
		VersionNumber: prev.Version + 1,
		Change:        knowledge.ChangeDeletion,
		RecordedAt:    s.now(),
	})
	return nil
}

// CreateGraph implements [knowledge.TripleStore]. Creation is idempotent.
func (s *Store) CreateGraph(ctx context.Context, tenant, uri string) error {
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("memstore: empty graph uri: %w", knowledge.ErrInvalidArgument)
	}
	uri = knowledge.NormalizeURI(uri)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tenant(tenant)
	if ts.graphs[uri] == nil {
		ts.graphs[uri] = make(map[string]struct{})
	}
	return nil
}

// RemoveGraph implements [knowledge.TripleStore]. Removal cascades to every
// triple in the graph, each emitting a deletion version.
func (s *Store) RemoveGraph(ctx context.Context, tenant, uri string) error {
	if err := checkArgs(ctx, tenant); err != nil {
		return err
	}
	uri = knowledge.NormalizeURI(uri)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenant]
	if !ok {
		return notFound(uri)
	}
	graph, ok := ts.graphs[uri]
	if !ok {
		return notFound(uri)
	}
	for id := range graph {
		if err := s.removeTripleLocked(ts, id); err != nil {
			// The id set and the live map only diverge on a bug; log and
			// keep cascading.
			slog.Warn("memstore: cascade remove", "graph", uri, "triple", id, "err", err)
		}
	}
	delete(ts.graphs, uri)
	return nil
}

// ListGraphs implements [knowledge.TripleStore].
func (s *Store) ListGraphs(ctx context.Context, tenant string) ([]string, error) {
	if err := checkArgs(ctx, tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	uris := []string{}
	if ts, ok := s.tenants[tenant]; ok {
		for uri := range ts.graphs {
			uris = append(uris, uri)
		}
	}
	slices.Sort(uris)
	return uris, nil
}

// appendVersion validates monotonicity and appends v to its triple's history.
// A violation is logged and swallowed: the structural mutation that produced
// v still stands. Callers must hold s.mu for writing.
func (s *Store) appendVersion(ts *tenantState, v knowledge.TripleVersion) {
	history := ts.versions[v.TripleID]
	if n := len(history); n > 0 && history[n-1].VersionNumber >= v.VersionNumber {
		slog.Warn("memstore: version out of order, history entry dropped",
			"triple", v.TripleID,
			"have", history[len(history)-1].VersionNumber,
			"got", v.VersionNumber,
		)
		return
	}
	ts.versions[v.TripleID] = append(history, v)
}

func notFound(id string) error {
	return fmt.Errorf("memstore: %q: %w", id, knowledge.ErrNotFound)
}

// keyedMutex hands out one mutex per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	m    sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.m.Lock()
	return func() {
		e.m.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
