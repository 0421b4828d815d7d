package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if KNOWLEDGE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("KNOWLEDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KNOWLEDGE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS snapshot_triples CASCADE",
		"DROP TABLE IF EXISTS snapshots CASCADE",
		"DROP TABLE IF EXISTS triple_versions CASCADE",
		"DROP TABLE IF EXISTS triples CASCADE",
		"DROP TABLE IF EXISTS graphs CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func newTriple(subject, predicate, object string) knowledge.Triple {
	return knowledge.Triple{
		SubjectID:    subject,
		PredicateURI: predicate,
		ObjectID:     object,
		Confidence:   0.9,
	}
}

func TestTripleLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/worksFor", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	if added.ID == "" || added.Version != 1 {
		t.Fatalf("added = %+v", added)
	}
	if want := knowledge.DefaultGraphURI("acme"); added.GraphURI != want {
		t.Fatalf("graph = %q, want %q", added.GraphURI, want)
	}

	got, err := store.GetTriple(ctx, "acme", added.ID)
	if err != nil {
		t.Fatalf("GetTriple: %v", err)
	}
	if got.SubjectID != added.SubjectID || got.Version != 1 {
		t.Fatalf("got = %+v", got)
	}

	got.ObjectID = "http://e/3"
	updated, err := store.UpdateTriple(ctx, "acme", got)
	if err != nil {
		t.Fatalf("UpdateTriple: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	if err := store.RemoveTriple(ctx, "acme", added.ID); err != nil {
		t.Fatalf("RemoveTriple: %v", err)
	}
	if _, err := store.GetTriple(ctx, "acme", added.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	history, err := store.History(ctx, "acme", added.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d versions, want 3", len(history))
	}
	if history[0].Change != knowledge.ChangeDeletion || history[0].Triple.ObjectID != "http://e/3" {
		t.Fatalf("newest = %+v", history[0])
	}
}

func TestTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.AddTriple(ctx, "tenant-a", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	if _, err := store.GetTriple(ctx, "tenant-b", a.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.RemoveTriple(ctx, "tenant-b", a.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	res, err := store.Query(ctx, "tenant-b", knowledge.TripleQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.TotalCount != 0 {
		t.Fatalf("tenant-b observed %d foreign triples", res.TotalCount)
	}
}

func TestQueryPagingAndSorting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, subject := range []string{"http://e/a", "http://e/b", "http://e/c", "http://e/d"} {
		if _, err := store.AddTriple(ctx, "acme", newTriple(subject, "http://p/x", "http://e/z")); err != nil {
			t.Fatalf("AddTriple: %v", err)
		}
	}

	res, err := store.Query(ctx, "acme", knowledge.TripleQuery{
		SortBy:        knowledge.SortBySubjectID,
		SortAscending: true,
		Limit:         3,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Triples) != 3 || res.TotalCount != 4 || !res.HasMore {
		t.Fatalf("page = %d/%d hasMore=%v", len(res.Triples), res.TotalCount, res.HasMore)
	}
	if res.Triples[0].SubjectID != "http://e/a" {
		t.Fatalf("order wrong: %+v", res.Triples[0])
	}

	res, err = store.Query(ctx, "acme", knowledge.TripleQuery{Offset: 10, Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Triples) != 0 || res.TotalCount != 4 {
		t.Fatalf("overshoot page = %d/%d", len(res.Triples), res.TotalCount)
	}
}

func TestTemporalAsOf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	afterCreate := time.Now()

	added.ObjectID = "http://e/3"
	if _, err := store.UpdateTriple(ctx, "acme", added); err != nil {
		t.Fatalf("UpdateTriple: %v", err)
	}
	afterUpdate := time.Now()

	if err := store.RemoveTriple(ctx, "acme", added.ID); err != nil {
		t.Fatalf("RemoveTriple: %v", err)
	}
	afterDelete := time.Now()

	res, err := store.QueryTemporal(ctx, "acme", knowledge.TemporalQuery{AsOf: afterUpdate})
	if err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}
	if len(res.Versions) != 1 || res.Versions[0].VersionNumber != 2 {
		t.Fatalf("as-of after update = %+v", res.Versions)
	}
	if len(res.Triples) != 1 || res.Triples[0].ObjectID != "http://e/3" {
		t.Fatalf("materialised = %+v", res.Triples)
	}

	res, err = store.QueryTemporal(ctx, "acme", knowledge.TemporalQuery{AsOf: afterDelete})
	if err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}
	if len(res.Versions) != 0 {
		t.Fatalf("deleted triple surfaced: %+v", res.Versions)
	}

	res, err = store.QueryTemporal(ctx, "acme", knowledge.TemporalQuery{AsOf: afterDelete, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}
	if len(res.Versions) != 1 || res.Versions[0].Change != knowledge.ChangeDeletion {
		t.Fatalf("tombstone missing: %+v", res.Versions)
	}

	res, err = store.QueryTemporal(ctx, "acme", knowledge.TemporalQuery{
		From: afterCreate.Add(-time.Hour), To: afterDelete, IncludeAllVersions: true,
	})
	if err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}
	if len(res.Versions) != 3 {
		t.Fatalf("range = %+v", res.Versions)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seeded := make([]knowledge.Triple, 0, 2)
	for _, obj := range []string{"http://e/10", "http://e/11"} {
		tr, err := store.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", obj))
		if err != nil {
			t.Fatalf("AddTriple: %v", err)
		}
		seeded = append(seeded, tr)
	}

	info, err := store.CreateSnapshot(ctx, "acme", "before", nil)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if info.TripleCount != 2 {
		t.Fatalf("info = %+v", info)
	}

	if err := store.RemoveTriple(ctx, "acme", seeded[0].ID); err != nil {
		t.Fatalf("RemoveTriple: %v", err)
	}
	if _, err := store.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/extra")); err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	n, err := store.RestoreSnapshot(ctx, "acme", "before")
	if err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d, want 2", n)
	}

	res, err := store.Query(ctx, "acme", knowledge.TripleQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("live set = %d triples, want the frozen 2", res.TotalCount)
	}

	history, err := store.History(ctx, "acme", seeded[0].ID, 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].Change != knowledge.ChangeRestoration {
		t.Fatalf("newest change = %q", history[0].Change)
	}
	if history[0].Comment != "Restored from snapshot 'before'" {
		t.Fatalf("comment = %q", history[0].Comment)
	}
}

func TestRestoreVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	added.ObjectID = "http://e/3"
	if _, err := store.UpdateTriple(ctx, "acme", added); err != nil {
		t.Fatalf("UpdateTriple: %v", err)
	}

	restored, err := store.RestoreVersion(ctx, "acme", added.ID, 1, "alice", "rollback")
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if restored.ObjectID != "http://e/2" || restored.Version != 3 {
		t.Fatalf("restored = %+v", restored)
	}
	// Provenance keys survive the JSONB round-trip; the version index comes
	// back as a JSON number.
	live, err := store.GetTriple(ctx, "acme", added.ID)
	if err != nil {
		t.Fatalf("GetTriple: %v", err)
	}
	if live.Provenance["RestoredByUser"] != "alice" {
		t.Fatalf("provenance = %+v", live.Provenance)
	}
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lit := newTriple("http://e/1", "http://p/hasTitle", "Director")
	lit.IsLiteral = true
	lit.Verified = true
	for _, tr := range []knowledge.Triple{lit, newTriple("http://e/1", "http://p/worksFor", "http://e/2")} {
		if _, err := store.AddTriple(ctx, "acme", tr); err != nil {
			t.Fatalf("AddTriple: %v", err)
		}
	}

	stats, err := store.Statistics(ctx, "acme")
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Triples != 2 || stats.Graphs != 1 || stats.Literals != 1 || stats.Verified != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
