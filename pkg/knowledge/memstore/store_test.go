package memstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/memstore"
)

func newTriple(subject, predicate, object string) knowledge.Triple {
	return knowledge.Triple{
		SubjectID:    subject,
		PredicateURI: predicate,
		ObjectID:     object,
		Confidence:   0.9,
	}
}

func TestAddTriple(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("assigns id, version and default graph", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		got, err := s.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/knows", "http://e/2"))
		if err != nil {
			t.Fatalf("AddTriple: unexpected error: %v", err)
		}
		if got.ID == "" {
			t.Error("expected assigned id")
		}
		if got.Version != 1 {
			t.Errorf("expected version 1, got %d", got.Version)
		}
		if want := knowledge.DefaultGraphURI("acme"); got.GraphURI != want {
			t.Errorf("graph = %q, want %q", got.GraphURI, want)
		}
		if got.TenantID != "acme" {
			t.Errorf("tenant = %q, want acme", got.TenantID)
		}
	})

	t.Run("normalises bare URIs", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		got, err := s.AddTriple(ctx, "acme", newTriple("entities/1", "ontology/knows", "entities/2"))
		if err != nil {
			t.Fatalf("AddTriple: unexpected error: %v", err)
		}
		if got.SubjectID != "http://entities/1" {
			t.Errorf("subject = %q", got.SubjectID)
		}
		if got.PredicateURI != "http://ontology/knows" {
			t.Errorf("predicate = %q", got.PredicateURI)
		}
		if got.ObjectID != "http://entities/2" {
			t.Errorf("object = %q", got.ObjectID)
		}
	})

	t.Run("leaves literal objects verbatim", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		tr := newTriple("http://e/1", "http://p/hasTitle", "Chief Gardener")
		tr.IsLiteral = true
		got, err := s.AddTriple(ctx, "acme", tr)
		if err != nil {
			t.Fatalf("AddTriple: unexpected error: %v", err)
		}
		if got.ObjectID != "Chief Gardener" {
			t.Errorf("literal object = %q, want verbatim form", got.ObjectID)
		}
	})

	t.Run("rejects out-of-range confidence", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		tr := newTriple("http://e/1", "http://p/x", "http://e/2")
		tr.Confidence = 1.5
		_, err := s.AddTriple(ctx, "acme", tr)
		if !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("rejects empty tenant", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		_, err := s.AddTriple(ctx, "", newTriple("http://e/1", "http://p/x", "http://e/2"))
		if !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		tr := newTriple("http://e/1", "http://p/x", "http://e/2")
		tr.ID = "t-1"
		if _, err := s.AddTriple(ctx, "acme", tr); err != nil {
			t.Fatalf("first AddTriple: %v", err)
		}
		_, err := s.AddTriple(ctx, "acme", tr)
		if !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestAddTriples(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	bad := newTriple("http://e/1", "http://p/x", "http://e/2")
	bad.Confidence = -1

	n, err := s.AddTriples(ctx, "acme", []knowledge.Triple{
		newTriple("http://e/1", "http://p/x", "http://e/2"),
		bad,
		newTriple("http://e/2", "http://p/x", "http://e/3"),
	})
	if err != nil {
		t.Fatalf("AddTriples: unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 successes, got %d", n)
	}
}

func TestUpdateTriple(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("increments version and keeps created_at", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		added, err := s.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/2"))
		if err != nil {
			t.Fatalf("AddTriple: %v", err)
		}

		added.ObjectID = "http://e/3"
		updated, err := s.UpdateTriple(ctx, "acme", added)
		if err != nil {
			t.Fatalf("UpdateTriple: %v", err)
		}
		if updated.Version != 2 {
			t.Errorf("version = %d, want 2", updated.Version)
		}
		if !updated.CreatedAt.Equal(added.CreatedAt) {
			t.Error("created_at must be preserved across updates")
		}
	})

	t.Run("unknown id fails with ErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		tr := newTriple("http://e/1", "http://p/x", "http://e/2")
		tr.ID = "missing"
		_, err := s.UpdateTriple(ctx, "acme", tr)
		if !errors.Is(err, knowledge.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRemoveTriple(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	added, err := s.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	if err := s.RemoveTriple(ctx, "acme", added.ID); err != nil {
		t.Fatalf("RemoveTriple: %v", err)
	}
	if _, err := s.GetTriple(ctx, "acme", added.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}

	// The deletion version records the previously-live values.
	history, err := s.History(ctx, "acme", added.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if history[0].Change != knowledge.ChangeDeletion {
		t.Errorf("newest change = %q, want deletion", history[0].Change)
	}
	if history[0].Triple.ObjectID != "http://e/2" {
		t.Errorf("deletion version lost live values: %+v", history[0].Triple)
	}
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	a, err := s.AddTriple(ctx, "tenant-a", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	t.Run("reads do not cross tenants", func(t *testing.T) {
		if _, err := s.GetTriple(ctx, "tenant-b", a.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		res, err := s.Query(ctx, "tenant-b", knowledge.TripleQuery{})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if res.TotalCount != 0 {
			t.Fatalf("tenant-b observed %d foreign triples", res.TotalCount)
		}
	})

	t.Run("mutations do not cross tenants", func(t *testing.T) {
		if err := s.RemoveTriple(ctx, "tenant-b", a.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetTriple(ctx, "tenant-a", a.ID); err != nil {
			t.Fatalf("tenant-a triple must survive: %v", err)
		}
	})
}

func TestGraphs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create is idempotent", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		for i := 0; i < 2; i++ {
			if err := s.CreateGraph(ctx, "acme", "http://g/1"); err != nil {
				t.Fatalf("CreateGraph: %v", err)
			}
		}
		graphs, err := s.ListGraphs(ctx, "acme")
		if err != nil {
			t.Fatalf("ListGraphs: %v", err)
		}
		if len(graphs) != 1 || graphs[0] != "http://g/1" {
			t.Fatalf("graphs = %v", graphs)
		}
	})

	t.Run("remove cascades to triples", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		tr := newTriple("http://e/1", "http://p/x", "http://e/2")
		tr.GraphURI = "http://g/1"
		added, err := s.AddTriple(ctx, "acme", tr)
		if err != nil {
			t.Fatalf("AddTriple: %v", err)
		}
		if err := s.RemoveGraph(ctx, "acme", "http://g/1"); err != nil {
			t.Fatalf("RemoveGraph: %v", err)
		}
		if _, err := s.GetTriple(ctx, "acme", added.ID); !errors.Is(err, knowledge.ErrNotFound) {
			t.Fatalf("expected cascade removal, got %v", err)
		}
	})

	t.Run("remove unknown graph fails", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		if err := s.RemoveGraph(ctx, "acme", "http://g/none"); !errors.Is(err, knowledge.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConcurrentVersioning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	added, err := s.AddTriple(ctx, "acme", newTriple("http://e/1", "http://p/x", "http://e/2"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := added
			tr.ObjectID = fmt.Sprintf("http://e/%d", i)
			if _, err := s.UpdateTriple(ctx, "acme", tr); err != nil {
				t.Errorf("UpdateTriple: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := s.History(ctx, "acme", added.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d versions, got %d", writers+1, len(history))
	}
	// Newest first, strictly decreasing version numbers.
	for i := 1; i < len(history); i++ {
		if history[i].VersionNumber >= history[i-1].VersionNumber {
			t.Fatalf("version order violated at %d: %d then %d", i, history[i-1].VersionNumber, history[i].VersionNumber)
		}
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	lit := newTriple("http://e/1", "http://p/hasTitle", "Director")
	lit.IsLiteral = true
	lit.Confidence = 0.8
	lit.Verified = true

	uri := newTriple("http://e/1", "http://p/worksFor", "http://e/2")
	uri.Confidence = 0.6

	for _, tr := range []knowledge.Triple{lit, uri} {
		if _, err := s.AddTriple(ctx, "acme", tr); err != nil {
			t.Fatalf("AddTriple: %v", err)
		}
	}

	stats, err := s.Statistics(ctx, "acme")
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Triples != 2 || stats.Graphs != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.DistinctSubjects != 1 || stats.DistinctPredicates != 2 || stats.DistinctObjects != 2 {
		t.Errorf("distinct counts = %+v", stats)
	}
	if stats.Literals != 1 || stats.Verified != 1 {
		t.Errorf("literal/verified counts = %+v", stats)
	}
	if got, want := stats.MeanConfidence, 0.7; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("mean confidence = %v, want %v", got, want)
	}
}
