// Package extract implements the relation mapping pipeline: a registry of
// typed relation extractors, the pipeline that fans extraction out over them
// and validates/deduplicates the candidates, and the mapper that converts
// surviving relations into RDF triples.
//
// Extractors are pluggable through the [Extractor] interface. The package
// ships three: a verb-pattern extractor, a sentence co-occurrence extractor,
// and an LLM-backed extractor. Extractor instances must be stateless or
// internally synchronized; the pipeline invokes them concurrently.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Extractor produces candidate relations from document text and the entities
// recognised in it.
type Extractor interface {
	// Name identifies the extractor. It is recorded as the extraction method
	// on every relation the extractor produces, and matched (case-insensitive
	// substring) against the pipeline's extractor filter.
	Name() string

	// RelationTypes lists the relation types this extractor can emit.
	RelationTypes() []knowledge.RelationType

	// Validate reports whether a relation of the given type between the two
	// entities is semantically plausible. The pipeline consults it for every
	// candidate when entity-type validation is enabled.
	Validate(source, target knowledge.Entity, rt knowledge.RelationType) bool

	// Extract returns candidate relations found in text among the given
	// entities. Candidates may be partial; the pipeline fills in IDs,
	// timestamps and the tenant before validation.
	Extract(ctx context.Context, text string, entities []knowledge.Entity, sourceDocumentID, tenant string) ([]knowledge.Relation, error)
}

// Registry holds named extractors in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	extractors map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: map[string]Extractor{}}
}

// Register adds an extractor. Names must be unique.
func (r *Registry) Register(e Extractor) error {
	if e == nil || e.Name() == "" {
		return fmt.Errorf("extract: register: extractor must have a name: %w", knowledge.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.Name()
	if _, ok := r.extractors[name]; ok {
		return fmt.Errorf("extract: register: extractor %q already registered: %w", name, knowledge.ErrInvalidArgument)
	}
	r.extractors[name] = e
	r.order = append(r.order, name)
	return nil
}

// Get returns the extractor registered under name.
func (r *Registry) Get(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[name]
	return e, ok
}

// List returns all extractors in registration order.
func (r *Registry) List() []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extractor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.extractors[name])
	}
	return out
}

// Select returns the extractors whose name contains (case-insensitive) any of
// the filter tokens, in registration order. An empty filter selects all.
// When the filter matches nothing, Select falls back to all extractors and
// reports the fallback through the second return value.
func (r *Registry) Select(filter []string) (selected []Extractor, fellBack bool) {
	all := r.List()
	if len(filter) == 0 {
		return all, false
	}
	for _, e := range all {
		name := strings.ToLower(e.Name())
		for _, token := range filter {
			if token != "" && strings.Contains(name, strings.ToLower(token)) {
				selected = append(selected, e)
				break
			}
		}
	}
	if len(selected) == 0 {
		return all, true
	}
	return selected, false
}
