package extract

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Provenance keys stamped onto mapped triples.
const (
	provSourceContext    = "source_context"
	provExtractionMethod = "extraction_method"
	provRelationType     = "relation_type"
)

// Mapper converts relations into triples. A relation maps to one triple, or
// to a pair of mutually inverse triples when it is non-directional.
type Mapper struct {
	graphURI string
}

// NewMapper returns a mapper that places triples into defaultGraphURI. When
// defaultGraphURI is empty, the tenant's default graph is used per relation.
func NewMapper(defaultGraphURI string) *Mapper {
	return &Mapper{graphURI: defaultGraphURI}
}

// Map converts one relation. The triple reuses the relation's ID for
// traceability; confidence, source document and provenance carry over. For a
// non-directional relation, a second triple with ID "{id}#inverse", swapped
// subject and object, and the same predicate is returned.
func (m *Mapper) Map(r knowledge.Relation, graphURI string) ([]knowledge.Triple, error) {
	if r.TenantID == "" {
		return nil, fmt.Errorf("extract: map relation: empty tenant: %w", knowledge.ErrInvalidArgument)
	}
	if r.SourceEntityID == "" || r.TargetEntityID == "" {
		return nil, fmt.Errorf("extract: map relation %s: missing endpoint: %w", r.ID, knowledge.ErrInvalidArgument)
	}

	predicate, err := knowledge.PredicateURI(r.Type, r.Name)
	if err != nil {
		return nil, fmt.Errorf("extract: map relation %s: %w", r.ID, err)
	}

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if graphURI == "" {
		graphURI = m.graphURI
	}
	if graphURI == "" {
		graphURI = knowledge.DefaultGraphURI(r.TenantID)
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	provenance := make(map[string]any, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		provenance[k] = v
	}
	provenance[provRelationType] = string(r.Type)
	if r.SourceContext != "" {
		provenance[provSourceContext] = r.SourceContext
	}
	if r.ExtractionMethod != "" {
		provenance[provExtractionMethod] = r.ExtractionMethod
	}

	t := knowledge.Triple{
		ID:               id,
		TenantID:         r.TenantID,
		SubjectID:        r.SourceEntityID,
		PredicateURI:     predicate,
		ObjectID:         r.TargetEntityID,
		GraphURI:         graphURI,
		Confidence:       r.Confidence,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
		SourceDocumentID: r.SourceDocumentID,
		Verified:         r.Verified,
		Version:          1,
		Provenance:       provenance,
	}

	if r.Directional {
		return []knowledge.Triple{t}, nil
	}

	inverse := t
	inverse.ID = id + "#inverse"
	inverse.SubjectID = t.ObjectID
	inverse.ObjectID = t.SubjectID
	inverse.Provenance = make(map[string]any, len(provenance))
	for k, v := range provenance {
		inverse.Provenance[k] = v
	}
	return []knowledge.Triple{t, inverse}, nil
}
