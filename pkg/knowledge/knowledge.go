// Package knowledge defines the core data model and storage contracts of the
// SmartInsight knowledge platform.
//
// The platform maintains two linked retrieval substrates per tenant:
//
//   - A versioned RDF-style triple graph ([Triple], [TripleVersion], [Snapshot])
//     persisted behind the [TripleStore] interface.
//   - A vector embedding index (see pkg/vectorindex) populated from chunked
//     document text.
//
// Both substrates share one hard invariant: strict per-tenant isolation. Every
// record carries an opaque tenant identifier, every operation takes the
// caller's tenant, and no operation may observe or mutate data belonging to a
// different tenant. A lookup that lands on another tenant's record reports
// [ErrNotFound] — existence must not leak across tenants.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (in-memory, PostgreSQL, …) without depending on platform
// internals.
//
// Every implementation must be safe for concurrent use.
package knowledge

import (
	"context"
	"time"
)

// ChangeType classifies a single entry in a triple's version history.
type ChangeType string

const (
	// ChangeCreation is recorded when a triple is first inserted.
	ChangeCreation ChangeType = "creation"

	// ChangeUpdate is recorded when a live triple is replaced.
	ChangeUpdate ChangeType = "update"

	// ChangeDeletion is recorded when a live triple is removed. The version
	// captures the previously-live values.
	ChangeDeletion ChangeType = "deletion"

	// ChangeRestoration is recorded when a historical version or snapshot is
	// replayed into live storage.
	ChangeRestoration ChangeType = "restoration"
)

// IsValid reports whether c is a recognised change type.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreation, ChangeUpdate, ChangeDeletion, ChangeRestoration:
		return true
	}
	return false
}

// Entity is an external input to the relation mapping pipeline: a named,
// typed object recognised in a source document. Entities are not stored by
// the triple store; they exist to anchor [Relation] endpoints.
// Identity is by (TenantID, ID).
type Entity struct {
	// ID is the unique, stable identifier of this entity within its tenant.
	ID string

	// TenantID is the opaque tenant partition this entity belongs to.
	TenantID string

	// Type classifies the entity (person, organization, location, table, …).
	Type string

	// Name is the canonical display name.
	Name string

	// SourceDocumentID identifies the document the entity was recognised in.
	SourceDocumentID string

	// Attributes holds arbitrary key/value metadata specific to this entity.
	Attributes map[string]any
}

// Relation is an entity-to-entity assertion produced by the relation mapping
// pipeline, awaiting conversion into one or two triples. Relations live in
// memory only; they are either discarded (validation failure, dedup loss) or
// mapped to triples.
type Relation struct {
	// ID is the unique identifier of this relation. It is reused as the
	// triple ID on conversion for traceability.
	ID string

	// TenantID is the opaque tenant partition this relation belongs to.
	TenantID string

	// SourceEntityID and TargetEntityID reference the endpoints by entity ID.
	SourceEntityID string
	TargetEntityID string

	// Type is the relation's semantic label, drawn from the closed
	// [RelationType] enumeration.
	Type RelationType

	// Name carries the free-form relation label and is consulted only when
	// Type is [RelationDomainSpecific].
	Name string

	// Confidence is the extractor's confidence in this relation, in [0, 1].
	Confidence float64

	// Directional reports whether the relation reads in one direction only.
	// Non-directional relations map to a pair of mutually inverse triples.
	Directional bool

	// SourceDocumentID identifies the document the relation was extracted from.
	SourceDocumentID string

	// SourceContext is the text span that evidences the relation.
	SourceContext string

	// ExtractionMethod names the extractor that produced the relation.
	ExtractionMethod string

	// CreatedAt and UpdatedAt are set by the pipeline.
	CreatedAt time.Time
	UpdatedAt time.Time

	// Verified indicates a human has validated this relation.
	Verified bool

	// Version is the relation's revision counter, starting at 1.
	Version int

	// Attributes holds extractor-specific extension data. It is copied into
	// the triple's Provenance on conversion.
	Attributes map[string]any
}

// Triple is an RDF-style statement (subject, predicate, object) carrying
// confidence, provenance, and versioning metadata. Identity is by ID within
// TenantID.
type Triple struct {
	// ID is the unique identifier of this triple within its tenant.
	// Left empty on insertion, the store assigns one.
	ID string

	// TenantID is the opaque tenant partition this triple belongs to.
	TenantID string

	// SubjectID is the subject URI. Normalised on insertion (see NormalizeURI).
	SubjectID string

	// PredicateURI is the predicate URI. Normalised on insertion.
	PredicateURI string

	// ObjectID is either a URI (normalised on insertion) or, when IsLiteral
	// is true, a lexical form stored verbatim.
	ObjectID string

	// IsLiteral reports whether ObjectID is a literal lexical form rather
	// than a URI.
	IsLiteral bool

	// LiteralDataType optionally types a literal object (e.g. an XSD type).
	LiteralDataType string

	// LanguageTag optionally tags a literal object with a language.
	LanguageTag string

	// GraphURI names the graph containing this triple. When empty on
	// insertion, the tenant's default graph is used.
	GraphURI string

	// Confidence is the assertion confidence in [0, 1].
	Confidence float64

	// CreatedAt and UpdatedAt are maintained by the store.
	CreatedAt time.Time
	UpdatedAt time.Time

	// SourceDocumentID identifies the document this triple derives from.
	SourceDocumentID string

	// Verified indicates a human has validated this triple.
	Verified bool

	// Version is the triple's current version number, starting at 1.
	Version int

	// Provenance carries untyped extension data describing how the triple
	// came to be (source context, extraction method, restoration markers, …).
	Provenance map[string]any
}

// TripleVersion is one entry in a triple's version history: a frozen copy of
// the triple as it stood at that version, plus change metadata.
//
// For a given (TenantID, TripleID) the version numbers form a strictly
// increasing sequence starting at 1, with at most one record per number.
type TripleVersion struct {
	// Triple is the frozen state of the triple at this version. For a
	// deletion it captures the previously-live values.
	Triple Triple

	// TripleID references the versioned triple.
	TripleID string

	// VersionNumber is the position of this record in the history, from 1.
	VersionNumber int

	// Change classifies the mutation that produced this version.
	Change ChangeType

	// ChangedBy optionally identifies the user responsible for the change.
	ChangedBy string

	// Comment optionally describes the change.
	Comment string

	// RecordedAt is when this version was emitted. Temporal queries compare
	// against this instant.
	RecordedAt time.Time
}

// Snapshot is an immutable frozen copy of one or more graphs of a tenant at a
// point in time, identified by (TenantID, Name).
type Snapshot struct {
	// Name is the snapshot's unique name within its tenant.
	Name string

	// TenantID is the owning tenant.
	TenantID string

	// CreatedAt is when the snapshot was frozen.
	CreatedAt time.Time

	// GraphURIs lists the graphs covered by the snapshot. It is always
	// resolved to the concrete graph list at freeze time, even when the
	// snapshot was requested for "all graphs".
	GraphURIs []string

	// Triples is the ordered frozen triple sequence.
	Triples []Triple
}

// SnapshotInfo is snapshot metadata without the frozen triples, as returned
// by [TripleStore.ListSnapshots].
type SnapshotInfo struct {
	Name        string
	TenantID    string
	CreatedAt   time.Time
	GraphURIs   []string
	TripleCount int
}

// Statistics summarises a tenant's triple holdings.
type Statistics struct {
	// Graphs is the number of named graphs.
	Graphs int

	// Triples is the number of live triples across all graphs.
	Triples int

	// DistinctSubjects, DistinctPredicates and DistinctObjects count unique
	// term values among live triples.
	DistinctSubjects   int
	DistinctPredicates int
	DistinctObjects    int

	// Literals counts live triples whose object is a literal.
	Literals int

	// Verified counts live triples marked as verified.
	Verified int

	// MeanConfidence is the average confidence across live triples
	// (0 when the tenant holds no triples).
	MeanConfidence float64

	// LastUpdated is the most recent UpdatedAt among live triples.
	LastUpdated time.Time
}

// TripleStore is the sole mutable owner of live triples and their version
// histories. External code interacts with triples only through this
// interface.
//
// Every operation takes the caller's tenant as its first argument after the
// context and must neither observe nor mutate another tenant's data.
// Mutations to the same (tenant, triple ID) are serialised by the
// implementation so that version numbers are strictly increasing.
//
// Implementations must be safe for concurrent use.
type TripleStore interface {
	// AddTriple inserts t into the graph named by t.GraphURI (or the tenant's
	// default graph when empty), assigning an ID when t.ID is empty, and
	// emits a creation version (version 1). URIs are normalised on insertion.
	// Returns the stored triple.
	AddTriple(ctx context.Context, tenant string, t Triple) (Triple, error)

	// AddTriples inserts a batch with per-element AddTriple semantics,
	// applying side effects in input order. Partial success is allowed; the
	// returned count is the number of successful insertions.
	AddTriples(ctx context.Context, tenant string, ts []Triple) (int, error)

	// GetTriple returns the live triple with the given ID.
	// Returns ErrNotFound when absent (or owned by another tenant).
	GetTriple(ctx context.Context, tenant, id string) (Triple, error)

	// UpdateTriple replaces the live record identified by t.ID, increments
	// the version number, refreshes UpdatedAt, and emits an update version.
	UpdateTriple(ctx context.Context, tenant string, t Triple) (Triple, error)

	// RemoveTriple removes the live record and emits a deletion version
	// recording the previously-live values.
	RemoveTriple(ctx context.Context, tenant, id string) error

	// Query runs a structural query over live triples.
	Query(ctx context.Context, tenant string, q TripleQuery) (QueryResult, error)

	// QueryTemporal runs a temporal query over version history.
	QueryTemporal(ctx context.Context, tenant string, q TemporalQuery) (TemporalResult, error)

	// CreateGraph ensures the named graph exists. Idempotent.
	CreateGraph(ctx context.Context, tenant, uri string) error

	// RemoveGraph removes the named graph, cascading to all triples within
	// (each removal emits a deletion version).
	RemoveGraph(ctx context.Context, tenant, uri string) error

	// ListGraphs returns the tenant's graph URIs in lexical order.
	ListGraphs(ctx context.Context, tenant string) ([]string, error)

	// History returns the max newest versions of a triple, newest first.
	// max <= 0 returns the full history.
	History(ctx context.Context, tenant, tripleID string, max int) ([]TripleVersion, error)

	// Version returns the specific version record n of a triple.
	Version(ctx context.Context, tenant, tripleID string, n int) (TripleVersion, error)

	// Diff computes the property changes between versions from and to of the
	// same triple. Requires from < to; otherwise fails with ErrInvalidArgument.
	Diff(ctx context.Context, tenant, tripleID string, from, to int) (VersionDiff, error)

	// RestoreVersion rebuilds the live triple from version n, assigns
	// version latest+1, stamps restoration provenance, and emits a
	// restoration version. user and comment are optional.
	RestoreVersion(ctx context.Context, tenant, tripleID string, n int, user, comment string) (Triple, error)

	// CreateSnapshot freezes all triples in the given graphs (or all the
	// tenant's graphs when graphURIs is empty) under the given name.
	CreateSnapshot(ctx context.Context, tenant, name string, graphURIs []string) (SnapshotInfo, error)

	// RestoreSnapshot clears every graph referenced by the snapshot and
	// re-inserts the frozen triples, each with a restoration version.
	// Returns the number of restored triples.
	RestoreSnapshot(ctx context.Context, tenant, name string) (int, error)

	// ListSnapshots returns snapshot metadata without frozen triples.
	ListSnapshots(ctx context.Context, tenant string) ([]SnapshotInfo, error)

	// Statistics summarises the tenant's live triples.
	Statistics(ctx context.Context, tenant string) (Statistics, error)
}
