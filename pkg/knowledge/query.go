package knowledge

import "time"

// SortField names a triple attribute a structural query can sort by.
type SortField string

const (
	SortByCreatedAt    SortField = "created_at"
	SortByUpdatedAt    SortField = "updated_at"
	SortByConfidence   SortField = "confidence"
	SortBySubjectID    SortField = "subject_id"
	SortByPredicateURI SortField = "predicate_uri"
	SortByObjectID     SortField = "object_id"
	SortByID           SortField = "id"
	SortByVersion      SortField = "version"
)

// IsValid reports whether f is a recognised sort field.
func (f SortField) IsValid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByConfidence, SortBySubjectID,
		SortByPredicateURI, SortByObjectID, SortByID, SortByVersion:
		return true
	}
	return false
}

// TripleQuery is a structural query over live triples. All filter fields are
// optional; zero values disable the corresponding condition. Conditions
// combine with AND.
type TripleQuery struct {
	// SubjectID, PredicateURI and ObjectID match term values exactly
	// (after URI normalisation for non-literal terms).
	SubjectID    string
	PredicateURI string
	ObjectID     string

	// GraphURI restricts the query to a single graph.
	GraphURI string

	// MinConfidence drops triples whose confidence is below the threshold.
	MinConfidence float64

	// Verified, when non-nil, matches the triple's verified flag.
	Verified *bool

	// SourceDocumentID matches the triple's originating document.
	SourceDocumentID string

	// CreatedAfter / CreatedBefore bound the triple's creation instant
	// (closed interval; zero values disable a bound).
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// SortBy selects the sort key. Empty defaults to [SortByCreatedAt].
	SortBy SortField

	// SortAscending sorts ascending when true. The default is descending.
	SortAscending bool

	// Offset and Limit page the result. Limit <= 0 means no limit.
	Offset int
	Limit  int
}

// QueryResult is the outcome of a structural query.
type QueryResult struct {
	// Triples is the requested page, in sort order.
	Triples []Triple

	// TotalCount is the number of triples matching the filters before paging.
	TotalCount int

	// HasMore reports whether TotalCount exceeds Offset+Limit.
	HasMore bool

	// QueryTime is the server-side execution duration.
	QueryTime time.Duration
}

// TemporalQuery selects triple versions by time, version number, or currency.
// Exactly one of VersionNumber (> 0), AsOf (non-zero), the From/To range
// (non-zero), or Current must be set.
type TemporalQuery struct {
	// Query is the structural sub-query identifying the triples of interest.
	// Its sort and paging fields are ignored; only the filters apply.
	Query TripleQuery

	// VersionNumber selects the exact version of each matching triple.
	VersionNumber int

	// AsOf selects, per triple, the latest version recorded at or before
	// this instant.
	AsOf time.Time

	// From and To select versions recorded within the closed interval.
	From time.Time
	To   time.Time

	// Current selects the latest non-deletion version per triple
	// (or the latest version of any kind when IncludeDeleted is set).
	Current bool

	// ChangedBy keeps only versions recorded by the given user.
	ChangedBy string

	// ChangeTypes keeps only versions whose change type is in the list.
	ChangeTypes []ChangeType

	// IncludeDeleted includes deletion versions in AsOf and Current results.
	IncludeDeleted bool

	// IncludeAllVersions returns every version in a From/To range instead of
	// collapsing to the latest per triple.
	IncludeAllVersions bool

	// MaxVersionsPerTriple caps the versions returned per triple, keeping
	// the newest. It applies only when IncludeAllVersions is true; otherwise
	// the collapse to a single latest version wins and the cap is ignored.
	MaxVersionsPerTriple int

	// DiffOnly, together with IncludeAllVersions, emits consecutive-pair
	// diffs per triple instead of raw versions.
	DiffOnly bool
}

// TemporalResult is the outcome of a temporal query.
type TemporalResult struct {
	// Versions is the selected version records, grouped per triple and
	// ordered newest first within each group.
	Versions []TripleVersion

	// Triples is the implied live state, materialised for AsOf queries.
	Triples []Triple

	// Diffs holds consecutive-pair diffs when DiffOnly was requested.
	Diffs []VersionDiff

	// QueryTime is the server-side execution duration.
	QueryTime time.Duration
}

// PropertyChange records a single field transition between two versions.
type PropertyChange struct {
	// Field is the changed property name (subject_id, predicate_uri,
	// object_id, is_literal, literal_data_type, language_tag, graph_uri,
	// confidence, source_document_id, is_verified).
	Field string

	// From and To are the property values before and after.
	From any
	To   any
}

// VersionDiff is the set of property changes between two versions of one
// triple.
type VersionDiff struct {
	TripleID    string
	FromVersion int
	ToVersion   int
	Changes     []PropertyChange
}

// DiffVersions computes the property changes between two frozen triple
// states. Fields that are equal produce no change entry.
func DiffVersions(tripleID string, from, to TripleVersion) VersionDiff {
	d := VersionDiff{
		TripleID:    tripleID,
		FromVersion: from.VersionNumber,
		ToVersion:   to.VersionNumber,
	}
	a, b := from.Triple, to.Triple

	add := func(field string, va, vb any) {
		if va != vb {
			d.Changes = append(d.Changes, PropertyChange{Field: field, From: va, To: vb})
		}
	}

	add("subject_id", a.SubjectID, b.SubjectID)
	add("predicate_uri", a.PredicateURI, b.PredicateURI)
	add("object_id", a.ObjectID, b.ObjectID)
	add("is_literal", a.IsLiteral, b.IsLiteral)
	add("literal_data_type", a.LiteralDataType, b.LiteralDataType)
	add("language_tag", a.LanguageTag, b.LanguageTag)
	add("graph_uri", a.GraphURI, b.GraphURI)
	add("confidence", a.Confidence, b.Confidence)
	add("source_document_id", a.SourceDocumentID, b.SourceDocumentID)
	add("is_verified", a.Verified, b.Verified)
	return d
}
