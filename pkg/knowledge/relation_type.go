package knowledge

// RelationType is the closed enumeration of semantic relation labels the
// platform understands. Every value except [RelationDomainSpecific] maps to a
// fixed predicate URI (see [PredicateURI]); domain-specific relations carry
// their label in [Relation.Name].
type RelationType string

const (
	RelationAssociatedWith   RelationType = "AssociatedWith"
	RelationWorksFor         RelationType = "WorksFor"
	RelationLocatedIn        RelationType = "LocatedIn"
	RelationHeadquarteredIn  RelationType = "HeadquarteredIn"
	RelationHasTitle         RelationType = "HasTitle"
	RelationHasSkill         RelationType = "HasSkill"
	RelationCreated          RelationType = "Created"
	RelationPartOf           RelationType = "PartOf"
	RelationOwns             RelationType = "Owns"
	RelationSubsidiaryOf     RelationType = "SubsidiaryOf"
	RelationAuthorOf         RelationType = "AuthorOf"
	RelationLeads            RelationType = "Leads"
	RelationParticipatesIn   RelationType = "ParticipatesIn"
	RelationOccurredBefore   RelationType = "OccurredBefore"
	RelationOccurredAfter    RelationType = "OccurredAfter"
	RelationDomainSpecific   RelationType = "DomainSpecific"
	RelationUses             RelationType = "Uses"
	RelationDependsOn        RelationType = "DependsOn"
	RelationSimilarTo        RelationType = "SimilarTo"
	RelationReferences       RelationType = "References"
	RelationSynonymOf        RelationType = "SynonymOf"
	RelationParentCategoryOf RelationType = "ParentCategoryOf"
	RelationSubcategoryOf    RelationType = "SubcategoryOf"
	RelationColumnOf         RelationType = "ColumnOf"
	RelationTableOf          RelationType = "TableOf"
	RelationHasAttribute     RelationType = "HasAttribute"
	RelationOther            RelationType = "Other"
)

// predicateSuffixes maps every closed relation type to its camel-case
// predicate URI suffix under [OntologyBase]. RelationDomainSpecific is
// intentionally absent — its suffix derives from the relation name.
var predicateSuffixes = map[RelationType]string{
	RelationAssociatedWith:   "associatedWith",
	RelationWorksFor:         "worksFor",
	RelationLocatedIn:        "locatedIn",
	RelationHeadquarteredIn:  "headquarteredIn",
	RelationHasTitle:         "hasTitle",
	RelationHasSkill:         "hasSkill",
	RelationCreated:          "created",
	RelationPartOf:           "partOf",
	RelationOwns:             "owns",
	RelationSubsidiaryOf:     "subsidiaryOf",
	RelationAuthorOf:         "authorOf",
	RelationLeads:            "leads",
	RelationParticipatesIn:   "participatesIn",
	RelationOccurredBefore:   "occurredBefore",
	RelationOccurredAfter:    "occurredAfter",
	RelationUses:             "uses",
	RelationDependsOn:        "dependsOn",
	RelationSimilarTo:        "similarTo",
	RelationReferences:       "references",
	RelationSynonymOf:        "synonymOf",
	RelationParentCategoryOf: "parentCategoryOf",
	RelationSubcategoryOf:    "subcategoryOf",
	RelationColumnOf:         "columnOf",
	RelationTableOf:          "tableOf",
	RelationHasAttribute:     "hasAttribute",
	RelationOther:            "hasRelation",
}

// relationTypeOrder fixes the enumeration order for [RelationTypes].
var relationTypeOrder = []RelationType{
	RelationAssociatedWith, RelationWorksFor, RelationLocatedIn,
	RelationHeadquarteredIn, RelationHasTitle, RelationHasSkill,
	RelationCreated, RelationPartOf, RelationOwns, RelationSubsidiaryOf,
	RelationAuthorOf, RelationLeads, RelationParticipatesIn,
	RelationOccurredBefore, RelationOccurredAfter, RelationDomainSpecific,
	RelationUses, RelationDependsOn, RelationSimilarTo, RelationReferences,
	RelationSynonymOf, RelationParentCategoryOf, RelationSubcategoryOf,
	RelationColumnOf, RelationTableOf, RelationHasAttribute, RelationOther,
}

// RelationTypes returns every member of the closed enumeration in a stable
// order.
func RelationTypes() []RelationType {
	out := make([]RelationType, len(relationTypeOrder))
	copy(out, relationTypeOrder)
	return out
}

// IsValid reports whether r is a member of the closed enumeration.
func (r RelationType) IsValid() bool {
	if r == RelationDomainSpecific {
		return true
	}
	_, ok := predicateSuffixes[r]
	return ok
}
