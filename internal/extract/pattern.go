package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// patternRule ties a verb phrase to the relation it asserts between the
// entity mentioned before it and the entity mentioned after it.
type patternRule struct {
	re          *regexp.Regexp
	rtype       knowledge.RelationType
	directional bool
	confidence  float64
}

var patternRules = []patternRule{
	{regexp.MustCompile(`(?i)\b(?:works for|works at|is employed by|is employed at)\b`), knowledge.RelationWorksFor, true, 0.85},
	{regexp.MustCompile(`(?i)\b(?:is located in|located in|is based in|based in)\b`), knowledge.RelationLocatedIn, true, 0.85},
	{regexp.MustCompile(`(?i)\b(?:is headquartered in|headquartered in)\b`), knowledge.RelationHeadquarteredIn, true, 0.9},
	{regexp.MustCompile(`(?i)\b(?:leads|heads|manages|is in charge of)\b`), knowledge.RelationLeads, true, 0.8},
	{regexp.MustCompile(`(?i)\b(?:is part of|belongs to)\b`), knowledge.RelationPartOf, true, 0.85},
	{regexp.MustCompile(`(?i)\b(?:owns|acquired)\b`), knowledge.RelationOwns, true, 0.8},
	{regexp.MustCompile(`(?i)\b(?:is a subsidiary of)\b`), knowledge.RelationSubsidiaryOf, true, 0.9},
	{regexp.MustCompile(`(?i)\b(?:created|founded|developed|built)\b`), knowledge.RelationCreated, true, 0.75},
	{regexp.MustCompile(`(?i)\b(?:wrote|authored|is the author of)\b`), knowledge.RelationAuthorOf, true, 0.85},
	{regexp.MustCompile(`(?i)\b(?:uses|relies on|is powered by)\b`), knowledge.RelationUses, true, 0.75},
	{regexp.MustCompile(`(?i)\b(?:depends on)\b`), knowledge.RelationDependsOn, true, 0.8},
	{regexp.MustCompile(`(?i)\b(?:participates in|takes part in)\b`), knowledge.RelationParticipatesIn, true, 0.8},
	{regexp.MustCompile(`(?i)\b(?:references|refers to|cites)\b`), knowledge.RelationReferences, true, 0.75},
}

// mentionWindow bounds, in characters, how far from a verb phrase an entity
// mention may sit and still be taken as its argument.
const mentionWindow = 80

// PatternExtractor finds relations asserted by explicit verb phrases between
// two entity mentions, e.g. "Alice works for Initech". It is stateless.
type PatternExtractor struct{}

// NewPatternExtractor returns the verb-pattern extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

var _ Extractor = (*PatternExtractor)(nil)

// Name implements Extractor.
func (x *PatternExtractor) Name() string { return "pattern" }

// RelationTypes implements Extractor.
func (x *PatternExtractor) RelationTypes() []knowledge.RelationType {
	types := make([]knowledge.RelationType, 0, len(patternRules))
	seen := map[knowledge.RelationType]bool{}
	for _, rule := range patternRules {
		if !seen[rule.rtype] {
			seen[rule.rtype] = true
			types = append(types, rule.rtype)
		}
	}
	return types
}

// typeConstraints lists, per relation type, the entity types plausible as
// source or target. Entities with unlisted or empty types always pass.
var typeConstraints = map[knowledge.RelationType]struct {
	source map[string]bool
	target map[string]bool
}{
	knowledge.RelationWorksFor:        {source: map[string]bool{"person": true}, target: map[string]bool{"organization": true, "company": true}},
	knowledge.RelationLeads:           {source: map[string]bool{"person": true}},
	knowledge.RelationAuthorOf:        {source: map[string]bool{"person": true, "organization": true}},
	knowledge.RelationLocatedIn:       {target: map[string]bool{"location": true, "place": true, "city": true, "country": true}},
	knowledge.RelationHeadquarteredIn: {source: map[string]bool{"organization": true, "company": true}, target: map[string]bool{"location": true, "place": true, "city": true, "country": true}},
}

// Validate implements Extractor. It rejects combinations whose entity types
// contradict the relation, and accepts anything it has no opinion about.
func (x *PatternExtractor) Validate(source, target knowledge.Entity, rt knowledge.RelationType) bool {
	c, ok := typeConstraints[rt]
	if !ok {
		return true
	}
	if c.source != nil && source.Type != "" && !c.source[strings.ToLower(source.Type)] {
		return false
	}
	if c.target != nil && target.Type != "" && !c.target[strings.ToLower(target.Type)] {
		return false
	}
	return true
}

// mention is one occurrence of an entity name in the text.
type mention struct {
	entity knowledge.Entity
	start  int
	end    int
}

// Extract implements Extractor.
func (x *PatternExtractor) Extract(_ context.Context, text string, entities []knowledge.Entity, sourceDocumentID, tenant string) ([]knowledge.Relation, error) {
	mentions := findMentions(text, entities)
	if len(mentions) < 2 {
		return nil, nil
	}

	var relations []knowledge.Relation
	for _, rule := range patternRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			source, okS := mentionBefore(mentions, loc[0])
			target, okT := mentionAfter(mentions, loc[1])
			if !okS || !okT || source.entity.ID == target.entity.ID {
				continue
			}
			relations = append(relations, knowledge.Relation{
				TenantID:         tenant,
				SourceEntityID:   source.entity.ID,
				TargetEntityID:   target.entity.ID,
				Type:             rule.rtype,
				Confidence:       rule.confidence,
				Directional:      rule.directional,
				SourceDocumentID: sourceDocumentID,
				SourceContext:    contextAround(text, source.start, target.end),
			})
		}
	}
	return relations, nil
}

// findMentions locates every case-insensitive occurrence of each entity name,
// sorted by start offset.
func findMentions(text string, entities []knowledge.Entity) []mention {
	lower := strings.ToLower(text)
	var mentions []mention
	for _, e := range entities {
		name := strings.ToLower(e.Name)
		if name == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(lower[from:], name)
			if i < 0 {
				break
			}
			start := from + i
			mentions = append(mentions, mention{entity: e, start: start, end: start + len(name)})
			from = start + len(name)
		}
	}
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].start < mentions[j].start })
	return mentions
}

// mentionBefore returns the mention ending closest before offset, within the
// mention window.
func mentionBefore(mentions []mention, offset int) (mention, bool) {
	var best mention
	found := false
	for _, m := range mentions {
		if m.end <= offset && offset-m.end <= mentionWindow {
			if !found || m.end > best.end {
				best = m
				found = true
			}
		}
	}
	return best, found
}

// mentionAfter returns the mention starting closest after offset, within the
// mention window.
func mentionAfter(mentions []mention, offset int) (mention, bool) {
	for _, m := range mentions {
		if m.start >= offset && m.start-offset <= mentionWindow {
			return m, true
		}
	}
	return mention{}, false
}

// contextAround returns the text span covering both mentions, trimmed.
func contextAround(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
