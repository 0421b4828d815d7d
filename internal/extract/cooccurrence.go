package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

const (
	// cooccurrenceFuzzyThreshold is the minimum Jaro-Winkler score for a
	// token to count as a fuzzy mention of an entity name. The phonetic gate
	// in front of it keeps the comparatively low threshold safe.
	cooccurrenceFuzzyThreshold = 0.85

	// cooccurrenceBaseConfidence is the confidence of a pair seen in one
	// sentence; each further shared sentence adds a step.
	cooccurrenceBaseConfidence = 0.5
	cooccurrenceConfidenceStep = 0.1
	cooccurrenceMaxConfidence  = 0.9
)

var sentenceSplit = regexp.MustCompile(`[.!?]+[\s\n]+|[.!?]+$`)

// CooccurrenceExtractor emits an AssociatedWith relation for every pair of
// entities mentioned in the same sentence. Mentions are detected by exact
// substring match first, then by phonetic and fuzzy token similarity, so
// misspelled or transcribed names still count. Confidence grows with the
// number of shared sentences. It is stateless.
type CooccurrenceExtractor struct{}

// NewCooccurrenceExtractor returns the sentence co-occurrence extractor.
func NewCooccurrenceExtractor() *CooccurrenceExtractor {
	return &CooccurrenceExtractor{}
}

var _ Extractor = (*CooccurrenceExtractor)(nil)

// Name implements Extractor.
func (x *CooccurrenceExtractor) Name() string { return "cooccurrence" }

// RelationTypes implements Extractor.
func (x *CooccurrenceExtractor) RelationTypes() []knowledge.RelationType {
	return []knowledge.RelationType{knowledge.RelationAssociatedWith}
}

// Validate implements Extractor. Association carries no type constraints.
func (x *CooccurrenceExtractor) Validate(_, _ knowledge.Entity, rt knowledge.RelationType) bool {
	return rt == knowledge.RelationAssociatedWith
}

// Extract implements Extractor.
func (x *CooccurrenceExtractor) Extract(_ context.Context, text string, entities []knowledge.Entity, sourceDocumentID, tenant string) ([]knowledge.Relation, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	type pairEvidence struct {
		source   knowledge.Entity
		target   knowledge.Entity
		count    int
		sentence string
	}
	pairs := map[string]*pairEvidence{}

	for _, sentence := range splitSentences(text) {
		present := presentEntities(sentence, entities)
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				a, b := present[i], present[j]
				// Canonical pair order keeps (a,b) and (b,a) together.
				if a.ID > b.ID {
					a, b = b, a
				}
				key := a.ID + "\x00" + b.ID
				ev, ok := pairs[key]
				if !ok {
					ev = &pairEvidence{source: a, target: b, sentence: sentence}
					pairs[key] = ev
				}
				ev.count++
			}
		}
	}

	var relations []knowledge.Relation
	for _, ev := range pairs {
		confidence := cooccurrenceBaseConfidence + cooccurrenceConfidenceStep*float64(ev.count-1)
		if confidence > cooccurrenceMaxConfidence {
			confidence = cooccurrenceMaxConfidence
		}
		relations = append(relations, knowledge.Relation{
			TenantID:         tenant,
			SourceEntityID:   ev.source.ID,
			TargetEntityID:   ev.target.ID,
			Type:             knowledge.RelationAssociatedWith,
			Confidence:       confidence,
			Directional:      false,
			SourceDocumentID: sourceDocumentID,
			SourceContext:    strings.TrimSpace(ev.sentence),
		})
	}
	return relations, nil
}

// splitSentences cuts text at sentence-final punctuation, dropping empties.
func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// presentEntities returns the entities mentioned in the sentence, at most
// once each.
func presentEntities(sentence string, entities []knowledge.Entity) []knowledge.Entity {
	lower := strings.ToLower(sentence)
	tokens := strings.Fields(lower)

	var present []knowledge.Entity
	for _, e := range entities {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		if strings.Contains(lower, name) || fuzzyMentioned(tokens, name) {
			present = append(present, e)
		}
	}
	return present
}

// fuzzyMentioned reports whether any sentence token is a phonetic-and-fuzzy
// match for any token of the entity name. A token must share a Double
// Metaphone code with the name token and score at or above the Jaro-Winkler
// threshold.
func fuzzyMentioned(tokens []string, name string) bool {
	for _, nameToken := range strings.Fields(name) {
		namePrimary, nameSecondary := matchr.DoubleMetaphone(nameToken)
		for _, token := range tokens {
			token = strings.Trim(token, `.,;:'"()`)
			if len(token) < 3 {
				continue
			}
			primary, secondary := matchr.DoubleMetaphone(token)
			if !codesMatch(primary, secondary, namePrimary, nameSecondary) {
				continue
			}
			if matchr.JaroWinkler(token, nameToken, false) >= cooccurrenceFuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// codesMatch reports whether the two Double Metaphone code pairs share any
// non-empty code.
func codesMatch(p1, s1, p2, s2 string) bool {
	for _, a := range []string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || (s2 != "" && a == s2) {
			return true
		}
	}
	return false
}
