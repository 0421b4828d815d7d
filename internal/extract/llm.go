package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/provider/llm"
)

const llmSystemPrompt = `You identify relations between known entities in a text.
You are given the text and the list of entities (id, name, type). Respond with
a JSON array only, no prose. Each element:
{"source_entity_id": "...", "target_entity_id": "...", "relation_type": "...",
 "relation_name": "...", "confidence": 0.0, "is_directional": true,
 "context": "the sentence evidencing the relation"}
relation_type must be one of the allowed types given in the request. Use
"DomainSpecific" with a relation_name for anything not covered. Only report
relations between the listed entity ids. confidence is your certainty in [0,1].`

// llmCandidate is the wire shape of one relation in the model's reply.
type llmCandidate struct {
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	RelationType   string  `json:"relation_type"`
	RelationName   string  `json:"relation_name"`
	Confidence     float64 `json:"confidence"`
	IsDirectional  *bool   `json:"is_directional"`
	Context        string  `json:"context"`
}

// LLMExtractor prompts a completion model for typed relations among the
// supplied entities. The model answers in JSON; candidates with unknown
// relation types or unknown entity ids are dropped, and confidences are
// clamped to [0, 1]. Provider failures propagate as errors, which the
// pipeline treats as recoverable.
type LLMExtractor struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// LLMOption is a functional option for [NewLLMExtractor].
type LLMOption func(*LLMExtractor)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) LLMOption {
	return func(x *LLMExtractor) {
		x.temperature = t
	}
}

// WithMaxTokens caps the completion length. Default: 2048.
func WithMaxTokens(n int) LLMOption {
	return func(x *LLMExtractor) {
		x.maxTokens = n
	}
}

// NewLLMExtractor builds an extractor over the given completion provider.
func NewLLMExtractor(provider llm.Provider, opts ...LLMOption) (*LLMExtractor, error) {
	if provider == nil {
		return nil, fmt.Errorf("extract: llm extractor requires a provider: %w", knowledge.ErrInvalidArgument)
	}
	x := &LLMExtractor{provider: provider, temperature: 0.1, maxTokens: 2048}
	for _, o := range opts {
		o(x)
	}
	return x, nil
}

var _ Extractor = (*LLMExtractor)(nil)

// Name implements Extractor.
func (x *LLMExtractor) Name() string { return "llm" }

// RelationTypes implements Extractor. The model may emit any known type.
func (x *LLMExtractor) RelationTypes() []knowledge.RelationType {
	return knowledge.RelationTypes()
}

// Validate implements Extractor. Type plausibility is delegated to the model.
func (x *LLMExtractor) Validate(_, _ knowledge.Entity, rt knowledge.RelationType) bool {
	return rt.IsValid()
}

// Extract implements Extractor.
func (x *LLMExtractor) Extract(ctx context.Context, text string, entities []knowledge.Entity, sourceDocumentID, tenant string) ([]knowledge.Relation, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	resp, err := x.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: llmSystemPrompt,
		Prompt:       buildExtractionPrompt(text, entities),
		Temperature:  x.temperature,
		MaxTokens:    x.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: llm completion: %w", err)
	}

	candidates, err := parseCandidates(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extract: llm response: %w", err)
	}

	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true
	}

	var relations []knowledge.Relation
	for _, c := range candidates {
		rt := knowledge.RelationType(c.RelationType)
		if !rt.IsValid() {
			continue
		}
		if !known[c.SourceEntityID] || !known[c.TargetEntityID] {
			continue
		}
		confidence := c.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		directional := true
		if c.IsDirectional != nil {
			directional = *c.IsDirectional
		}
		relations = append(relations, knowledge.Relation{
			TenantID:         tenant,
			SourceEntityID:   c.SourceEntityID,
			TargetEntityID:   c.TargetEntityID,
			Type:             rt,
			Name:             c.RelationName,
			Confidence:       confidence,
			Directional:      directional,
			SourceDocumentID: sourceDocumentID,
			SourceContext:    c.Context,
		})
	}
	return relations, nil
}

// buildExtractionPrompt lays out the entity catalog, the allowed relation
// types and the text for the model.
func buildExtractionPrompt(text string, entities []knowledge.Entity) string {
	var b strings.Builder
	b.WriteString("Entities:\n")
	for _, e := range entities {
		fmt.Fprintf(&b, "- id=%s name=%q type=%s\n", e.ID, e.Name, e.Type)
	}
	b.WriteString("\nAllowed relation types: ")
	for i, rt := range knowledge.RelationTypes() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(rt))
	}
	b.WriteString("\n\nText:\n")
	b.WriteString(text)
	return b.String()
}

// parseCandidates decodes the model's JSON array, tolerating a Markdown code
// fence around it.
func parseCandidates(content string) ([]llmCandidate, error) {
	content = strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(content, "```json"); ok {
		content = after
	} else if after, ok := strings.CutPrefix(content, "```"); ok {
		content = after
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	content = strings.TrimSpace(content)

	var candidates []llmCandidate
	if err := json.Unmarshal([]byte(content), &candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return candidates, nil
}
