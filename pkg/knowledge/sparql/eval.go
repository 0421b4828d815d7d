package sparql

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// eval runs q against the executor's store for one tenant.
func (e *Executor) eval(ctx context.Context, tenant string, q *Query) (Result, error) {
	start := time.Now()

	solutions := []map[string]Term{{}}
	for _, pat := range q.Where {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var next []map[string]Term
		for _, sol := range solutions {
			extended, err := e.match(ctx, tenant, pat, sol, q.Graphs)
			if err != nil {
				return Result{}, err
			}
			next = append(next, extended...)
		}
		solutions = next
		if len(solutions) == 0 {
			break
		}
	}

	solutions = page(solutions, q.Offset, q.Limit, q.Distinct, projectionVars(q))

	result := Result{Form: q.Form}
	switch q.Form {
	case FormSelect:
		result.Vars = projectionVars(q)
		result.Bindings = make([]map[string]Term, 0, len(solutions))
		for _, sol := range solutions {
			row := make(map[string]Term, len(result.Vars))
			for _, v := range result.Vars {
				if t, ok := sol[v]; ok {
					row[v] = t
				}
			}
			result.Bindings = append(result.Bindings, row)
		}
	case FormConstruct:
		result.Triples = construct(tenant, q.Template, solutions)
	}

	result.QueryTime = time.Since(start)
	return result, nil
}

// match finds all extensions of sol that satisfy pat within the given graphs.
func (e *Executor) match(ctx context.Context, tenant string, pat Pattern, sol map[string]Term, graphs []string) ([]map[string]Term, error) {
	subject := resolve(pat.Subject, sol)
	predicate := resolve(pat.Predicate, sol)
	object := resolve(pat.Object, sol)

	query := knowledge.TripleQuery{}
	if subject.Kind == TermIRI {
		query.SubjectID = subject.Value
	}
	if predicate.Kind == TermIRI {
		query.PredicateURI = predicate.Value
	}
	if object.Kind != TermVar {
		query.ObjectID = object.Value
	}

	scopes := graphs
	if len(scopes) == 0 {
		scopes = []string{""}
	}

	var out []map[string]Term
	for _, graph := range scopes {
		query.GraphURI = graph
		res, err := e.store.Query(ctx, tenant, query)
		if err != nil {
			return nil, fmt.Errorf("sparql: pattern lookup: %w", err)
		}
		for _, t := range res.Triples {
			extended, ok := unifyTriple(t, subject, predicate, object, sol)
			if !ok {
				continue
			}
			out = append(out, extended)
		}
	}
	return out, nil
}

// resolve substitutes a bound variable with its value.
func resolve(t Term, sol map[string]Term) Term {
	if t.Kind == TermVar {
		if bound, ok := sol[t.Value]; ok {
			return bound
		}
	}
	return t
}

// unifyTriple checks t against the (partially resolved) pattern terms and
// returns the extended solution on success.
func unifyTriple(t knowledge.Triple, subject, predicate, object Term, sol map[string]Term) (map[string]Term, bool) {
	bindings := map[string]Term{}

	bind := func(term Term, actual Term) bool {
		switch term.Kind {
		case TermVar:
			if prev, ok := bindings[term.Value]; ok {
				return prev == actual
			}
			bindings[term.Value] = actual
			return true
		case TermIRI:
			return actual.Kind == TermIRI && actual.Value == term.Value
		default:
			if actual.Kind != TermLiteral || actual.Value != term.Value {
				return false
			}
			if term.Language != "" && !strings.EqualFold(term.Language, actual.Language) {
				return false
			}
			if term.Datatype != "" && term.Datatype != actual.Datatype {
				return false
			}
			return true
		}
	}

	if !bind(subject, Term{Kind: TermIRI, Value: t.SubjectID}) {
		return nil, false
	}
	if !bind(predicate, Term{Kind: TermIRI, Value: t.PredicateURI}) {
		return nil, false
	}
	objectTerm := Term{Kind: TermIRI, Value: t.ObjectID}
	if t.IsLiteral {
		objectTerm = Term{
			Kind:     TermLiteral,
			Value:    t.ObjectID,
			Language: t.LanguageTag,
			Datatype: t.LiteralDataType,
		}
	}
	if !bind(object, objectTerm) {
		return nil, false
	}

	extended := make(map[string]Term, len(sol)+len(bindings))
	for k, v := range sol {
		extended[k] = v
	}
	for k, v := range bindings {
		extended[k] = v
	}
	return extended, true
}

// projectionVars returns the SELECT projection, expanding "*" to every
// variable of the WHERE clause in first-appearance order.
func projectionVars(q *Query) []string {
	if len(q.Vars) > 0 {
		return q.Vars
	}
	var vars []string
	seen := map[string]bool{}
	for _, pat := range q.Where {
		for _, t := range []Term{pat.Subject, pat.Predicate, pat.Object} {
			if t.Kind == TermVar && !seen[t.Value] {
				seen[t.Value] = true
				vars = append(vars, t.Value)
			}
		}
	}
	return vars
}

// page applies DISTINCT, a deterministic order, OFFSET, and LIMIT to the
// solution sequence.
func page(solutions []map[string]Term, offset, limit int, distinct bool, vars []string) []map[string]Term {
	key := func(sol map[string]Term) string {
		var b strings.Builder
		for _, v := range vars {
			t := sol[v]
			fmt.Fprintf(&b, "%d\x00%s\x00%s\x00%s\x1f", t.Kind, t.Value, t.Language, t.Datatype)
		}
		return b.String()
	}

	sort.SliceStable(solutions, func(i, j int) bool {
		return key(solutions[i]) < key(solutions[j])
	})

	if distinct {
		seen := map[string]bool{}
		deduped := solutions[:0]
		for _, sol := range solutions {
			k := key(sol)
			if seen[k] {
				continue
			}
			seen[k] = true
			deduped = append(deduped, sol)
		}
		solutions = deduped
	}

	if offset > 0 {
		if offset >= len(solutions) {
			return nil
		}
		solutions = solutions[offset:]
	}
	if limit >= 0 && limit < len(solutions) {
		solutions = solutions[:limit]
	}
	return solutions
}

// construct instantiates the CONSTRUCT template for each solution. Patterns
// with unbound variables or a literal in subject or predicate position are
// skipped for that solution. Duplicate triples collapse.
func construct(tenant string, template []Pattern, solutions []map[string]Term) []knowledge.Triple {
	var out []knowledge.Triple
	seen := map[string]bool{}

	for _, sol := range solutions {
		for _, pat := range template {
			subject := resolve(pat.Subject, sol)
			predicate := resolve(pat.Predicate, sol)
			object := resolve(pat.Object, sol)
			if subject.Kind != TermIRI || predicate.Kind != TermIRI || object.Kind == TermVar {
				continue
			}

			t := knowledge.Triple{
				TenantID:     tenant,
				SubjectID:    subject.Value,
				PredicateURI: predicate.Value,
				ObjectID:     object.Value,
			}
			if object.Kind == TermLiteral {
				t.IsLiteral = true
				t.LanguageTag = object.Language
				t.LiteralDataType = object.Datatype
			}

			k := fmt.Sprintf("%s\x00%s\x00%s\x00%v", t.SubjectID, t.PredicateURI, t.ObjectID, t.IsLiteral)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, t)
		}
	}
	return out
}
