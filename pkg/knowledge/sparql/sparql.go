// Package sparql evaluates a SPARQL subset against a [knowledge.TripleStore].
//
// The supported grammar covers SELECT and CONSTRUCT query forms with PREFIX
// declarations, FROM clauses, basic graph patterns (IRIs, prefixed names,
// variables, literals with optional language tags or datatypes, and the "a"
// shorthand for rdf:type), DISTINCT, LIMIT, and OFFSET.
//
// Tenant isolation is structural: evaluation issues every lookup through the
// tenant-scoped store API, so a query can never observe another tenant's
// graphs regardless of what its FROM clauses name.
package sparql

import (
	"context"
	"time"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// RDFType is the IRI the "a" predicate shorthand expands to.
const RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Form distinguishes the query forms the evaluator accepts.
type Form string

const (
	FormSelect    Form = "SELECT"
	FormConstruct Form = "CONSTRUCT"
)

// TermKind classifies a term in a triple pattern.
type TermKind int

const (
	TermVar TermKind = iota
	TermIRI
	TermLiteral
)

// Term is one position of a triple pattern: a variable, an IRI, or a literal.
type Term struct {
	Kind TermKind

	// Value holds the variable name (without "?"), the IRI, or the literal
	// lexical form.
	Value string

	// Language and Datatype qualify literal terms.
	Language string
	Datatype string
}

// Pattern is a subject / predicate / object triple pattern.
type Pattern struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// Query is a parsed SPARQL query.
type Query struct {
	Form     Form
	Distinct bool

	// Vars is the SELECT projection. Empty means "*": every variable bound
	// by the WHERE clause, in first-appearance order.
	Vars []string

	// Template holds the CONSTRUCT template patterns.
	Template []Pattern

	// Where holds the basic graph pattern.
	Where []Pattern

	// Graphs lists the FROM clause IRIs, normalised. Empty means every graph
	// of the calling tenant.
	Graphs []string

	// Offset and Limit page the solution sequence. Limit < 0 means no limit.
	Offset int
	Limit  int
}

// Result is the outcome of executing a query. SELECT fills Vars and Bindings;
// CONSTRUCT fills Triples.
type Result struct {
	Form Form

	Vars     []string
	Bindings []map[string]Term

	Triples []knowledge.Triple

	QueryTime time.Duration
}

// Executor runs parsed queries against a store with a per-query timeout.
type Executor struct {
	store   knowledge.TripleStore
	timeout time.Duration
	metrics *observe.Metrics
}

// ExecutorOption is a functional option for [NewExecutor].
type ExecutorOption func(*Executor)

// WithMetrics overrides the metrics instance query latencies are recorded on.
// Intended for tests.
func WithMetrics(m *observe.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor returns an Executor over store. timeout <= 0 disables the
// per-query deadline.
func NewExecutor(store knowledge.TripleStore, timeout time.Duration, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		timeout: timeout,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute parses and evaluates query on behalf of tenant.
func (e *Executor) Execute(ctx context.Context, tenant, query string) (Result, error) {
	start := time.Now()
	defer func() {
		e.metrics.RecordQuery(ctx, "sparql", time.Since(start).Seconds())
	}()

	q, err := Parse(query)
	if err != nil {
		return Result{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.eval(ctx, tenant, q)
}
