package sparql

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI            // <...>
	tokVar            // ?name
	tokString         // "..." with escapes resolved
	tokWord           // keyword, prefixed name, number, or "a"
	tokPunct          // { } . ; , ( ) ^^ @lang
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		default:
			return l.scan()
		}
	}
	return token{kind: tokEOF, pos: l.pos}, nil
}

func (l *lexer) scan() (token, error) {
	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '<':
		end := strings.IndexByte(l.input[l.pos:], '>')
		if end < 0 {
			return token{}, fmt.Errorf("sparql: unterminated IRI at offset %d: %w", start, knowledge.ErrInvalidArgument)
		}
		iri := l.input[l.pos+1 : l.pos+end]
		l.pos += end + 1
		return token{kind: tokIRI, text: iri, pos: start}, nil

	case c == '?' || c == '$':
		l.pos++
		name := l.word()
		if name == "" {
			return token{}, fmt.Errorf("sparql: empty variable name at offset %d: %w", start, knowledge.ErrInvalidArgument)
		}
		return token{kind: tokVar, text: name, pos: start}, nil

	case c == '"':
		l.pos++
		var b strings.Builder
		for l.pos < len(l.input) {
			ch := l.input[l.pos]
			if ch == '\\' && l.pos+1 < len(l.input) {
				esc := l.input[l.pos+1]
				switch esc {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(esc)
				}
				l.pos += 2
				continue
			}
			if ch == '"' {
				l.pos++
				return token{kind: tokString, text: b.String(), pos: start}, nil
			}
			b.WriteByte(ch)
			l.pos++
		}
		return token{}, fmt.Errorf("sparql: unterminated string at offset %d: %w", start, knowledge.ErrInvalidArgument)

	case c == '^' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '^':
		l.pos += 2
		return token{kind: tokPunct, text: "^^", pos: start}, nil

	case c == '@':
		l.pos++
		lang := l.word()
		return token{kind: tokPunct, text: "@" + lang, pos: start}, nil

	case strings.IndexByte("{}.;,()", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil

	default:
		w := l.word()
		if w == "" {
			return token{}, fmt.Errorf("sparql: unexpected character %q at offset %d: %w", c, start, knowledge.ErrInvalidArgument)
		}
		return token{kind: tokWord, text: w, pos: start}, nil
	}
}

// word consumes a run of name characters (letters, digits, _, -, :, *).
func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.input) {
		r := rune(l.input[l.pos])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-:*", r) {
			l.pos++
			continue
		}
		break
	}
	return l.input[start:l.pos]
}

type parser struct {
	lex      lexer
	tok      token
	prefixes map[string]string
}

// Parse parses a SPARQL SELECT or CONSTRUCT query.
func Parse(input string) (*Query, error) {
	p := &parser{lex: lexer{input: input}, prefixes: map[string]string{}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	q := &Query{Limit: -1}

	for p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "PREFIX") {
		if err := p.parsePrefix(); err != nil {
			return nil, err
		}
	}

	switch {
	case p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "SELECT"):
		q.Form = FormSelect
		if err := p.parseSelect(q); err != nil {
			return nil, err
		}
	case p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "CONSTRUCT"):
		q.Form = FormConstruct
		if err := p.parseConstruct(q); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sparql: expected SELECT or CONSTRUCT, got %q: %w", p.tok.text, knowledge.ErrInvalidArgument)
	}

	if err := p.parseFrom(q); err != nil {
		return nil, err
	}
	if err := p.parseWhere(q); err != nil {
		return nil, err
	}
	if err := p.parseModifiers(q); err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("sparql: trailing input %q at offset %d: %w", p.tok.text, p.tok.pos, knowledge.ErrInvalidArgument)
	}
	return q, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expectPunct(text string) error {
	if p.tok.kind != tokPunct || p.tok.text != text {
		return fmt.Errorf("sparql: expected %q, got %q at offset %d: %w", text, p.tok.text, p.tok.pos, knowledge.ErrInvalidArgument)
	}
	return p.advance()
}

func (p *parser) parsePrefix() error {
	if err := p.advance(); err != nil { // PREFIX
		return err
	}
	if p.tok.kind != tokWord || !strings.HasSuffix(p.tok.text, ":") {
		return fmt.Errorf("sparql: expected prefix name, got %q: %w", p.tok.text, knowledge.ErrInvalidArgument)
	}
	name := strings.TrimSuffix(p.tok.text, ":")
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokIRI {
		return fmt.Errorf("sparql: expected IRI after PREFIX %s:, got %q: %w", name, p.tok.text, knowledge.ErrInvalidArgument)
	}
	p.prefixes[name] = p.tok.text
	return p.advance()
}

func (p *parser) parseSelect(q *Query) error {
	if err := p.advance(); err != nil { // SELECT
		return err
	}
	if p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "DISTINCT") {
		q.Distinct = true
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.tok.kind == tokWord && p.tok.text == "*" {
		return p.advance()
	}
	for p.tok.kind == tokVar {
		q.Vars = append(q.Vars, p.tok.text)
		if err := p.advance(); err != nil {
			return err
		}
	}
	if len(q.Vars) == 0 {
		return fmt.Errorf("sparql: SELECT requires * or at least one variable: %w", knowledge.ErrInvalidArgument)
	}
	return nil
}

func (p *parser) parseConstruct(q *Query) error {
	if err := p.advance(); err != nil { // CONSTRUCT
		return err
	}
	template, err := p.parseGroup()
	if err != nil {
		return err
	}
	if len(template) == 0 {
		return fmt.Errorf("sparql: empty CONSTRUCT template: %w", knowledge.ErrInvalidArgument)
	}
	q.Template = template
	return nil
}

func (p *parser) parseFrom(q *Query) error {
	for p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "FROM") {
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.kind != tokIRI {
			return fmt.Errorf("sparql: expected IRI after FROM, got %q: %w", p.tok.text, knowledge.ErrInvalidArgument)
		}
		q.Graphs = append(q.Graphs, knowledge.NormalizeURI(p.tok.text))
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseWhere(q *Query) error {
	if p.tok.kind == tokWord && strings.EqualFold(p.tok.text, "WHERE") {
		if err := p.advance(); err != nil {
			return err
		}
	}
	where, err := p.parseGroup()
	if err != nil {
		return err
	}
	if len(where) == 0 {
		return fmt.Errorf("sparql: empty WHERE clause: %w", knowledge.ErrInvalidArgument)
	}
	q.Where = where
	return nil
}

// parseGroup parses a { pattern ( . pattern )* } group, supporting ";"
// predicate-object lists and "," object lists.
func (p *parser) parseGroup() ([]Pattern, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var patterns []Pattern
	for {
		if p.tok.kind == tokPunct && p.tok.text == "}" {
			break
		}
		subject, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
	predicates:
		for {
			predicate, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			for {
				object, err := p.parseTerm()
				if err != nil {
					return nil, err
				}
				patterns = append(patterns, Pattern{Subject: subject, Predicate: predicate, Object: object})
				if p.tok.kind == tokPunct && p.tok.text == "," {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if p.tok.kind == tokPunct && p.tok.text == ";" {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue predicates
			}
			break
		}
		if p.tok.kind == tokPunct && p.tok.text == "." {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return patterns, nil
}

func (p *parser) parseTerm() (Term, error) {
	switch p.tok.kind {
	case tokVar:
		t := Term{Kind: TermVar, Value: p.tok.text}
		return t, p.advance()

	case tokIRI:
		t := Term{Kind: TermIRI, Value: knowledge.NormalizeURI(p.tok.text)}
		return t, p.advance()

	case tokString:
		t := Term{Kind: TermLiteral, Value: p.tok.text}
		if err := p.advance(); err != nil {
			return Term{}, err
		}
		if p.tok.kind == tokPunct && strings.HasPrefix(p.tok.text, "@") {
			t.Language = strings.TrimPrefix(p.tok.text, "@")
			if err := p.advance(); err != nil {
				return Term{}, err
			}
		} else if p.tok.kind == tokPunct && p.tok.text == "^^" {
			if err := p.advance(); err != nil {
				return Term{}, err
			}
			dt, err := p.parseTerm()
			if err != nil {
				return Term{}, err
			}
			if dt.Kind != TermIRI {
				return Term{}, fmt.Errorf("sparql: datatype must be an IRI: %w", knowledge.ErrInvalidArgument)
			}
			t.Datatype = dt.Value
		}
		return t, nil

	case tokWord:
		word := p.tok.text
		if word == "a" {
			t := Term{Kind: TermIRI, Value: RDFType}
			return t, p.advance()
		}
		if colon := strings.IndexByte(word, ':'); colon >= 0 {
			base, ok := p.prefixes[word[:colon]]
			if !ok {
				return Term{}, fmt.Errorf("sparql: undeclared prefix %q: %w", word[:colon], knowledge.ErrInvalidArgument)
			}
			t := Term{Kind: TermIRI, Value: knowledge.NormalizeURI(base + word[colon+1:])}
			return t, p.advance()
		}
		// Bare numbers parse as plain literals.
		if isNumber(word) {
			t := Term{Kind: TermLiteral, Value: word}
			return t, p.advance()
		}
		return Term{}, fmt.Errorf("sparql: unexpected term %q at offset %d: %w", word, p.tok.pos, knowledge.ErrInvalidArgument)

	default:
		return Term{}, fmt.Errorf("sparql: unexpected token %q at offset %d: %w", p.tok.text, p.tok.pos, knowledge.ErrInvalidArgument)
	}
}

func (p *parser) parseModifiers(q *Query) error {
	for p.tok.kind == tokWord {
		switch {
		case strings.EqualFold(p.tok.text, "LIMIT"):
			n, err := p.parseCount("LIMIT")
			if err != nil {
				return err
			}
			q.Limit = n
		case strings.EqualFold(p.tok.text, "OFFSET"):
			n, err := p.parseCount("OFFSET")
			if err != nil {
				return err
			}
			q.Offset = n
		default:
			return fmt.Errorf("sparql: unexpected keyword %q: %w", p.tok.text, knowledge.ErrInvalidArgument)
		}
	}
	return nil
}

func (p *parser) parseCount(keyword string) (int, error) {
	if err := p.advance(); err != nil {
		return 0, err
	}
	if p.tok.kind != tokWord || !isNumber(p.tok.text) {
		return 0, fmt.Errorf("sparql: %s requires a non-negative integer, got %q: %w", keyword, p.tok.text, knowledge.ErrInvalidArgument)
	}
	n := 0
	for _, c := range p.tok.text {
		n = n*10 + int(c-'0')
	}
	return n, p.advance()
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
