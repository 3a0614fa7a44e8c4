// Package query implements a small filter language over annotation stores.
//
// An expression is one or more clauses joined by "and":
//
//	type = Author, Chapter and resource = v001.txt
//	"Structure Type" != Pagination and imgnum = 12
//	text ~ "བཀྲ་ཤིས"
//
// Fields id, type, group, resource and text are built in; any other field
// names a data key and matches the annotation's own data or its payloads.
// A comma separated value list matches any of the values. "~" is a substring
// match.
package query

import (
	"iter"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// Query is a conjunction of clauses.
type Query struct {
	Clauses []*Clause `@@ ( "and" @@ )*`
}

// Clause compares one field against a list of values.
type Clause struct {
	Field  string   `@(Ident | String)`
	Op     string   `@Op`
	Values []string `@(Ident | String) ( "," @(Ident | String) )*`
}

// Built-in field names.
const (
	FieldID       = "id"
	FieldType     = "type"
	FieldGroup    = "group"
	FieldResource = "resource"
	FieldText     = "text"
)

// Operators.
const (
	OpEqual    = "="
	OpNotEqual = "!="
	OpContains = "~"
)

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Op", Pattern: `!=|=|~`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Ident", Pattern: `[^\s=!~,"]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var queryParser = participle.MustBuild[Query](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
	participle.Elide("Whitespace"),
)

// Parse parses a filter expression.
func Parse(expr string) (*Query, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.NewParse("query", "", "empty expression")
	}
	q, err := queryParser.ParseString("", expr)
	if err != nil {
		return nil, &errors.ParseError{Format: "query", Message: err.Error(), Err: err}
	}
	return q, nil
}

// MustParse is like Parse but panics on error. Intended for fixed expressions.
func MustParse(expr string) *Query {
	q, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return q
}

// String renders the query back to expression form.
func (q *Query) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

func (c *Clause) String() string {
	vals := make([]string, len(c.Values))
	for i, v := range c.Values {
		vals[i] = quote(v)
	}
	return quote(c.Field) + " " + c.Op + " " + strings.Join(vals, ", ")
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n=!~,\"") || s == "and" {
		return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return s
}

// Match reports whether annotation a of store s satisfies every clause.
func (q *Query) Match(s *stam.Store, a *stam.Annotation) bool {
	for _, c := range q.Clauses {
		if !c.match(s, a) {
			return false
		}
	}
	return true
}

func (c *Clause) match(s *stam.Store, a *stam.Annotation) bool {
	actual, ok := fieldValues(s, a, c.Field)
	fold := c.Field == FieldType || c.Field == FieldGroup
	switch c.Op {
	case OpEqual:
		return ok && anyMatch(actual, c.Values, func(x, y string) bool { return equal(x, y, fold) })
	case OpNotEqual:
		return !ok || !anyMatch(actual, c.Values, func(x, y string) bool { return equal(x, y, fold) })
	case OpContains:
		return ok && anyMatch(actual, c.Values, strings.Contains)
	}
	return false
}

func equal(x, y string, fold bool) bool {
	if fold {
		return strings.EqualFold(x, y)
	}
	return x == y
}

func anyMatch(actual, values []string, fn func(actual, value string) bool) bool {
	for _, x := range actual {
		for _, v := range values {
			if fn(x, v) {
				return true
			}
		}
	}
	return false
}

// fieldValues returns the values a field takes on for a, and whether the
// field is present at all.
func fieldValues(s *stam.Store, a *stam.Annotation, field string) ([]string, bool) {
	switch field {
	case FieldID:
		return []string{a.ID()}, true
	case FieldType:
		t, ok := s.Type(a)
		return []string{t}, ok
	case FieldGroup:
		g, ok := s.Group(a)
		return []string{g.String()}, ok
	case FieldResource:
		id := a.ResourceID()
		return []string{id}, id != ""
	case FieldText:
		text, err := s.Text(a)
		return []string{text}, err == nil
	}

	var out []string
	for _, d := range a.Data() {
		if d.Key() == field {
			out = append(out, d.String())
		}
	}
	if v, ok := s.Payloads(a)[field]; ok {
		out = append(out, stam.FormatValue(v))
	}
	return out, len(out) > 0
}

// Select iterates the annotations of s matched by q, in store order.
func Select(s *stam.Store, q *Query) iter.Seq[*stam.Annotation] {
	return func(yield func(*stam.Annotation) bool) {
		for a := range s.Annotations() {
			if q.Match(s, a) && !yield(a) {
				return
			}
		}
	}
}
