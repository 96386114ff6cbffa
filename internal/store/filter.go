package store

import (
	"encoding/json"
	"sort"
	"strings"
)

type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
	// OpLtField compares a field against another field of the same document.
	OpLtField Op = "lt_field"
)

// Cond is one predicate on a (possibly dotted) field path.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter matches documents satisfying every All condition and, when Any is
// non-empty, at least one Any condition. The zero Filter matches everything.
type Filter struct {
	All []Cond
	Any []Cond
}

// Where builds a conjunctive filter.
func Where(conds ...Cond) Filter {
	return Filter{All: conds}
}

// ByID matches the document with the given id.
func ByID(id string) Filter {
	return Where(Eq("id", id))
}

// And returns a copy of f with more required conditions.
func (f Filter) And(conds ...Cond) Filter {
	out := Filter{All: append(append([]Cond{}, f.All...), conds...), Any: f.Any}
	return out
}

// Or returns a copy of f whose alternative group is conds.
func (f Filter) Or(conds ...Cond) Filter {
	return Filter{All: f.All, Any: append(append([]Cond{}, f.Any...), conds...)}
}

// IDEquals returns the id the filter pins, if any.
func (f Filter) IDEquals() (string, bool) {
	for _, c := range f.All {
		if c.Field == "id" && c.Op == OpEq {
			if s, ok := c.Value.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func Eq(field string, v any) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Cond  { return Cond{Field: field, Op: OpNe, Value: v} }
func Gt(field string, v any) Cond  { return Cond{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Cond { return Cond{Field: field, Op: OpLte, Value: v} }

func In(field string, values ...any) Cond {
	return Cond{Field: field, Op: OpIn, Value: values}
}

// Contains is a case-insensitive substring match on a string field.
func Contains(field, substr string) Cond {
	return Cond{Field: field, Op: OpContains, Value: substr}
}

// LtField matches when field < other within the same document.
func LtField(field, other string) Cond {
	return Cond{Field: field, Op: OpLtField, Value: other}
}

// Match evaluates f against doc. Backends that cannot push a filter down
// to their engine use it.
func Match(doc Document, f Filter) bool {
	for _, c := range f.All {
		if !c.matches(doc) {
			return false
		}
	}
	if len(f.Any) == 0 {
		return true
	}
	for _, c := range f.Any {
		if c.matches(doc) {
			return true
		}
	}
	return false
}

func (c Cond) matches(doc Document) bool {
	got, _ := doc.Lookup(c.Field)
	switch c.Op {
	case OpEq:
		return equal(got, c.Value)
	case OpNe:
		return !equal(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(got, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		values, _ := c.Value.([]any)
		for _, v := range values {
			if equal(got, v) {
				return true
			}
		}
		return false
	case OpContains:
		s, ok := got.(string)
		sub, _ := c.Value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case OpLtField:
		other, _ := c.Value.(string)
		ref, _ := doc.Lookup(other)
		cmp, ok := compare(got, ref)
		return ok && cmp < 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	cmp, ok := compare(a, b)
	return ok && cmp == 0
}

// compare orders numbers numerically and strings lexically.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// SortDocuments orders docs in place following opts, then applies skip and limit.
func SortDocuments(docs []Document, opts FindOptions) []Document {
	if opts.SortField != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			a, _ := docs[i].Lookup(opts.SortField)
			b, _ := docs[j].Lookup(opts.SortField)
			cmp, ok := compare(a, b)
			if !ok {
				// documents lacking the field sort first
				return a == nil && b != nil
			}
			if opts.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return docs[:0]
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs
}
