package docstore

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Apply evaluates constraints against docs and returns the matching,
// ordered, bounded result. Documents are returned as stored; callers clone
// before handing them out.
func Apply(docs []Document, constraints []Constraint) []Document {
	var (
		wheres  []Where
		order   *OrderBy
		limit   int
		cursors []Cursor
	)
	for _, c := range constraints {
		switch v := c.(type) {
		case Where:
			wheres = append(wheres, v)
		case OrderBy:
			o := v
			order = &o
		case Limit:
			limit = v.N
		case Cursor:
			cursors = append(cursors, v)
		}
	}

	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matchesAll(doc, wheres) && hasOrderField(doc, order) {
			out = append(out, doc)
		}
	}

	sortDocuments(out, order)

	for _, c := range cursors {
		out = applyCursor(out, c, order)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Matches reports whether a single document satisfies every filter in q.
func Matches(doc Document, q Query) bool {
	return matchesAll(doc, q.Wheres())
}

func matchesAll(doc Document, wheres []Where) bool {
	for _, w := range wheres {
		if !matches(doc, w) {
			return false
		}
	}
	return true
}

func matches(doc Document, w Where) bool {
	got, ok := doc.Lookup(w.Field)
	if !ok {
		return false
	}

	switch w.Op {
	case OpEqual:
		return equal(got, w.Value)
	case OpNotEqual:
		return got != nil && !equal(got, w.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		cmp, comparable := compare(got, w.Value)
		if !comparable {
			return false
		}
		switch w.Op {
		case OpLess:
			return cmp < 0
		case OpLessEqual:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		return containsValue(listItems(w.Value), got)
	case OpNotIn:
		return got != nil && !containsValue(listItems(w.Value), got)
	case OpArrayContains:
		return containsValue(listItems(got), w.Value)
	case OpArrayContainsAny:
		items := listItems(got)
		for _, candidate := range listItems(w.Value) {
			if containsValue(items, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

func hasOrderField(doc Document, order *OrderBy) bool {
	if order == nil {
		return true
	}
	_, ok := doc.Lookup(order.Field)
	return ok
}

func sortDocuments(docs []Document, order *OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		if order != nil {
			a, _ := docs[i].Lookup(order.Field)
			b, _ := docs[j].Lookup(order.Field)
			if cmp := CompareValues(a, b); cmp != 0 {
				if order.Direction == Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return docs[i].ID() < docs[j].ID()
	})
}

func applyCursor(docs []Document, c Cursor, order *OrderBy) []Document {
	field := FieldID
	desc := false
	if order != nil {
		field = order.Field
		desc = order.Direction == Desc
	}

	bound := c.Value
	if snapshot, ok := asDocument(c.Value); ok {
		bound, _ = snapshot.Lookup(field)
	}

	position := func(doc Document) int {
		v, _ := doc.Lookup(field)
		cmp := CompareValues(v, bound)
		if desc {
			cmp = -cmp
		}
		return cmp
	}

	out := docs[:0:0]
	for _, doc := range docs {
		p := position(doc)
		keep := true
		switch c.Kind {
		case StartAt:
			keep = p >= 0
		case StartAfter:
			keep = p > 0
		case EndAt:
			keep = p <= 0
		case EndBefore:
			keep = p < 0
		}
		if keep {
			out = append(out, doc)
		}
	}
	return out
}

func asDocument(v any) (Document, bool) {
	switch d := v.(type) {
	case Document:
		return d, true
	case map[string]any:
		return Document(d), true
	}
	return nil, false
}

func containsValue(items []any, want any) bool {
	for _, item := range items {
		if equal(item, want) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	cmp, ok := compare(a, b)
	return ok && cmp == 0
}

// CompareValues orders two field values. nil sorts first, then booleans,
// numbers, times and strings; values of different families order by family.
func CompareValues(a, b any) int {
	if cmp, ok := compare(a, b); ok {
		return cmp
	}
	fa, fb := family(a), family(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}

const (
	famNil = iota
	famBool
	famNumber
	famTime
	famString
	famOther
)

func family(v any) int {
	switch v.(type) {
	case nil:
		return famNil
	case bool:
		return famBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return famNumber
	case time.Time, *time.Time:
		return famTime
	case string:
		return famString
	}
	return famOther
}

// compare returns the ordering of a and b and whether they are comparable
// at all. Numbers compare across int/float types; time strings compare
// against time.Time values since JSON-backed stores return RFC 3339 text.
func compare(a, b any) (int, bool) {
	fa, fb := family(a), family(b)

	switch {
	case fa == famNil && fb == famNil:
		return 0, true
	case fa == famNumber && fb == famNumber:
		x, errA := cast.ToFloat64E(a)
		y, errB := cast.ToFloat64E(b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return compareFloat(x, y), true
	case fa == famBool && fb == famBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case fa == famString && fb == famString:
		return strings.Compare(a.(string), b.(string)), true
	case fa == famTime || fb == famTime:
		if (fa != famTime && fa != famString) || (fb != famTime && fb != famString) {
			return 0, false
		}
		x, errA := cast.ToTimeE(a)
		y, errB := cast.ToTimeE(b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
