package docstore

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator is a filter comparison.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessEqual        Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterEqual     Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// MaxDisjunction bounds the list operand of in / not-in / array-contains-any.
const MaxDisjunction = 30

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual,
		OpIn, OpNotIn, OpArrayContains, OpArrayContainsAny:
		return true
	}
	return false
}

// Equality reports whether op only matches exact values and so never needs
// a composite index alongside a sort on another field.
func (op Operator) Equality() bool {
	return op == OpEqual
}

func (op Operator) takesList() bool {
	return op == OpIn || op == OpNotIn || op == OpArrayContainsAny
}

// Direction is a sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// CursorKind selects the pagination boundary a cursor applies.
type CursorKind int

const (
	StartAt CursorKind = iota
	StartAfter
	EndAt
	EndBefore
)

func (k CursorKind) String() string {
	switch k {
	case StartAt:
		return "startAt"
	case StartAfter:
		return "startAfter"
	case EndAt:
		return "endAt"
	case EndBefore:
		return "endBefore"
	}
	return "unknown"
}

// IsStart reports whether the cursor bounds the beginning of the result.
func (k CursorKind) IsStart() bool {
	return k == StartAt || k == StartAfter
}

// Constraint is one primitive of a native query.
type Constraint interface {
	constraint()
	String() string
}

// Where filters documents on a field.
type Where struct {
	Field string
	Op    Operator
	Value any
}

// OrderBy sorts the result.
type OrderBy struct {
	Field     string
	Direction Direction
}

// Limit caps the result size.
type Limit struct {
	N int
}

// Cursor bounds the result relative to a value of the sort field or to a
// document snapshot.
type Cursor struct {
	Kind  CursorKind
	Value any
}

func (Where) constraint()   {}
func (OrderBy) constraint() {}
func (Limit) constraint()   {}
func (Cursor) constraint()  {}

func (w Where) String() string   { return fmt.Sprintf("where(%s %s %v)", w.Field, w.Op, w.Value) }
func (o OrderBy) String() string { return fmt.Sprintf("orderBy(%s %s)", o.Field, o.Direction) }
func (l Limit) String() string   { return fmt.Sprintf("limit(%d)", l.N) }
func (c Cursor) String() string  { return fmt.Sprintf("%s(%v)", c.Kind, c.Value) }

// NewWhere validates and builds a filter primitive.
func NewWhere(field string, op Operator, value any) (Where, error) {
	if strings.TrimSpace(field) == "" {
		return Where{}, Errorf(CodeInvalidArgument, "where: empty field path")
	}
	if !op.Valid() {
		return Where{}, Errorf(CodeInvalidArgument, "where: unsupported operator %q", op)
	}
	if op.takesList() {
		n, ok := listLen(value)
		if !ok {
			return Where{}, Errorf(CodeInvalidArgument, "where: %s on %q requires a list value", op, field)
		}
		if n == 0 || n > MaxDisjunction {
			return Where{}, Errorf(CodeInvalidArgument, "where: %s on %q takes 1 to %d values, got %d", op, field, MaxDisjunction, n)
		}
	}
	return Where{Field: field, Op: op, Value: value}, nil
}

// NewOrderBy validates and builds a sort primitive.
func NewOrderBy(field string, dir Direction) (OrderBy, error) {
	if strings.TrimSpace(field) == "" {
		return OrderBy{}, Errorf(CodeInvalidArgument, "orderBy: empty field path")
	}
	switch dir {
	case "":
		dir = Asc
	case Asc, Desc:
	default:
		return OrderBy{}, Errorf(CodeInvalidArgument, "orderBy: unsupported direction %q", dir)
	}
	return OrderBy{Field: field, Direction: dir}, nil
}

// NewLimit validates and builds a limit primitive.
func NewLimit(n int) (Limit, error) {
	if n <= 0 {
		return Limit{}, Errorf(CodeInvalidArgument, "limit: must be positive, got %d", n)
	}
	return Limit{N: n}, nil
}

// NewCursor validates and builds a pagination primitive.
func NewCursor(kind CursorKind, value any) (Cursor, error) {
	if kind < StartAt || kind > EndBefore {
		return Cursor{}, Errorf(CodeInvalidArgument, "cursor: unknown kind %d", kind)
	}
	if value == nil {
		return Cursor{}, Errorf(CodeInvalidArgument, "%s: nil cursor", kind)
	}
	return Cursor{Kind: kind, Value: value}, nil
}

// Query targets one collection with an ordered list of constraints. A query
// with no constraints reads the whole collection.
type Query struct {
	Collection  string
	Constraints []Constraint
}

// Collection returns the bare query over a collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

// With returns a copy of q with extra constraints appended.
func (q Query) With(constraints ...Constraint) Query {
	out := Query{Collection: q.Collection}
	out.Constraints = make([]Constraint, 0, len(q.Constraints)+len(constraints))
	out.Constraints = append(out.Constraints, q.Constraints...)
	out.Constraints = append(out.Constraints, constraints...)
	return out
}

// Wheres returns the filter constraints in order.
func (q Query) Wheres() []Where {
	var out []Where
	for _, c := range q.Constraints {
		if w, ok := c.(Where); ok {
			out = append(out, w)
		}
	}
	return out
}

// Order returns the sort constraint, if any.
func (q Query) Order() (OrderBy, bool) {
	for _, c := range q.Constraints {
		if o, ok := c.(OrderBy); ok {
			return o, true
		}
	}
	return OrderBy{}, false
}

// OwnerFilter returns the value of an equality filter on userId, which
// backends can push down to an indexed column.
func (q Query) OwnerFilter() (string, bool) {
	for _, w := range q.Wheres() {
		if w.Field == FieldUserID && w.Op == OpEqual {
			if s, ok := w.Value.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func (q Query) String() string {
	parts := make([]string, 0, len(q.Constraints))
	for _, c := range q.Constraints {
		parts = append(parts, c.String())
	}
	return q.Collection + "[" + strings.Join(parts, ", ") + "]"
}

func listLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0, false
	}
	return rv.Len(), true
}

func listItems(v any) []any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
