// Package query accumulates filter, sort and pagination constraints for one
// collection and turns them into a docstore query.
package query

import (
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/logger"
)

// Builder collects constraints for one collection. Its fluent methods
// return the builder; the first malformed input is kept and reported by
// Err and Build. A Builder is not safe for concurrent use.
type Builder struct {
	collection string
	log        *zap.Logger

	wheres []docstore.Where
	order  *docstore.OrderBy
	limit  *int
	start  *docstore.Cursor
	end    *docstore.Cursor
	err    error
}

// New returns an empty builder for collection.
func New(collection string) *Builder {
	return &Builder{
		collection: collection,
		log:        logger.WithModule("query").With(zap.String("collection", collection)),
	}
}

// Collection returns the target collection.
func (b *Builder) Collection() string {
	return b.collection
}

// Where adds a filter, replacing any filter with the same field and
// operator. A nil value is ignored.
func (b *Builder) Where(field string, op docstore.Operator, value any) *Builder {
	if strings.TrimSpace(field) == "" {
		return b.fail(apperrors.InvalidArgument("where: field is required"))
	}
	if op == "" {
		return b.fail(apperrors.InvalidArgument("where: operator is required for field %q", field))
	}
	if value == nil {
		b.log.Debug("ignoring where with nil value", zap.String("field", field), zap.String("op", string(op)))
		return b
	}

	w := docstore.Where{Field: field, Op: op, Value: value}
	for i, existing := range b.wheres {
		if existing.Field == field && existing.Op == op {
			b.wheres[i] = w
			return b
		}
	}
	b.wheres = append(b.wheres, w)
	return b
}

// OrderBy sets the sort, replacing any previous one. An empty direction
// sorts ascending.
func (b *Builder) OrderBy(field string, dir docstore.Direction) *Builder {
	if strings.TrimSpace(field) == "" {
		return b.fail(apperrors.InvalidArgument("orderBy: field is required"))
	}
	if dir == "" {
		dir = docstore.Asc
	}
	b.order = &docstore.OrderBy{Field: field, Direction: dir}
	return b
}

// Limit caps the result size, replacing any previous limit.
func (b *Builder) Limit(n int) *Builder {
	if n <= 0 {
		return b.fail(apperrors.InvalidArgument("limit: count must be a positive integer, got %d", n))
	}
	b.limit = &n
	return b
}

// StartAfter begins the result after cursor, replacing any start cursor.
func (b *Builder) StartAfter(cursor any) *Builder {
	return b.setStart(docstore.StartAfter, cursor)
}

// StartAt begins the result at cursor, replacing any start cursor.
func (b *Builder) StartAt(cursor any) *Builder {
	return b.setStart(docstore.StartAt, cursor)
}

// EndBefore ends the result before cursor, replacing any end cursor.
func (b *Builder) EndBefore(cursor any) *Builder {
	return b.setEnd(docstore.EndBefore, cursor)
}

// EndAt ends the result at cursor, replacing any end cursor.
func (b *Builder) EndAt(cursor any) *Builder {
	return b.setEnd(docstore.EndAt, cursor)
}

func (b *Builder) setStart(kind docstore.CursorKind, cursor any) *Builder {
	if cursor == nil {
		return b.fail(apperrors.InvalidArgument("%s: cursor is required", kind))
	}
	b.start = &docstore.Cursor{Kind: kind, Value: cursor}
	return b
}

func (b *Builder) setEnd(kind docstore.CursorKind, cursor any) *Builder {
	if cursor == nil {
		return b.fail(apperrors.InvalidArgument("%s: cursor is required", kind))
	}
	b.end = &docstore.Cursor{Kind: kind, Value: cursor}
	return b
}

// OptimizeForIndex drops the sort when a non-equality filter targets a
// different field, since that combination needs a composite index.
func (b *Builder) OptimizeForIndex() *Builder {
	if b.order == nil {
		return b
	}
	for _, w := range b.wheres {
		if w.Field != b.order.Field && !w.Op.Equality() {
			b.log.Debug("dropping orderBy to avoid composite index",
				zap.String("order_field", b.order.Field),
				zap.String("filter_field", w.Field),
				zap.String("filter_op", string(w.Op)),
			)
			b.order = nil
			return b
		}
	}
	return b
}

// Err returns the first input error recorded by a fluent method.
func (b *Builder) Err() error {
	return b.err
}

// Build optimizes and translates the accumulated constraints into a
// docstore query in the order where, orderBy, limit, cursors. With no
// constraints the bare collection query is returned.
func (b *Builder) Build() (docstore.Query, error) {
	if b.err != nil {
		return docstore.Query{}, b.err
	}
	b.OptimizeForIndex()

	var constraints []docstore.Constraint
	for _, w := range b.wheres {
		c, err := docstore.NewWhere(w.Field, w.Op, w.Value)
		if err != nil {
			return docstore.Query{}, apperrors.InvalidQuery(err)
		}
		constraints = append(constraints, c)
	}
	if b.order != nil {
		c, err := docstore.NewOrderBy(b.order.Field, b.order.Direction)
		if err != nil {
			return docstore.Query{}, apperrors.InvalidQuery(err)
		}
		constraints = append(constraints, c)
	}
	if b.limit != nil {
		c, err := docstore.NewLimit(*b.limit)
		if err != nil {
			return docstore.Query{}, apperrors.InvalidQuery(err)
		}
		constraints = append(constraints, c)
	}
	for _, cursor := range []*docstore.Cursor{b.start, b.end} {
		if cursor == nil {
			continue
		}
		c, err := docstore.NewCursor(cursor.Kind, cursor.Value)
		if err != nil {
			return docstore.Query{}, apperrors.InvalidQuery(err)
		}
		constraints = append(constraints, c)
	}

	if len(constraints) == 0 {
		return docstore.Collection(b.collection), nil
	}
	return docstore.Query{Collection: b.collection, Constraints: constraints}, nil
}

// Clone copies the accumulated state into an independent builder for the
// same collection.
func (b *Builder) Clone() *Builder {
	out := &Builder{
		collection: b.collection,
		log:        b.log,
		err:        b.err,
	}
	out.wheres = append([]docstore.Where(nil), b.wheres...)
	if b.order != nil {
		o := *b.order
		out.order = &o
	}
	if b.limit != nil {
		n := *b.limit
		out.limit = &n
	}
	if b.start != nil {
		c := *b.start
		out.start = &c
	}
	if b.end != nil {
		c := *b.end
		out.end = &c
	}
	return out
}

// Reset clears all state so the builder can be reused.
func (b *Builder) Reset() *Builder {
	b.wheres = nil
	b.order = nil
	b.limit = nil
	b.start = nil
	b.end = nil
	b.err = nil
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}
