package repository

import (
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/query"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
)

// Filter narrows, orders or pages a FindAll or Subscribe call. It is one of
// Equals, Sort, Limit or Cursor.
type Filter interface {
	filter()
}

// Equals keeps documents whose Field equals Value.
type Equals struct {
	Field string
	Value any
}

// Sort orders results client-side after the fetch, descending unless Order
// says otherwise. Force additionally asks the backend to sort.
type Sort struct {
	Field string
	Order docstore.Direction
	Force bool
}

// Limit caps the number of fetched documents.
type Limit struct {
	N int
}

// Cursor starts the page after Value, or at it when Inclusive is set.
type Cursor struct {
	Value     any
	Inclusive bool
}

func (Equals) filter() {}
func (Sort) filter()   {}
func (Limit) filter()  {}
func (Cursor) filter() {}

// Control keys understood by ParseFilters. Every other key becomes an
// equality filter.
const (
	KeySortBy        = "sortBy"
	KeySortOrder     = "sortOrder"
	KeyLimitCount    = "limitCount"
	KeyStartAfterDoc = "startAfterDoc"
	KeyForceOrderBy  = "forceOrderBy"
)

// reservedFields are managed by the repository and cannot be filtered on.
var reservedFields = map[string]bool{
	docstore.FieldID:        true,
	docstore.FieldUserID:    true,
	docstore.FieldCreatedAt: true,
	docstore.FieldUpdatedAt: true,
}

// ParseFilters converts a loose key/value map, such as decoded query
// parameters, into filters. Reserved document fields are rejected.
func ParseFilters(raw map[string]any) ([]Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var (
		filters []Filter
		sortBy  string
		order   docstore.Direction
		force   bool
	)

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		switch key {
		case KeySortBy:
			sortBy = strings.TrimSpace(cast.ToString(value))
		case KeySortOrder:
			switch dir := docstore.Direction(strings.ToLower(cast.ToString(value))); dir {
			case docstore.Asc, docstore.Desc:
				order = dir
			default:
				return nil, apperrors.InvalidArgument("sortOrder must be asc or desc, got %q", value)
			}
		case KeyLimitCount:
			n, err := cast.ToIntE(value)
			if err != nil || n <= 0 {
				return nil, apperrors.InvalidArgument("limitCount must be a positive integer, got %v", value)
			}
			filters = append(filters, Limit{N: n})
		case KeyStartAfterDoc:
			if value != nil && value != "" {
				filters = append(filters, Cursor{Value: value})
			}
		case KeyForceOrderBy:
			b, err := cast.ToBoolE(value)
			if err != nil {
				return nil, apperrors.InvalidArgument("forceOrderBy must be a boolean, got %v", value)
			}
			force = b
		default:
			if reservedFields[key] {
				return nil, apperrors.InvalidArgument("%s cannot be used as a filter", key)
			}
			filters = append(filters, Equals{Field: key, Value: value})
		}
	}

	if sortBy != "" {
		filters = append(filters, Sort{Field: sortBy, Order: order, Force: force})
	} else if order != "" || force {
		return nil, apperrors.InvalidArgument("sortOrder and forceOrderBy require sortBy")
	}
	return filters, nil
}

// applyFilters adds the server-side part of filters to b and scopes it to
// owner. The owner constraint goes last so no filter can replace it. It
// returns the client-side sort, if any.
func applyFilters(b *query.Builder, owner string, filters []Filter) *Sort {
	var clientSort *Sort
	for _, f := range filters {
		switch v := f.(type) {
		case Equals:
			if v.Field == docstore.FieldUserID {
				continue
			}
			b.Where(v.Field, docstore.OpEqual, v.Value)
		case Sort:
			s := v
			if s.Order == "" {
				s.Order = docstore.Desc
			}
			clientSort = &s
			if s.Force {
				b.OrderBy(s.Field, s.Order)
			}
		case Limit:
			b.Limit(v.N)
		case Cursor:
			if v.Inclusive {
				b.StartAt(v.Value)
			} else {
				b.StartAfter(v.Value)
			}
		}
	}
	b.Where(docstore.FieldUserID, docstore.OpEqual, owner)
	return clientSort
}

// sortDocuments orders docs on s.Field with a two-way comparison.
func sortDocuments(docs []docstore.Document, s *Sort) {
	if s == nil {
		return
	}
	sort.Slice(docs, func(i, j int) bool {
		a, _ := docs[i].Lookup(s.Field)
		b, _ := docs[j].Lookup(s.Field)
		cmp := docstore.CompareValues(a, b)
		if s.Order == docstore.Asc {
			return cmp < 0
		}
		return cmp > 0
	})
}
