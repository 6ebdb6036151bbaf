package docstore

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Reserved document keys maintained by the store.
const (
	FieldID        = "id"
	FieldUserID    = "userId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Document is a stored record: {id, ...fields, userId, createdAt, updatedAt}.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	return cast.ToString(d[FieldID])
}

// UserID returns the owning user identifier.
func (d Document) UserID() string {
	return cast.ToString(d[FieldUserID])
}

// CreatedAt returns the server-assigned creation time.
func (d Document) CreatedAt() time.Time {
	return timeValue(d[FieldCreatedAt])
}

// UpdatedAt returns the server-assigned modification time.
func (d Document) UpdatedAt() time.Time {
	return timeValue(d[FieldUpdatedAt])
}

// Lookup resolves a dotted path ("address.city") inside the document.
func (d Document) Lookup(path string) (any, bool) {
	var current any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch v := current.(type) {
		case Document:
			m = v
		case map[string]any:
			m = v
		default:
			return nil, false
		}
		next, ok := m[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Fields returns a copy of the document without reserved keys.
func (d Document) Fields() Document {
	out := make(Document, len(d))
	for k, v := range d {
		switch k {
		case FieldID, FieldUserID, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		out[k] = Clone(v)
	}
	return out
}

// Merge returns a deep copy of d with updates applied on top.
func (d Document) Merge(updates Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range updates {
		out[k] = Clone(v)
	}
	return out
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Clone(d).(Document)
}

// Clone deep-copies plain values: maps, slices, pointers, and time.Time.
// time.Time is a value type and stays a time.Time. Anything else is returned
// as-is.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Document:
		if t == nil {
			return Document(nil)
		}
		out := make(Document, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []Document:
		if t == nil {
			return []Document(nil)
		}
		out := make([]Document, len(t))
		for i, val := range t {
			out[i] = val.Clone()
		}
		return out
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return t
		}
		cpy := *t
		return &cpy
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), v.Type().Elem()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneElem(v.Elem(), v.Type().Elem()))
		return out
	default:
		return v
	}
}

func cloneElem(v reflect.Value, typ reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(typ)
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(typ)
		}
		cloned := Clone(v.Elem().Interface())
		if cloned == nil {
			return reflect.Zero(typ)
		}
		return reflect.ValueOf(cloned)
	}
	if !v.CanInterface() {
		return v
	}
	return reflect.ValueOf(Clone(v.Interface())).Convert(typ)
}

func timeValue(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	case string:
		if parsed, err := cast.ToTimeE(t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
