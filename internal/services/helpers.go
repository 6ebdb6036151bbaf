package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/charlesng35/dentaldesk/internal/docstore"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// decode converts a loosely typed document into T using its json tags.
func decode[T any](doc docstore.Document) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		Result: &out,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]any(doc)); err != nil {
		return out, fmt.Errorf("decode document %s: %w", doc.ID(), err)
	}
	return out, nil
}

func decodeAll[T any](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func normaliseTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// containsTerm reports whether any of the document's fields contains term.
// An empty term matches everything.
func containsTerm(doc docstore.Document, term string, fields ...string) bool {
	if term == "" {
		return true
	}
	for _, field := range fields {
		value, ok := doc.Lookup(field)
		if !ok || value == nil {
			continue
		}
		if strings.Contains(strings.ToLower(cast.ToString(value)), term) {
			return true
		}
	}
	return false
}

// writeCSV renders one row per document. Missing fields become empty cells
// and times are written as RFC 3339.
func writeCSV(w io.Writer, columns []string, docs []docstore.Document) error {
	out := csv.NewWriter(w)
	if err := out.Write(columns); err != nil {
		return err
	}
	for _, doc := range docs {
		row := make([]string, len(columns))
		for i, column := range columns {
			value, ok := doc.Lookup(column)
			if !ok || value == nil {
				continue
			}
			row[i] = csvCell(value)
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func csvCell(value any) string {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	default:
		return cast.ToString(v)
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
