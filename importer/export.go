package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

// Window selects documents by modifiedAt. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// ParseWindow builds a window from a calendar day (YYYY-MM-DD, UTC) or an
// RFC 3339 lower bound. With neither, every document matches.
func ParseWindow(date, since string) (Window, error) {
	switch {
	case date != "" && since != "":
		return Window{}, fmt.Errorf("%w: date and since are mutually exclusive", schema.ErrFilterSyntax)
	case date != "":
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return Window{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", schema.ErrFilterSyntax, date)
		}
		return Window{From: day, To: day.AddDate(0, 0, 1)}, nil
	case since != "":
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return Window{}, fmt.Errorf("%w: since %q is not an RFC 3339 timestamp", schema.ErrFilterSyntax, since)
		}
		return Window{From: t}, nil
	}
	return Window{}, nil
}

// Contains reports whether t falls in [From, To).
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// Export writes the documents of collection whose modifiedAt falls in win.
// Columns are _id, the schema fields in order, createdAt and modifiedAt.
// It returns schema.ErrRecordNotFound when nothing matches.
func (im *Importer) Export(ctx context.Context, def *schema.Definition, collection string, win Window, format Format, w io.Writer) (int, error) {
	docs, err := im.store.Find(ctx, collection, nil, store.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", collection, err)
	}

	header := make([]string, 0, len(def.Fields)+3)
	header = append(header, schema.IDKey)
	for _, f := range def.Fields {
		header = append(header, f.Name)
	}
	header = append(header, schema.CreatedAtKey, schema.ModifiedAtKey)

	var rows [][]any
	for _, doc := range docs {
		ts, _ := doc[schema.ModifiedAtKey].(string)
		modified, err := time.Parse(time.RFC3339, ts)
		if err != nil || !win.Contains(modified) {
			continue
		}
		row := make([]any, len(header))
		for i, col := range header {
			row[i] = cellValue(doc[col])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no documents in %s for the requested period", schema.ErrRecordNotFound, collection)
	}
	if err := writeTable(w, format, sheetName(def.Name), header, rows); err != nil {
		return 0, fmt.Errorf("writing %s export: %w", format, err)
	}
	return len(rows), nil
}

// cellValue flattens a document value for a spreadsheet cell. Lists and
// dicts become JSON text; whole numbers become integers.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return v
}

func cellText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
