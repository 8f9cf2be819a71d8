// Package importer loads CSV and XLSX files into a schema's collection and
// dumps collections back out in the same formats.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/masterlist/filter"
	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

// ErrMissingColumn marks a schema field with no column in the file.
var ErrMissingColumn = errors.New("missing column")

// RowError describes one rejected row. Row counts data rows from 1.
type RowError struct {
	Row    int               `json:"row"`
	Data   map[string]string `json:"data"`
	Errors []string          `json:"errors"`
}

// Result summarizes an import.
type Result struct {
	Message  string     `json:"message"`
	Inserted int        `json:"inserted"`
	IDs      []string   `json:"ids"`
	Failed   []RowError `json:"failed"`
}

// Importer validates uploaded rows and writes the good ones in one batch.
type Importer struct {
	store   store.Store
	workers int
	log     logrus.FieldLogger
}

// New returns an Importer that validates up to workers rows at a time.
func New(s store.Store, workers int, log logrus.FieldLogger) *Importer {
	if workers < 1 {
		workers = 1
	}
	return &Importer{store: s, workers: workers, log: log}
}

type rowResult struct {
	doc  store.Document
	errs []error
}

// Import reads a table from r and inserts every valid row into collection.
// Bad rows never fail the call; they are reported in the result. A returned
// error means the file could not be read or the store failed.
func (im *Importer) Import(ctx context.Context, v *schema.Validator, collection string, r io.Reader, format Format) (*Result, error) {
	t, err := readTable(r, format)
	if err != nil {
		return nil, err
	}
	def := v.Definition()
	columns := make(map[string]int, len(t.header))
	for i, h := range t.header {
		if _, dup := columns[h]; !dup {
			columns[h] = i
		}
	}

	results := make([]rowResult, len(t.rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, cells := range t.rows {
		g.Go(func() error {
			doc, errs := convertRow(def, columns, cells)
			if len(errs) > 0 {
				results[i] = rowResult{errs: errs}
				return nil
			}
			out, verrs, err := v.ValidateAll(gctx, doc)
			if err != nil {
				return fmt.Errorf("validating row %d: %w", i+1, err)
			}
			results[i] = rowResult{doc: out, errs: verrs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	checkBatchUniqueness(def, results)

	res := &Result{IDs: []string{}, Failed: []RowError{}}
	var valid []store.Document
	for i, rr := range results {
		if len(rr.errs) == 0 {
			valid = append(valid, rr.doc)
			continue
		}
		re := RowError{Row: i + 1, Data: rowData(t.header, t.rows[i]), Errors: make([]string, len(rr.errs))}
		for j, e := range rr.errs {
			re.Errors[j] = e.Error()
		}
		res.Failed = append(res.Failed, re)
	}

	if len(valid) > 0 {
		ids, err := im.store.InsertMany(ctx, collection, valid)
		if err != nil {
			return nil, fmt.Errorf("inserting %d rows into %s: %w", len(valid), collection, err)
		}
		res.IDs = ids
		res.Inserted = len(ids)
	}

	switch {
	case res.Inserted > 0 && len(res.Failed) == 0:
		res.Message = "All rows imported"
	case res.Inserted > 0:
		res.Message = "Some rows imported"
	default:
		res.Message = "No rows imported"
	}
	im.log.WithFields(logrus.Fields{
		"collection": collection,
		"inserted":   res.Inserted,
		"failed":     len(res.Failed),
	}).Info("import finished")
	return res, nil
}

// convertRow builds a document from the cells of one row, converting each
// cell to its field's kind. Columns not in the schema are ignored.
func convertRow(def *schema.Definition, columns map[string]int, cells []string) (store.Document, []error) {
	doc := make(store.Document, len(def.Fields))
	var errs []error
	for _, f := range def.Fields {
		idx, ok := columns[f.Name]
		if !ok {
			errs = append(errs, &schema.FieldError{Field: f.Name, Err: ErrMissingColumn})
			continue
		}
		var cell string
		if idx < len(cells) {
			cell = cells[idx]
		}
		if f.Kind != schema.KindString && cell == "" {
			errs = append(errs, &schema.FieldError{Field: f.Name, Err: schema.ErrMissingField})
			continue
		}
		v, err := filter.Convert(f.Kind, cell)
		if err != nil {
			errs = append(errs, &schema.FieldError{Field: f.Name, Err: err})
			continue
		}
		doc[f.Name] = v
	}
	return doc, errs
}

// checkBatchUniqueness flags rows that repeat a unique value already taken
// by an earlier valid row of the same batch.
func checkBatchUniqueness(def *schema.Definition, results []rowResult) {
	unique := def.UniqueFields()
	if len(unique) == 0 {
		return
	}
	seen := make(map[string]map[string]bool, len(unique))
	for _, name := range unique {
		seen[name] = make(map[string]bool)
	}
	for i := range results {
		rr := &results[i]
		if len(rr.errs) > 0 {
			continue
		}
		var errs []error
		for _, name := range unique {
			key, err := json.Marshal(rr.doc[name])
			if err != nil {
				continue
			}
			if seen[name][string(key)] {
				errs = append(errs, &schema.FieldError{Field: name, Err: schema.ErrUniquenessViolation})
			}
		}
		if len(errs) > 0 {
			rr.errs = errs
			rr.doc = nil
			continue
		}
		for _, name := range unique {
			key, _ := json.Marshal(rr.doc[name])
			seen[name][string(key)] = true
		}
	}
}

func rowData(header, cells []string) map[string]string {
	data := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(cells) {
			data[h] = cells[i]
		} else {
			data[h] = ""
		}
	}
	return data
}
