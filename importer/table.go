package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is a tabular file format.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("only csv or xlsx files are allowed")
	ErrNoHeader          = errors.New("file has no header row")
	ErrUnreadableFile    = errors.New("unreadable file")
)

// FormatOf picks the format from a file name's extension.
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return CSV, nil
	case ".xlsx":
		return XLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// ParseFormat parses a format name. The empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "xlsx":
		return XLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// table is a header plus data rows. Rows may be shorter than the header.
type table struct {
	header []string
	rows   [][]string
}

func readTable(r io.Reader, format Format) (*table, error) {
	var records [][]string
	switch format {
	case CSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		all, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", ErrUnreadableFile, err)
		}
		records = all
	case XLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: xlsx: %v", ErrUnreadableFile, err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoHeader
		}
		all, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("%w: xlsx sheet %s: %v", ErrUnreadableFile, sheets[0], err)
		}
		records = all
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if len(records) == 0 {
		return nil, ErrNoHeader
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	t := &table{header: header}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// writeTable writes header and rows in the given format. Cells are written
// as-is to xlsx so numbers and booleans keep their type.
func writeTable(w io.Writer, format Format, sheet string, header []string, rows [][]any) error {
	switch format {
	case CSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, row := range rows {
			rec := make([]string, len(row))
			for i, v := range row {
				rec[i] = cellText(v)
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case XLSX:
		f := excelize.NewFile()
		defer f.Close()
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("naming sheet: %w", err)
		}
		head := make([]any, len(header))
		for i, h := range header {
			head[i] = h
		}
		if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			row := row
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("writing row %d: %w", i+1, err)
			}
		}
		return f.Write(w)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// sheetName trims name to the 31 characters a worksheet name allows.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}
