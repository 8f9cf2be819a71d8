package importer_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stevemurr/masterlist/importer"
	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

var fixed = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setup(t *testing.T) (*importer.Importer, *schema.Validator, *store.MemoryStore) {
	t.Helper()
	def := &schema.Definition{
		Name: "contacts",
		Fields: []schema.Field{
			{Name: "email", Kind: schema.KindString, Unique: true},
			{Name: "status", Kind: schema.KindString, AllowedValues: []string{"active", "inactive"}},
			{Name: "age", Kind: schema.KindInt},
			{Name: "tags", Kind: schema.KindList},
			{Name: "reach", Kind: schema.KindDict, NestedKeys: map[string]schema.Kind{"email": "", "phone": ""}},
		},
	}
	require.NoError(t, def.Normalize())
	s := store.NewMemoryStore()
	require.NoError(t, s.EnsureUniqueIndex(context.Background(), "contacts", "email"))
	v := schema.NewValidator(def, "contacts", s).WithClock(func() time.Time { return fixed })
	return importer.New(s, 4, quietLogger()), v, s
}

func csvFile(t *testing.T, header []string, rows [][]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
	return &buf
}

var header = []string{"email", "status", "age", "tags", "reach"}

func row(i int) []string {
	return []string{fmt.Sprintf("user%d@example.com", i), "active", fmt.Sprint(20 + i), "a,b", fmt.Sprintf("{'phone': '555-%04d'}", i)}
}

func TestImportPartial(t *testing.T) {
	ctx := context.Background()
	im, v, s := setup(t)

	_, err := s.InsertOne(ctx, "contacts", store.Document{"email": "taken@example.com"})
	require.NoError(t, err)

	var rows [][]string
	for i := 1; i <= 10; i++ {
		rows = append(rows, row(i))
	}
	rows[2][0] = "taken@example.com"
	rows[6][1] = "deleted"

	res, err := im.Import(ctx, v, "contacts", csvFile(t, header, rows), importer.CSV)
	require.NoError(t, err)
	assert.Equal(t, "Some rows imported", res.Message)
	assert.Equal(t, 8, res.Inserted)
	assert.Len(t, res.IDs, 8)
	require.Len(t, res.Failed, 2)

	assert.Equal(t, 3, res.Failed[0].Row)
	assert.Equal(t, "taken@example.com", res.Failed[0].Data["email"])
	require.Len(t, res.Failed[0].Errors, 1)
	assert.Contains(t, res.Failed[0].Errors[0], "email")

	assert.Equal(t, 7, res.Failed[1].Row)
	require.Len(t, res.Failed[1].Errors, 1)
	assert.Contains(t, res.Failed[1].Errors[0], "status")

	n, err := s.Count(ctx, "contacts", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	doc, err := s.FindOne(ctx, "contacts", store.Filter{"email": "user1@example.com"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, float64(21), doc["age"])
	assert.Equal(t, []any{"a", "b"}, doc["tags"])
	assert.Equal(t, map[string]any{"phone": "555-0001"}, doc["reach"])
	assert.Equal(t, "2024-03-15T09:30:00Z", doc[schema.CreatedAtKey])
}

func TestImportAllAndNone(t *testing.T) {
	ctx := context.Background()
	im, v, _ := setup(t)

	res, err := im.Import(ctx, v, "contacts", csvFile(t, header, [][]string{row(1), row(2)}), importer.CSV)
	require.NoError(t, err)
	assert.Equal(t, "All rows imported", res.Message)
	assert.Empty(t, res.Failed)

	// Same rows again all collide with the stored ones.
	res, err = im.Import(ctx, v, "contacts", csvFile(t, header, [][]string{row(1), row(2)}), importer.CSV)
	require.NoError(t, err)
	assert.Equal(t, "No rows imported", res.Message)
	assert.Equal(t, 0, res.Inserted)
	assert.Len(t, res.Failed, 2)
}

func TestImportDuplicateWithinBatch(t *testing.T) {
	im, v, _ := setup(t)
	res, err := im.Import(context.Background(), v, "contacts", csvFile(t, header, [][]string{row(1), row(2), row(1)}), importer.CSV)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
	assert.Equal(t, "email: must be unique", res.Failed[0].Errors[0])
}

func TestImportRowErrors(t *testing.T) {
	im, v, _ := setup(t)
	bad := row(1)
	bad[2] = "old"
	bad[4] = "{not json"
	res, err := im.Import(context.Background(), v, "contacts", csvFile(t, header, [][]string{bad}), importer.CSV)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	errs := res.Failed[0].Errors
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0], "age:"), errs[0])
	assert.True(t, strings.HasPrefix(errs[1], "reach:"), errs[1])
}

func TestImportMissingColumn(t *testing.T) {
	im, v, _ := setup(t)
	res, err := im.Import(context.Background(), v, "contacts",
		csvFile(t, []string{"email", "status", "age", "tags"}, [][]string{row(1)[:4]}), importer.CSV)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, []string{"reach: missing column"}, res.Failed[0].Errors)
}

func TestImportEmptyFile(t *testing.T) {
	im, v, _ := setup(t)
	_, err := im.Import(context.Background(), v, "contacts", strings.NewReader(""), importer.CSV)
	assert.ErrorIs(t, err, importer.ErrNoHeader)
}

func TestImportXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	head := []any{"email", "status", "age", "tags", "reach"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &head))
	for i := 1; i <= 3; i++ {
		r := []any{fmt.Sprintf("x%d@example.com", i), "inactive", 30 + i, "a", `{"email": "e"}`}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	im, v, s := setup(t)
	res, err := im.Import(context.Background(), v, "contacts", &buf, importer.XLSX)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	doc, err := s.FindOne(context.Background(), "contacts", store.Filter{"email": "x2@example.com"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, float64(32), doc["age"])
}

func TestFormatOf(t *testing.T) {
	f, err := importer.FormatOf("people.CSV")
	require.NoError(t, err)
	assert.Equal(t, importer.CSV, f)

	f, err = importer.FormatOf("people.xlsx")
	require.NoError(t, err)
	assert.Equal(t, importer.XLSX, f)

	_, err = importer.FormatOf("people.xls")
	assert.ErrorIs(t, err, importer.ErrUnsupportedFormat)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	im, v, _ := setup(t)
	_, err := im.Import(ctx, v, "contacts", csvFile(t, header, [][]string{row(1), row(2)}), importer.CSV)
	require.NoError(t, err)

	win, err := importer.ParseWindow("2024-03-15", "")
	require.NoError(t, err)
	var buf bytes.Buffer
	n, err := im.Export(ctx, v.Definition(), "contacts", win, importer.CSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"_id", "email", "status", "age", "tags", "reach", "createdAt", "modifiedAt"}, records[0])
	assert.Equal(t, "user1@example.com", records[1][1])
	assert.Equal(t, "21", records[1][3])
	assert.Equal(t, `["a","b"]`, records[1][4])
	assert.Equal(t, "2024-03-15T09:30:00Z", records[1][7])

	win, err = importer.ParseWindow("2024-03-16", "")
	require.NoError(t, err)
	_, err = im.Export(ctx, v.Definition(), "contacts", win, importer.CSV, io.Discard)
	assert.ErrorIs(t, err, schema.ErrRecordNotFound)

	win, err = importer.ParseWindow("", "2024-03-15T09:00:00Z")
	require.NoError(t, err)
	buf.Reset()
	n, err = im.Export(ctx, v.Definition(), "contacts", win, importer.XLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("contacts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "user2@example.com", rows[2][1])
}

func TestParseWindow(t *testing.T) {
	_, err := importer.ParseWindow("15/03/2024", "")
	assert.ErrorIs(t, err, schema.ErrFilterSyntax)
	_, err = importer.ParseWindow("2024-03-15", "2024-03-15T00:00:00Z")
	assert.ErrorIs(t, err, schema.ErrFilterSyntax)

	win, err := importer.ParseWindow("2024-03-15", "")
	require.NoError(t, err)
	assert.True(t, win.Contains(time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)))
	assert.False(t, win.Contains(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)))

	all, err := importer.ParseWindow("", "")
	require.NoError(t, err)
	assert.True(t, all.Contains(time.Now()))
}
