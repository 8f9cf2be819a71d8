package filter_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/masterlist/filter"
	"github.com/stevemurr/masterlist/schema"
)

// rawQuery collects terms into a field to string map, last value wins.
func rawQuery(terms []filter.Term) map[string]any {
	q := make(map[string]any, len(terms))
	for _, t := range terms {
		q[t.Field] = t.Value
	}
	return q
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want map[string]any
	}{
		{"comma joined", "status:active,age:30", map[string]any{"status": "active", "age": "30"}},
		{"ampersand joined", "status:active&age:30", map[string]any{"status": "active", "age": "30"}},
		{"spaces trimmed", " status : active , age:30 ", map[string]any{"status": "active", "age": "30"}},
		{"value with colon", "time:10:30", map[string]any{"time": "10:30"}},
		{"empty value", "note:", map[string]any{"note": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms, err := filter.Parse(tt.expr)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, rawQuery(terms)); diff != "" {
				t.Fatalf("query mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{"status", "", "   ", "status:active,age", ":x", ",,"} {
		_, err := filter.Parse(expr)
		assert.True(t, errors.Is(err, schema.ErrFilterSyntax), "expr %q: got %v", expr, err)
	}
}

func testDef() *schema.Definition {
	return &schema.Definition{
		Name: "people",
		Fields: []schema.Field{
			{Name: "status", Kind: schema.KindString},
			{Name: "age", Kind: schema.KindInt},
			{Name: "score", Kind: schema.KindFloat},
			{Name: "active", Kind: schema.KindBool},
			{Name: "tags", Kind: schema.KindList},
			{Name: "contact", Kind: schema.KindDict},
		},
	}
}

func TestBuild(t *testing.T) {
	terms, err := filter.Parse("status:active,age:30,score:1.5,active:true")
	require.NoError(t, err)
	q, err := filter.Build(testDef(), terms)
	require.NoError(t, err)
	want := map[string]any{"status": "active", "age": int64(30), "score": 1.5, "active": true}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsUnknownField(t *testing.T) {
	terms, err := filter.Parse("nickname:bob")
	require.NoError(t, err)
	_, err = filter.Build(testDef(), terms)
	assert.ErrorIs(t, err, schema.ErrFilterSyntax)
}

func TestBuildTypeMismatch(t *testing.T) {
	terms, err := filter.Parse("age:thirty")
	require.NoError(t, err)
	_, err = filter.Build(testDef(), terms)
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)
	fe, ok := schema.AsFieldError(err)
	require.True(t, ok)
	assert.Equal(t, "age", fe.Field)
}

func TestConvert(t *testing.T) {
	v, err := filter.Convert(schema.KindInt, "30.0")
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)

	_, err = filter.Convert(schema.KindInt, "30.5")
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)

	v, err = filter.Convert(schema.KindList, "A, B")
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, v)

	v, err = filter.Convert(schema.KindList, `["A","B"]`)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, v)

	v, err = filter.Convert(schema.KindDict, "{'email': 'a@b.c'}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "a@b.c"}, v)

	_, err = filter.Convert(schema.KindDict, "{not json")
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)
}
