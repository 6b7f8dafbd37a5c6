package dataimport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformer_FanOutAndMissingColumns(t *testing.T) {
	calls := 0
	grid := Lookup(func(_ context.Context, key string) (int64, error) {
		calls++
		if key == "GRID1" {
			return 7, nil
		}
		return 0, nil
	}, func(s string) string { return Upper(context.Background(), s, "").(string) })

	tr := NewTransformer(map[string][]FieldMapping{
		"GrilleEval": {{To: "evalgridid", Convert: grid}, {To: "evalgrididnumber", Convert: Upper}},
		"Nom":        {{To: "title", Convert: Trim}},
	})

	ctx := context.Background()
	rec := tr.Transform(ctx, Row{Line: 2, Values: map[string]string{"GrilleEval": "grid1", "Ignored": "x"}})
	assert.Equal(t, int64(7), rec.Values["evalgridid"])
	assert.Equal(t, "GRID1", rec.Values["evalgrididnumber"])
	assert.Equal(t, "", rec.Values["title"])
	assert.NotContains(t, rec.Values, "Ignored")

	tr.Transform(ctx, Row{Line: 3, Values: map[string]string{"GrilleEval": "Grid1"}})
	rec = tr.Transform(ctx, Row{Line: 4, Values: map[string]string{"GrilleEval": "nope"}})
	assert.Equal(t, int64(0), rec.Values["evalgridid"], "misses yield 0")
	assert.Equal(t, 2, calls, "repeated keys are memoized")

	assert.Equal(t, []string{"GrilleEval"}, tr.SourcesOf("evalgridid"))
}

func TestConverters(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, int64(12), ToInt(ctx, " 12 ", ""))
	assert.Equal(t, "1.5", ToInt(ctx, "1.5", ""))
	assert.Equal(t, []string{"a@x.fr", "b@x.fr"}, SplitList(ctx, " a@x.fr, ,b@x.fr ", ""))

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	ts := ToTimestamp(paris)(ctx, "04/03/2024", "")
	require.IsType(t, time.Time{}, ts)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, paris), ts)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, paris), ToTimestamp(paris)(ctx, "2024-03-04", ""))
	assert.Equal(t, "31/31/2024", ToTimestamp(paris)(ctx, "31/31/2024", ""))
}

func TestValidator_ValidateRow(t *testing.T) {
	defs := Definitions{
		{Name: "idnumber", Type: TypeIDNumber, Required: true},
		{Name: "count", Type: TypeInt},
		{Name: "assessors", Type: TypeEmailList},
		{Name: "gridid", Type: TypeForeignKey},
		{Name: "start", Type: TypeTimestamp, Required: true},
	}
	rec := Record{
		Line: 5,
		Values: map[string]any{
			"idnumber":  "",
			"count":     "abc",
			"assessors": []string{"ok@example.com", "broken"},
			"gridid":    int64(0),
			"start":     "",
		},
		Raw: map[string]string{
			"idnumber":  "",
			"count":     "abc",
			"assessors": "ok@example.com,broken",
			"gridid":    "MISSING",
			"start":     "",
		},
	}
	got := NewValidator().ValidateRow(rec, defs)
	assert.Equal(t, []Violation{
		{Line: 5, Code: CodeRequired, Field: "idnumber"},
		{Line: 5, Code: CodeInvalidValue, Field: "count", Info: "abc"},
		{Line: 5, Code: CodeInvalidValue, Field: "assessors", Info: "ok@example.com,broken"},
		{Line: 5, Code: CodeReferenceNotFound, Field: "gridid", Info: "MISSING"},
		{Line: 5, Code: CodeRequired, Field: "start"},
	}, got)
}
