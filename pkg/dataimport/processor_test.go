package dataimport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/history"
)

// fakeImporter stores rows in a slice; the fake transactor restores it on failure.
type fakeImporter struct {
	bus       eventbus.EventBus
	written   []string
	failOn    string
	scopes    []history.Scope
	cleanedUp int64
}

func (f *fakeImporter) Kind() string { return "fake" }

func (f *fakeImporter) Prepare(context.Context, []string) (Plan, error) {
	return Plan{
		Definitions: Definitions{
			{Name: "idnumber", Type: TypeIDNumber, Required: true},
			{Name: "expectedevalsnb", Type: TypeInt},
			{Name: "email", Type: TypeEmail, Required: true},
		},
		Transformer: NewTransformer(map[string][]FieldMapping{
			"Nom court":     {{To: "idnumber", Convert: Upper}},
			"Appreciations": {{To: "expectedevalsnb", Convert: ToInt}},
			"Email":         {{To: "email", Convert: Trim}},
		}),
	}, nil
}

func (f *fakeImporter) ImportRow(ctx context.Context, rec Record) (Outcome, error) {
	f.scopes = append(f.scopes, history.FromContext(ctx))
	if strings.HasPrefix(rec.String("email"), "skip") {
		return OutcomeSkipped, nil
	}
	if rec.String("idnumber") == f.failOn {
		return OutcomeImported, NewImportError(0, "fake:rejected", "idnumber", f.failOn)
	}
	f.written = append(f.written, rec.String("idnumber"))
	if f.bus != nil {
		f.bus.Publish(ctx, rowWritten{IDNumber: rec.String("idnumber")})
	}
	return OutcomeImported, nil
}

type rowWritten struct{ IDNumber string }

func (rowWritten) EventName() string { return "fake.rowwritten" }

// rowCount reads cveteval_import_rows_total for the fake importer.
func rowCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "cveteval_import_rows_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["kind"] == "fake" && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func (f *fakeImporter) Cleanup(_ context.Context, historyID int64) error {
	f.cleanedUp = historyID
	f.written = nil
	return nil
}

func (f *fakeImporter) tx() Transactor {
	return TransactorFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		saved := append([]string(nil), f.written...)
		if err := fn(ctx); err != nil {
			f.written = saved
			return err
		}
		return nil
	})
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&strings.Builder{})
	return l
}

func TestProcessor_Validate_CollectsAllViolations(t *testing.T) {
	imp := &fakeImporter{}
	p := NewProcessor(NewCSVSource("testdata/rows.csv", ',', ""), imp, WithTransactor(imp.tx()))

	report, err := p.Validate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Rows)
	require.Equal(t, []Violation{
		{Line: 3, Code: CodeInvalidValue, Field: "expectedevalsnb", Info: "x"},
	}, report.Violations)
	require.Empty(t, imp.written, "validate never writes")
	require.Equal(t, [][]string{
		{"line", "code", "field", "info"},
		{"3", CodeInvalidValue, "expectedevalsnb", "x"},
	}, report.Table())
}

func TestProcessor_Validate_MissingColumn(t *testing.T) {
	path := writeCSV(t, "Nom court,Appreciations\nTMG,1\n")
	imp := &fakeImporter{}
	report, err := NewProcessor(NewCSVSource(path, ',', ""), imp).Validate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Violation{{Line: 1, Code: CodeColumnMissing, Field: "Email"}}, report.Violations)
}

func TestProcessor_Import(t *testing.T) {
	t.Run("success counts imported and skipped rows", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\ntmg,2,a@example.com\nTMI,1,skip@example.com\n")
		imp := &fakeImporter{}
		bus := eventbus.NewEventPublisher(quietLogger())
		rec := &eventbus.Recorder{}
		bus.Subscribe(EventImported, rec.Handle)
		manifests := t.TempDir()

		res := NewProcessor(NewCSVSource(path, ',', ""), imp,
			WithHistory(4),
			WithEventBus(bus),
			WithTransactor(imp.tx()),
			WithLogger(quietLogger()),
			WithManifestDir(manifests),
		).Import(context.Background(), ImportOptions{})

		require.True(t, res.OK(), res.Error)
		require.Equal(t, 2, res.Total)
		require.Equal(t, 1, res.Imported)
		require.Equal(t, 1, res.Skipped)
		require.Equal(t, []string{"TMG"}, imp.written)
		require.Equal(t, history.Current(4, false), imp.scopes[0])

		events := rec.Events(EventImported)
		require.Len(t, events, 1)
		require.Equal(t, "input.csv", events[0].(Imported).Filename)
		require.Empty(t, events[0].(Imported).Error)

		saved, err := ReadManifest(filepath.Join(manifests, res.RunID.String()+".json"))
		require.NoError(t, err)
		require.Equal(t, 1, saved.Imported)
	})

	t.Run("a late row failure rolls back the whole file", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\nTMG,2,a@example.com\nTMI,1,b@example.com\nBAD,1,c@example.com\n")
		imp := &fakeImporter{failOn: "BAD"}
		bus := eventbus.NewEventPublisher(quietLogger())
		rec := &eventbus.Recorder{}
		bus.Subscribe(EventImported, rec.Handle)

		res := NewProcessor(NewCSVSource(path, ',', ""), imp,
			WithEventBus(bus), WithTransactor(imp.tx()), WithLogger(quietLogger()),
		).Import(context.Background(), ImportOptions{EchoErrors: true})

		require.False(t, res.OK())
		require.Empty(t, imp.written)
		require.Equal(t, []Violation{{Line: 4, Code: "fake:rejected", Field: "idnumber", Info: "BAD"}}, res.Violations)

		events := rec.Events(EventImported)
		require.Len(t, events, 1)
		require.NotEmpty(t, events[0].(Imported).Error)
	})

	t.Run("a rolled back run reports nothing as done", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\nTMG,2,a@example.com\nTMI,1,skip@example.com\nBAD,1,c@example.com\n")
		bus := eventbus.NewEventPublisher(quietLogger())
		rec := &eventbus.Recorder{}
		bus.Subscribe(eventbus.Wildcard, rec.Handle)
		imp := &fakeImporter{failOn: "BAD", bus: bus}
		importedBefore, failedBefore := rowCount(t, "imported"), rowCount(t, "failed")

		res := NewProcessor(NewCSVSource(path, ',', ""), imp,
			WithEventBus(bus), WithTransactor(imp.tx()), WithLogger(quietLogger()),
		).Import(context.Background(), ImportOptions{})

		require.False(t, res.OK())
		require.Equal(t, 3, res.Total)
		require.Zero(t, res.Imported)
		require.Zero(t, res.Skipped)
		require.Empty(t, rec.Events("fake.rowwritten"), "row events die with the transaction")
		require.Len(t, rec.Events(EventImported), 1)
		require.InDelta(t, 0, rowCount(t, "imported")-importedBefore, 0.0001)
		require.InDelta(t, 1, rowCount(t, "failed")-failedBefore, 0.0001)
	})

	t.Run("row events are delivered after commit", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\nTMG,2,a@example.com\nTMI,1,b@example.com\n")
		bus := eventbus.NewEventPublisher(quietLogger())
		rec := &eventbus.Recorder{}
		bus.Subscribe(eventbus.Wildcard, rec.Handle)
		imp := &fakeImporter{bus: bus}
		importedBefore := rowCount(t, "imported")

		res := NewProcessor(NewCSVSource(path, ',', ""), imp,
			WithEventBus(bus), WithTransactor(imp.tx()), WithLogger(quietLogger()),
		).Import(context.Background(), ImportOptions{})

		require.True(t, res.OK(), res.Error)
		all := rec.Events(eventbus.Wildcard)
		require.Len(t, all, 3)
		require.Equal(t, rowWritten{IDNumber: "TMG"}, all[0])
		require.Equal(t, rowWritten{IDNumber: "TMI"}, all[1])
		require.Equal(t, EventImported, all[2].EventName())
		require.InDelta(t, 2, rowCount(t, "imported")-importedBefore, 0.0001)
	})

	t.Run("validation failure stops the run", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\nTMG,2,not-an-email\n")
		imp := &fakeImporter{}
		res := NewProcessor(NewCSVSource(path, ',', ""), imp, WithLogger(quietLogger())).
			Import(context.Background(), ImportOptions{})
		require.False(t, res.OK())
		var verr *ValidationError
		require.True(t, errors.As(res.Err, &verr))
		require.Equal(t, "email", verr.Violations[0].Field)
	})

	t.Run("cleanup runs before rows", func(t *testing.T) {
		path := writeCSV(t, "Nom court,Appreciations,Email\nTMG,2,a@example.com\n")
		imp := &fakeImporter{written: []string{"OLD"}}
		res := NewProcessor(NewCSVSource(path, ',', ""), imp, WithHistory(9), WithLogger(quietLogger())).
			Import(context.Background(), ImportOptions{Cleanup: true})
		require.True(t, res.OK())
		require.Equal(t, int64(9), imp.cleanedUp)
		require.Equal(t, []string{"TMG"}, imp.written)
	})

	t.Run("wrong encoding is fatal at line 0", func(t *testing.T) {
		imp := &fakeImporter{}
		res := NewProcessor(NewCSVSource("testdata/latin1.csv", ',', ""), imp, WithLogger(quietLogger())).
			Import(context.Background(), ImportOptions{})
		require.False(t, res.OK())
		require.Equal(t, 0, res.Violations[0].Line)
		require.Equal(t, CodeWrongEncoding, res.Violations[0].Code)
		require.Zero(t, res.Total)
	})
}
