package evaluation_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/modules/evaluation"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/migration"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/configuration"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/httpapi"
	"github.com/iota-uz/cveteval/pkg/itf"
	"github.com/iota-uz/cveteval/pkg/server"
)

type apiFixture struct {
	t       *testing.T
	env     *itf.TestEnvironment
	handler http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("IMPORT_TIMEZONE", "UTC")
	t.Setenv("IMPORT_DELIMITER", "")
	t.Setenv("WIZARD_STORAGE", "memory")
	conf, err := configuration.Load()
	require.NoError(t, err)

	env := itf.NewTestContext().WithUsers("alice@example.com", "bob@example.com").Build(t)
	app := application.New(&application.ApplicationOptions{
		EventBus: env.Bus,
		Logger:   env.Logger,
	})
	module := evaluation.NewModule(&evaluation.ModuleOptions{
		Config:      conf,
		Store:       env.Store,
		WizardStore: migration.NewMemoryWizardStore(time.Hour),
	})
	require.NoError(t, module.Register(app))
	return &apiFixture{t: t, env: env, handler: server.NewHTTPServer(app).Handler()}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) json(method, path, body, user string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	return f.do(req)
}

func (f *apiFixture) upload(path, file string) *httptest.ResponseRecorder {
	f.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(file))
	require.NoError(f.t, err)
	src, err := os.Open(file)
	require.NoError(f.t, err)
	defer src.Close()
	_, err = io.Copy(part, src)
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_Histories(t *testing.T) {
	f := newAPI(t)

	rec := f.json(http.MethodPost, "/api/histories", `{"idnumber":"2024-S1","comments":"first"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	h := decode[entities.History](t, rec)
	assert.Equal(t, "2024-S1", h.IDNumber)

	rec = f.json(http.MethodPost, "/api/histories", `{"idnumber":"2024-S1"}`, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "HISTORY_EXISTS", decode[httpapi.Error](t, rec).Code)

	rec = f.json(http.MethodGet, "/api/histories", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]entities.History](t, rec)
	require.Condition(t, func() bool {
		for _, item := range list {
			if item.IDNumber == "2024-S1" {
				return true
			}
		}
		return false
	})

	rec = f.json(http.MethodGet, "/api/histories/999", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.json(http.MethodPut, "/api/histories/"+itoa(h.ID)+"/active", `{"active":false}`, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, err := f.env.Histories.Get(f.env.Ctx, h.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	rec = f.json(http.MethodDelete, "/api/histories/"+itoa(h.ID), "", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_ImportAndValidate(t *testing.T) {
	f := newAPI(t)
	h := f.env.NewHistory(t, "H1")

	rec := f.upload("/api/imports/evaluation_grid/validate?history=H1", "importers/testdata/evaluation_grid_invalid.csv")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	report := decode[dataimport.Report](t, rec)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 3, report.Violations[0].Line)

	rec = f.upload("/api/imports/evaluation_grid?history=H1", "importers/testdata/evaluation_grid_badparent.csv")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	failed := decode[dataimport.Result](t, rec)
	require.Len(t, failed.Violations, 1)
	assert.Equal(t, "evaluationgrid:parentnotfound", failed.Violations[0].Code)

	rec = f.upload("/api/imports/evaluation_grid?history=H1", "importers/testdata/evaluation_grid.csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[dataimport.Result](t, rec)
	assert.Equal(t, h.ID, res.HistoryID)
	assert.Equal(t, 5, res.Imported)

	rec = f.upload("/api/imports/unknown", "importers/testdata/evaluation_grid.csv")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_KIND", decode[httpapi.Error](t, rec).Code)

	binary := filepath.Join(t.TempDir(), "grid.csv")
	require.NoError(t, os.WriteFile(binary, []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x00}, 0o644))
	rec = f.upload("/api/imports/evaluation_grid?history=H1", binary)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "INVALID_INPUT", decode[httpapi.Error](t, rec).Code)

	rec = f.upload("/api/imports/situation?history=nope", "importers/testdata/situations.csv")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HISTORY_NOT_FOUND", decode[httpapi.Error](t, rec).Code)
}

func TestAPI_ExportAndGuard(t *testing.T) {
	f := newAPI(t)
	h := f.env.NewHistory(t, "H1")

	rec := f.upload("/api/imports/evaluation_grid?history=H1", "importers/testdata/evaluation_grid.csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.json(http.MethodGet, "/api/histories/"+itoa(h.ID)+"/export?format=csv&kind=evaluation_grid", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "Q001")

	rec = f.json(http.MethodGet, "/api/histories/"+itoa(h.ID)+"/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")

	rec = f.json(http.MethodGet, "/api/histories/"+itoa(h.ID)+"/export?format=csv", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.json(http.MethodGet, "/api/guard/criterion/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]bool{"can_delete": true, "can_edit": true}, decode[map[string]bool](t, rec))

	rec = f.json(http.MethodGet, "/api/guard/nosuchtable/1", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Wizard(t *testing.T) {
	f := newAPI(t)

	rec := f.json(http.MethodPost, "/api/wizard", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.json(http.MethodPost, "/api/wizard", "", "42")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decode[migration.State](t, rec)
	assert.Equal(t, migration.StepChooseHistories, st.Step)

	rec = f.json(http.MethodGet, "/api/wizard/"+st.ID, "", "7")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.json(http.MethodPost, "/api/wizard/"+st.ID+"/next", `{"origin_id":1,"destination_id":1}`, "42")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.json(http.MethodGet, "/api/wizard/steps", "", "42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]migration.Step](t, rec), 5)

	rec = f.json(http.MethodDelete, "/api/wizard/"+st.ID, "", "42")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.json(http.MethodGet, "/api/wizard/"+st.ID, "", "42")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_UnknownRoute(t *testing.T) {
	f := newAPI(t)
	rec := f.json(http.MethodGet, "/api/nothing", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[httpapi.Error](t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
