package controllers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/go-playground/form"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/configuration"
	"github.com/iota-uz/cveteval/pkg/dataimport"
)

// importQuery is decoded from the URL query of both import endpoints.
type importQuery struct {
	History   string `form:"history"`
	Cleanup   bool   `form:"cleanup"`
	Delimiter string `form:"delimiter"`
	Sheet     string `form:"sheet"`
}

var queryDecoder = form.NewDecoder()

func decodeQuery(r *http.Request) (importQuery, error) {
	var q importQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		return q, services.NewServiceError(services.CodeInvalidInput, "invalid query", err)
	}
	return q, nil
}

// sniff refuses uploads whose content does not match their extension.
func sniff(path string) error {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return err
	}
	want := "text/plain"
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		want = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	for m := mime; m != nil; m = m.Parent() {
		if m.Is(want) {
			return nil
		}
	}
	return services.NewServiceError(services.CodeInvalidInput,
		fmt.Sprintf("%s content is %s", filepath.Base(path), mime.String()), nil)
}

type ImportController struct {
	app       application.Application
	store     persistence.Store
	deps      importers.Deps
	histories *services.HistoryService
	conf      *configuration.Configuration
	basePath  string
}

func NewImportController(
	app application.Application,
	store persistence.Store,
	deps importers.Deps,
	histories *services.HistoryService,
	conf *configuration.Configuration,
) application.Controller {
	return &ImportController{
		app:       app,
		store:     store,
		deps:      deps,
		histories: histories,
		conf:      conf,
		basePath:  "/api/imports",
	}
}

func (c *ImportController) Key() string {
	return c.basePath
}

func (c *ImportController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/{kind}/validate", c.Validate).Methods(http.MethodPost)
	router.HandleFunc("/{kind}", c.Import).Methods(http.MethodPost)
}

// upload stores the request file in a temporary file keeping its extension.
func (c *ImportController) upload(w http.ResponseWriter, r *http.Request) (string, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, c.conf.MaxUploadSize)
	if err := r.ParseMultipartForm(c.conf.MaxUploadSize); err != nil {
		return "", nil, services.NewServiceError(services.CodeInvalidInput, "expected a multipart upload", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, services.NewServiceError(services.CodeInvalidInput, "missing file field", err)
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "cveteval-upload-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, filepath.Base(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	_, err = io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "store upload")
	}
	if err := sniff(path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func (c *ImportController) processor(q importQuery, kind importers.Kind, path string, historyID int64) (*dataimport.Processor, error) {
	delimiter := importers.DefaultDelimiter(kind)
	if q.Delimiter != "" {
		delimiter = []rune(q.Delimiter)[0]
	} else if c.conf.Import.Delimiter != "" {
		delimiter = []rune(c.conf.Import.Delimiter)[0]
	}
	src, err := dataimport.OpenSource(path, dataimport.SourceOptions{
		Delimiter: delimiter,
		Encoding:  c.conf.Import.Encoding,
		Sheet:     q.Sheet,
	})
	if err != nil {
		return nil, services.NewServiceError(services.CodeInvalidInput, "unsupported file", err)
	}
	imp, err := importers.New(kind, c.deps)
	if err != nil {
		return nil, err
	}
	return dataimport.NewProcessor(src, imp,
		dataimport.WithHistory(historyID),
		dataimport.WithTransactor(c.store),
		dataimport.WithEventBus(c.app.EventPublisher()),
		dataimport.WithLogger(c.app.Logger()),
		dataimport.WithManifestDir(c.conf.Import.ManifestsDir),
	), nil
}

func (c *ImportController) historyID(r *http.Request, raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if _, err := c.histories.Get(r.Context(), id); err != nil {
			return 0, err
		}
		return id, nil
	}
	h, err := c.histories.GetByIDNumber(r.Context(), raw)
	return h.ID, err
}

func (c *ImportController) Validate(w http.ResponseWriter, r *http.Request) {
	kind, err := importers.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := decodeQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	historyID, err := c.historyID(r, q.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, cleanup, err := c.upload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cleanup()

	p, err := c.processor(q, kind, path, historyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := p.Validate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (c *ImportController) Import(w http.ResponseWriter, r *http.Request) {
	kind, err := importers.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := decodeQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	historyID, err := c.historyID(r, q.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, cleanup, err := c.upload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cleanup()

	p, err := c.processor(q, kind, path, historyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := p.Import(r.Context(), dataimport.ImportOptions{Cleanup: q.Cleanup, EchoErrors: true})
	if !res.OK() {
		c.app.Logger().WithFields(logrus.Fields{"kind": kind, "run_id": res.RunID}).Warn("import rejected")
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
