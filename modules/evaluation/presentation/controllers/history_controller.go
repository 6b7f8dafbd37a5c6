package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/cveteval/modules/evaluation/export"
	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/application"
)

type HistoryController struct {
	app       application.Application
	histories *services.HistoryService
	guard     *services.Guard
	exporter  *export.Exporter
	basePath  string
}

type createHistoryDTO struct {
	IDNumber string `json:"idnumber"`
	Comments string `json:"comments"`
}

type cleanupDTO struct {
	Tables []string `json:"tables"`
}

type activeDTO struct {
	Active bool `json:"active"`
}

func NewHistoryController(
	app application.Application,
	histories *services.HistoryService,
	guard *services.Guard,
	exporter *export.Exporter,
) application.Controller {
	return &HistoryController{
		app:       app,
		histories: histories,
		guard:     guard,
		exporter:  exporter,
		basePath:  "/api/histories",
	}
}

func (c *HistoryController) Key() string {
	return c.basePath
}

func (c *HistoryController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", c.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/{id:[0-9]+}/active", c.SetActive).Methods(http.MethodPut)
	router.HandleFunc("/{id:[0-9]+}/cleanup", c.Cleanup).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/export", c.Export).Methods(http.MethodGet)

	r.HandleFunc("/api/guard/{table}/{id:[0-9]+}", c.Guard).Methods(http.MethodGet)
}

func (c *HistoryController) List(w http.ResponseWriter, r *http.Request) {
	list, err := c.histories.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (c *HistoryController) Create(w http.ResponseWriter, r *http.Request) {
	var dto createHistoryDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, r, err)
		return
	}
	h, err := c.histories.Create(r.Context(), dto.IDNumber, dto.Comments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (c *HistoryController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h, err := c.histories.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (c *HistoryController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.histories.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *HistoryController) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var dto activeDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.histories.SetActive(r.Context(), id, dto.Active); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *HistoryController) Cleanup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var dto cleanupDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := c.histories.Cleanup(r.Context(), id, dto.Tables...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// Export streams the history as one workbook, or as a single CSV when kind is given.
func (c *HistoryController) Export(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := c.histories.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}

	var kinds []importers.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := importers.ParseKind(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kinds = append(kinds, kind)
	}

	switch format {
	case "csv":
		if len(kinds) != 1 {
			writeJSONError(w, r, http.StatusBadRequest, services.CodeInvalidInput, "csv export needs exactly one kind")
			return
		}
		tables, err := c.exporter.Export(r.Context(), id, kinds...)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, tables[0], importers.DefaultDelimiter(kinds[0])); err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(kinds[0])+".csv"))
		_, _ = w.Write(buf.Bytes())
	case "xlsx":
		tables, err := c.exporter.Export(r.Context(), id, kinds...)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, tables); err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"history-%d.xlsx\"", id))
		_, _ = w.Write(buf.Bytes())
	default:
		writeJSONError(w, r, http.StatusBadRequest, services.CodeInvalidInput, "format must be csv or xlsx")
	}
}

func (c *HistoryController) Guard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	table := mux.Vars(r)["table"]
	canDelete, err := c.guard.CanDelete(r.Context(), table, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"can_delete": canDelete,
		"can_edit":   canDelete,
	})
}
