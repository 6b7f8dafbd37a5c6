package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"

	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/httpapi"
)

var serviceStatus = map[string]int{
	services.CodeHistoryNotFound:   http.StatusNotFound,
	services.CodeWizardNotFound:    http.StatusNotFound,
	services.CodeHistoryExists:     http.StatusConflict,
	services.CodeEntityInUse:       http.StatusConflict,
	services.CodeWizardInvalidStep: http.StatusConflict,
	services.CodeUnknownEntity:     http.StatusBadRequest,
	services.CodeInvalidInput:      http.StatusBadRequest,
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	_ = httpapi.WriteJSON(w, status, payload)
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteError(w, r, status, code, message)
}

// writeError maps domain errors to a status; anything unknown is logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *services.ServiceError
	switch {
	case errors.As(err, &serr):
		status, ok := serviceStatus[serr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		writeJSONError(w, r, status, serr.Code, serr.Error())
	case errors.Is(err, importers.ErrUnknownKind):
		writeJSONError(w, r, http.StatusNotFound, "UNKNOWN_KIND", err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		writeJSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, persistence.ErrUnknownTable):
		writeJSONError(w, r, http.StatusBadRequest, services.CodeUnknownEntity, err.Error())
	case dataimport.IsViolation(err):
		_ = httpapi.WriteViolations(w, r, err.Error(), dataimport.ViolationsOf(err))
	default:
		composables.UseLogger(r.Context()).WithError(err).Error("request failed")
		writeJSONError(w, r, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id < 0 {
		return 0, services.NewServiceError(services.CodeInvalidInput, "invalid "+name, err)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return services.NewServiceError(services.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}
