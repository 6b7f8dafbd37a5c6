package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/cveteval/modules/evaluation/migration"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/composables"
)

type WizardController struct {
	app      application.Application
	wizard   *migration.Wizard
	basePath string
}

func NewWizardController(app application.Application, wizard *migration.Wizard) application.Controller {
	return &WizardController{
		app:      app,
		wizard:   wizard,
		basePath: "/api/wizard",
	}
}

func (c *WizardController) Key() string {
	return c.basePath
}

func (c *WizardController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.Start).Methods(http.MethodPost)
	router.HandleFunc("/steps", c.Steps).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/{id}/next", c.Next).Methods(http.MethodPost)
	router.HandleFunc("/{id}", c.Cancel).Methods(http.MethodDelete)
}

func (c *WizardController) Start(w http.ResponseWriter, r *http.Request) {
	userID, err := composables.UseUserID(r.Context())
	if err != nil {
		writeJSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	st, err := c.wizard.Start(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (c *WizardController) Steps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, migration.Steps())
}

// owned loads the session and hides sessions started by someone else.
func (c *WizardController) owned(r *http.Request) (migration.State, error) {
	st, err := c.wizard.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return st, err
	}
	if userID, uerr := composables.UseUserID(r.Context()); uerr != nil || userID != st.UserID {
		return migration.State{}, services.NewServiceError(services.CodeWizardNotFound, "wizard session not found", nil)
	}
	return st, nil
}

func (c *WizardController) Get(w http.ResponseWriter, r *http.Request) {
	st, err := c.owned(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *WizardController) Next(w http.ResponseWriter, r *http.Request) {
	st, err := c.owned(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in migration.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	st, err = c.wizard.Advance(r.Context(), st.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *WizardController) Cancel(w http.ResponseWriter, r *http.Request) {
	st, err := c.owned(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.wizard.Cancel(r.Context(), st.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
