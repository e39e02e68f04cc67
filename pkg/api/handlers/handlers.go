// Package handlers implements the JSON endpoints over the engine and
// query layers. Every handler resolves the acting user from the signed
// identity context, delegates to the engine, and maps domain errors to
// HTTP statuses.
package handlers

import (
	"errors"
	"net/http"

	"converse/pkg/auth"
	"converse/pkg/engine"
	"converse/pkg/models"
	"converse/pkg/utils"
)

// API bundles the handler dependencies.
type API struct {
	Engine *engine.Engine
}

// New returns the handler set bound to eng.
func New(eng *engine.Engine) *API {
	return &API{Engine: eng}
}

// writeDomainErr maps the engine error taxonomy onto HTTP statuses.
func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrForbidden):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrInvalidParticipants),
		errors.Is(err, models.ErrInvalidReference),
		errors.Is(err, models.ErrSendFailed):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDuplicateDirectConversation):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrDeliveryUnavailable):
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// actor extracts the verified user id, writing a 401 when absent.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := auth.UserIDFromContext(r.Context())
	if uid == "" {
		utils.JSONError(w, http.StatusUnauthorized, "user identity required")
		return "", false
	}
	return uid, true
}
