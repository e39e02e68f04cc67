package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"converse/pkg/models"
	"converse/pkg/utils"
)

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction handles POST /v1/messages/{id}/reactions.
func (a *API) AddReaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	re, err := a.Engine.AddReaction(uid, mux.Vars(r)["id"], req.Emoji)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, re)
}

// RemoveReaction handles DELETE /v1/messages/{id}/reactions/{emoji}.
func (a *API) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := a.Engine.RemoveReaction(uid, vars["id"], vars["emoji"]); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListReactions handles GET /v1/messages/{id}/reactions.
func (a *API) ListReactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	rs, err := a.Engine.ListReactions(uid, id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID        string            `json:"id"`
		Reactions []models.Reaction `json:"reactions"`
	}{ID: id, Reactions: rs})
}
