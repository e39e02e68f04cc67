package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"converse/pkg/models"
	"converse/pkg/utils"
)

// MarkRead handles POST /v1/messages/{id}/read.
func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	m, err := a.Engine.MarkRead(uid, mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

type deliveredRequest struct {
	Recipient string `json:"recipient"`
}

// MarkDelivered handles POST /v1/messages/{id}/delivered. Only the
// delivery channel (backend or admin keys) may confirm delivery.
func (a *API) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	role := r.Header.Get("X-Role-Name")
	if role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req deliveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Recipient == "" {
		utils.JSONError(w, http.StatusBadRequest, "recipient required")
		return
	}
	if err := a.Engine.MarkDelivered(mux.Vars(r)["id"], req.Recipient); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListReadReceipts handles GET /v1/messages/{id}/receipts.
func (a *API) ListReadReceipts(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	rs, err := a.Engine.ListReadReceipts(uid, id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string               `json:"id"`
		Receipts []models.ReadReceipt `json:"receipts"`
	}{ID: id, Receipts: rs})
}
