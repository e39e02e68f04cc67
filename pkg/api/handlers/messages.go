package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"converse/pkg/engine"
	"converse/pkg/models"
	"converse/pkg/query"
	"converse/pkg/utils"
)

type sendMessageRequest struct {
	Type        string              `json:"type"`
	Content     string              `json:"content"`
	ReplyTo     string              `json:"reply_to"`
	Attachments []models.Attachment `json:"attachments"`
	Mentions    []string            `json:"mentions"`
}

// SendMessage handles POST /v1/conversations/{id}/messages. Clients
// retrying after a network ambiguity pass an Idempotency-Key header to
// dedupe the send.
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	typ := models.MessageType(req.Type)
	if req.Type == "" {
		typ = models.MessageText
	}
	m, err := a.Engine.Append(uid, engine.AppendRequest{
		Conversation:   mux.Vars(r)["id"],
		Type:           typ,
		Content:        req.Content,
		ReplyTo:        req.ReplyTo,
		Attachments:    req.Attachments,
		Mentions:       req.Mentions,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

// ListMessages handles GET /v1/conversations/{id}/messages with
// after/before cursors.
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	msgs, err := a.Engine.ListMessages(uid, mux.Vars(r)["id"], q.Get("after"), q.Get("before"), limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}

// ListMessagesGrouped handles GET /v1/conversations/{id}/messages/grouped.
// The tz parameter names an IANA zone for date bucketing; sender runs
// ride along inside each date group.
func (a *API) ListMessagesGrouped(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "unknown time zone")
			return
		}
		loc = l
	}
	msgs, err := a.Engine.ListMessages(uid, mux.Vars(r)["id"], q.Get("after"), q.Get("before"), limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	type dateGroup struct {
		Date string             `json:"date"`
		Runs [][]models.Message `json:"runs"`
	}
	days := query.GroupByCalendarDate(msgs, loc)
	out := make([]dateGroup, 0, len(days))
	for _, d := range days {
		out = append(out, dateGroup{Date: d.Date, Runs: query.GroupBySenderRun(d.Messages)})
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Days []dateGroup `json:"days"`
	}{Days: out})
}

// SearchMessages handles GET /v1/messages/search. The q parameter is
// required; conversation narrows the scope and limit caps the results.
func (a *API) SearchMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	msgs, err := query.SearchMessages(a.Engine, uid, query.SearchParams{
		Conversation: q.Get("conversation"),
		Term:         q.Get("q"),
		Limit:        limit,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}

// GetMessage handles GET /v1/messages/{id}.
func (a *API) GetMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	m, err := a.Engine.GetMessage(uid, mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PUT /v1/messages/{id}.
func (a *API) EditMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := a.Engine.Edit(uid, mux.Vars(r)["id"], req.Content)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// DeleteMessage handles DELETE /v1/messages/{id} (soft delete).
func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	if err := a.Engine.SoftDelete(uid, mux.Vars(r)["id"]); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pinMessageRequest struct {
	Pinned bool `json:"pinned"`
}

// PinMessage handles POST /v1/messages/{id}/pin.
func (a *API) PinMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var req pinMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := a.Engine.Pin(uid, mux.Vars(r)["id"], req.Pinned)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// ListMessageVersions handles GET /v1/messages/{id}/versions.
func (a *API) ListMessageVersions(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	vs, err := a.Engine.ListVersions(uid, id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string           `json:"id"`
		Versions []models.Message `json:"versions"`
	}{ID: id, Versions: vs})
}
