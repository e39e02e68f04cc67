package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"converse/pkg/engine"
	"converse/pkg/models"
	"converse/pkg/query"
	"converse/pkg/utils"
)

type createConversationRequest struct {
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
	Title        string   `json:"title"`
	Strict       bool     `json:"strict"`
}

// CreateConversation handles POST /v1/conversations.
func (a *API) CreateConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := a.Engine.CreateConversation(uid, engine.CreateConversationRequest{
		Type:         models.ConversationType(req.Type),
		Participants: req.Participants,
		Title:        req.Title,
		Strict:       req.Strict,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

// ListConversations handles GET /v1/conversations with filter, search
// and page query parameters.
func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := query.Filter(q.Get("filter"))
	if !f.Valid() {
		utils.JSONError(w, http.StatusBadRequest, "unknown filter")
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	per, _ := strconv.Atoi(q.Get("per_page"))
	views, total, err := query.ListConversations(a.Engine, uid, query.Params{
		Filter:  f,
		Search:  q.Get("search"),
		Page:    page,
		PerPage: per,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []query.ConversationView `json:"conversations"`
		Total         int                      `json:"total"`
	}{Conversations: views, Total: total})
}

// GetConversation handles GET /v1/conversations/{id}.
func (a *API) GetConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	c, err := a.Engine.GetConversation(uid, mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// UpdateConversationFlags handles PATCH /v1/conversations/{id}/flags.
func (a *API) UpdateConversationFlags(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	var flags models.ConversationFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := a.Engine.UpdateFlags(uid, mux.Vars(r)["id"], flags)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// MarkConversationRead handles POST /v1/conversations/{id}/read,
// recording read receipts for every unread non-self message.
func (a *API) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	marked, err := a.Engine.MarkAllRead(uid, mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"marked": marked})
}

// Unread handles GET /v1/unread.
func (a *API) Unread(w http.ResponseWriter, r *http.Request) {
	uid, ok := actor(w, r)
	if !ok {
		return
	}
	counts, total, err := a.Engine.UnreadCounts(uid)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations map[string]uint64 `json:"conversations"`
		Total         uint64            `json:"total"`
	}{Conversations: counts, Total: total})
}
