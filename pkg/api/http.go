// Package api assembles the HTTP surface: versioned JSON routes over
// the engine plus the websocket delivery endpoint.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"converse/pkg/api/handlers"
	"converse/pkg/auth"
	"converse/pkg/delivery"
	"converse/pkg/engine"
	"converse/pkg/store"
)

// Router builds the application router. The returned router expects the
// gateway and identity middleware to be layered outside (see
// internal/app).
func Router(eng *engine.Engine, hub *delivery.Hub) *mux.Router {
	a := handlers.New(eng)
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", a.CreateConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", a.ListConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}", a.GetConversation).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/flags", a.UpdateConversationFlags).Methods(http.MethodPatch)
	v1.HandleFunc("/conversations/{id}/read", a.MarkConversationRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", a.SendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", a.ListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages/grouped", a.ListMessagesGrouped).Methods(http.MethodGet)

	// search must register ahead of the {id} routes; mux matches in
	// registration order
	v1.HandleFunc("/messages/search", a.SearchMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", a.GetMessage).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", a.EditMessage).Methods(http.MethodPut)
	v1.HandleFunc("/messages/{id}", a.DeleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/pin", a.PinMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/versions", a.ListMessageVersions).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/receipts", a.ListReadReceipts).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/reactions", a.AddReaction).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/reactions", a.ListReactions).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/reactions/{emoji}", a.RemoveReaction).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/read", a.MarkRead).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/delivered", a.MarkDelivered).Methods(http.MethodPost)

	v1.HandleFunc("/unread", a.Unread).Methods(http.MethodGet)

	if hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			uid := auth.UserIDFromContext(req.Context())
			if uid == "" {
				http.Error(w, `{"error":"user identity required"}`, http.StatusUnauthorized)
				return
			}
			hub.ServeWS(w, req, uid)
		}).Methods(http.MethodGet)
	}

	return r
}
