// Package api assembles the HTTP surface: conversation and message
// routes, ephemeral state (typing, presence), and the notification
// stream. Identity is taken from the request context populated by
// auth.RequireSignedUser.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"convo/pkg/notify"
	"convo/pkg/presence"
	"convo/pkg/reconcile"
	"convo/pkg/registry"
	"convo/pkg/store"
	"convo/pkg/typing"
)

// Core bundles the wired subsystems the handlers operate on.
type Core struct {
	Registry   *registry.Registry
	Store      *store.Store
	Engine     *reconcile.Engine
	Typing     *typing.Coordinator
	Presence   *presence.Tracker
	Dispatcher *notify.Dispatcher
	TailLimit  int
}

type handlers struct {
	core *Core
}

// Handler builds the versioned router over the supplied core.
func Handler(c *Core) http.Handler {
	h := &handlers{core: c}
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/conversations", h.startConversation).Methods("POST")
	v1.HandleFunc("/conversations", h.listConversations).Methods("GET")
	v1.HandleFunc("/conversations/{id}", h.getConversation).Methods("GET")
	v1.HandleFunc("/conversations/{id}/open", h.openConversation).Methods("POST")
	v1.HandleFunc("/conversations/{id}/close", h.closeConversation).Methods("POST")
	v1.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods("POST")
	v1.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods("GET")
	v1.HandleFunc("/conversations/{id}/typing", h.setTyping).Methods("POST")
	v1.HandleFunc("/conversations/{id}/typing", h.getTyping).Methods("GET")
	v1.HandleFunc("/conversations/{id}/archive", h.archiveConversation).Methods("POST")
	v1.HandleFunc("/conversations/{id}/archive", h.unarchiveConversation).Methods("DELETE")
	v1.HandleFunc("/unread", h.unreadTotal).Methods("GET")
	v1.HandleFunc("/presence", h.setPresence).Methods("PUT")
	v1.HandleFunc("/presence/{userID}", h.getPresence).Methods("GET")
	v1.HandleFunc("/notifications/stream", h.streamNotifications).Methods("GET")

	return r
}
