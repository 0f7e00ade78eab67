package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"convo/pkg/auth"
	"convo/pkg/logger"
	"convo/pkg/utils"
)

type setTypingReq struct {
	Typing bool `json:"typing"`
}

// setTyping records or clears the requester's typing indicator. The
// indicator expires on its own; clients only need to send explicit
// stops when the user abandons the draft.
func (h *handlers) setTyping(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	var req setTypingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	self, ok := participantOf(conv, userID)
	if !ok {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return
	}
	h.core.Typing.Set(conv.ID, userID, self.DisplayName, req.Typing)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getTyping(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	names := h.core.Typing.ActiveTypers(conv.ID, userID)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"typing": names})
}

type setPresenceReq struct {
	Online bool `json:"online"`
}

func (h *handlers) setPresence(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req setPresenceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.core.Presence.SetOnline(userID, req.Online)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getPresence(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["userID"]
	state := h.core.Presence.Get(target)
	_ = utils.JSONWrite(w, http.StatusOK, state)
}

// streamNotifications drains the dispatcher subscription as
// server-sent events until the client disconnects. Events are advisory
// and may be dropped for slow consumers; the unread counters in the
// store remain authoritative.
func (h *handlers) streamNotifications(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id, ch := h.core.Dispatcher.Subscribe()
	defer h.core.Dispatcher.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Debug("notification_stream_open", "user", userID, "subscriber", id)
	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if n.Recipient != userID {
				continue
			}
			body, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
			flusher.Flush()
		}
	}
}
