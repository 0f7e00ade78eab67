package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"convo/pkg/auth"
	"convo/pkg/logger"
	"convo/pkg/models"
	"convo/pkg/store"
	"convo/pkg/utils"
	"convo/pkg/validation"
)

type startConversationReq struct {
	Peer       models.Participant `json:"peer"`
	SelfName   string             `json:"self_name"`
	SelfAvatar string             `json:"self_avatar,omitempty"`
	SelfRole   string             `json:"self_role,omitempty"`
}

// startConversation finds or creates the conversation between the
// requester and the peer named in the body. Repeated calls with the
// same peer return the same conversation.
func (h *handlers) startConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req startConversationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	self := models.Participant{
		UserID:      userID,
		DisplayName: req.SelfName,
		AvatarRef:   req.SelfAvatar,
		Role:        req.SelfRole,
	}
	if self.Role == "" {
		self.Role = models.RolePersonal
	}
	if req.Peer.Role == "" {
		req.Peer.Role = models.RolePersonal
	}
	if err := validation.ValidateParticipant(self); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateParticipant(req.Peer); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Peer.UserID == userID {
		utils.JSONError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	conv, err := h.core.Registry.FindOrCreate(self, req.Peer)
	if err != nil {
		logger.Error("start_conversation_failed", "user", userID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "could not create conversation")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	convs, err := h.core.Registry.ListForUser(userID)
	if err != nil {
		logger.Error("list_conversations_failed", "user", userID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "could not list conversations")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": convs})
}

// conversationForRequest loads the conversation in the path and checks
// the requester is a participant. Writes the error response itself and
// returns nil when the caller should stop.
func (h *handlers) conversationForRequest(w http.ResponseWriter, r *http.Request) (*models.Conversation, string) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return nil, ""
	}
	convID := mux.Vars(r)["id"]
	conv, err := h.core.Registry.Get(convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "conversation not found")
		} else {
			utils.JSONError(w, http.StatusInternalServerError, "could not load conversation")
		}
		return nil, ""
	}
	if !conv.Has(userID) {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return nil, ""
	}
	return conv, userID
}

func (h *handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, _ := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

// openConversation marks the conversation active for the requester and
// returns its message tail. The unread counter is reset only once the
// tail load succeeds.
func (h *handlers) openConversation(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	limit := h.tailLimit(r)
	h.core.Registry.SetActive(userID, conv.ID)
	msgs, err := h.core.Registry.LoadTail(conv.ID, userID, limit)
	if err != nil {
		logger.Error("open_conversation_failed", "conversation", conv.ID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"conversation": conv.ID,
		"messages":     msgs,
	})
}

func (h *handlers) closeConversation(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	if h.core.Registry.ActiveConversation(userID) == conv.ID {
		h.core.Registry.SetActive(userID, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) archiveConversation(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *handlers) unarchiveConversation(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *handlers) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	if err := h.core.Store.SetArchived(conv.ID, archived, time.Now().UTC().UnixNano()); err != nil {
		logger.Error("set_archived_failed", "conversation", conv.ID, "user", userID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "could not update conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) unreadTotal(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	total, err := h.core.Store.UnreadTotal(userID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "could not compute unread total")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": total})
}

func (h *handlers) tailLimit(r *http.Request) int {
	limit := h.core.TailLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= limit {
			return n
		}
	}
	return limit
}
