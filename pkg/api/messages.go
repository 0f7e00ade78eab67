package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"convo/pkg/logger"
	"convo/pkg/models"
	"convo/pkg/reconcile"
	"convo/pkg/utils"
	"convo/pkg/validation"
)

type sendMessageReq struct {
	Content models.Content `json:"content"`
}

// sendMessage accepts the message for optimistic delivery. The response
// carries the temporary id; the confirmed record replaces it in the
// store once the transport acknowledges.
func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	var req sendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	self, ok := participantOf(conv, userID)
	if !ok {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return
	}
	tempID, err := h.core.Engine.Send(conv.ID, self, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrInvalidContent):
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, reconcile.ErrQueueFull):
			utils.JSONError(w, http.StatusServiceUnavailable, "send queue full, retry later")
		default:
			logger.Error("send_message_failed", "conversation", conv.ID, "user", userID, "error", err.Error())
			utils.JSONError(w, http.StatusInternalServerError, "could not send message")
		}
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"temp_id": tempID})
}

// listMessages returns the newest messages in chronological order. It
// does not touch the unread counter; opening the conversation does.
func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	conv, userID := h.conversationForRequest(w, r)
	if conv == nil {
		return
	}
	msgs, err := h.core.Store.LoadTail(conv.ID, h.tailLimit(r))
	if err != nil {
		logger.Error("list_messages_failed", "conversation", conv.ID, "user", userID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"messages": msgs})
}

func participantOf(conv *models.Conversation, userID string) (models.Participant, bool) {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.Participant{}, false
}
