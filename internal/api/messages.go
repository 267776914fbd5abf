package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/relay"
)

type Sayer interface {
	Say(ctx context.Context, username, message string) error
}

type MessagesHandler struct {
	relay Sayer
	log   *zap.Logger
}

func NewMessagesHandler(s Sayer, log *zap.Logger) *MessagesHandler {
	return &MessagesHandler{relay: s, log: log}
}

// Send shows a chat message from an outside integration in game.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.relay.Say(r.Context(), req.Username, req.Message)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, relay.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, "username and message required")
	case errors.Is(err, relay.ErrMessageTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "message too long")
	default:
		h.log.Warn("relay message failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "game server unavailable")
	}
}
