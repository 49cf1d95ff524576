package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shresthakamal/try-on/internal/conversation"
	"github.com/shresthakamal/try-on/internal/models"
	"github.com/shresthakamal/try-on/internal/provider"
)

// TryOn handles the messaging webhook and answers with TwiML.
func (h *Handler) TryOn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}

	ev, err := provider.ParseInbound(r.PostForm)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.conv.Handle(r.Context(), ev)
	if err != nil {
		var pe *conversation.ProtocolError
		if errors.As(err, &pe) {
			h.Error(w, http.StatusBadRequest, pe.Error())
			return
		}
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("message_sid", ev.MessageID).
			Msg("inbound event failed")
		reply = models.Reply{Message: conversation.ReplyFailure}
	}

	h.twiml(w, reply)
}

func (h *Handler) twiml(w http.ResponseWriter, reply models.Reply) {
	body, err := provider.Reply(reply)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render reply")
		h.Error(w, http.StatusInternalServerError, "failed to render reply")
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
