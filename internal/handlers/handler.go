package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/models"
)

// Conversation handles one inbound event per call.
type Conversation interface {
	Handle(ctx context.Context, ev models.InboundEvent) (models.Reply, error)
}

// MediaStore maps paths under /media onto local files.
type MediaStore interface {
	Path(rel string) (string, error)
	BaseDir() string
}

// Pinger is a dependency reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	conv   Conversation
	media  MediaStore
	redis  Pinger // nil when Redis is not configured
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(conv Conversation, media MediaStore, redis Pinger, logger zerolog.Logger) *Handler {
	return &Handler{conv: conv, media: media, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
