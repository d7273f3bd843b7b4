package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/services"
	"github.com/rs/zerolog/log"
)

// StreamHandler upgrades a connection and streams assistant run progress to
// the client: one status frame per observed run-status transition, then a
// final answer frame. The auth middleware runs on the upgrade request, so
// the connection is bound to an authenticated user.
type StreamHandler struct {
	service  services.AssistantServiceProvider
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler. Cross-origin upgrades are
// only accepted from the configured frontend origin.
func NewStreamHandler(service services.AssistantServiceProvider, frontendURL string) *StreamHandler {
	return &StreamHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == frontendURL
			},
		},
	}
}

type streamRequest struct {
	Prompt string `json:"prompt"`
}

type streamFrame struct {
	Type      string   `json:"type"`
	Status    string   `json:"status,omitempty"`
	Result    string   `json:"result,omitempty"`
	Citations []string `json:"citations,omitempty"`
	File      string   `json:"file,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Serve handles the WebSocket connection request.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Could not retrieve user from token", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	log.Info().Str("user_id", claims.UserID).Msg("Stream client connected")

	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Stream client closed abnormally")
			}
			return
		}

		answer, err := h.service.AskStream(r.Context(), claims.UserID, req.Prompt, nil, func(status string) {
			if err := conn.WriteJSON(streamFrame{Type: "status", Status: status}); err != nil {
				log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Failed to write status frame")
			}
		})
		if err != nil {
			log.Error().Err(err).Str("user_id", claims.UserID).Msg("Streamed ask failed")
			if err := conn.WriteJSON(streamFrame{Type: "error", Error: "Assistant request failed"}); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(streamFrame{Type: "answer", Result: answer.Result, Citations: answer.Citations, File: answer.File}); err != nil {
			return
		}
	}
}
