package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/mfiguera/lexbot-be/internal/openai"
	"github.com/mfiguera/lexbot-be/internal/services"
	"github.com/rs/zerolog/log"
)

const maxUploadSize = 32 << 20 // 32 MiB

// AssistantHandler handles prompt submission and artifact downloads.
type AssistantHandler struct {
	service services.AssistantServiceProvider
	files   *filestore.Store
}

// NewAssistantHandler creates a new AssistantHandler.
func NewAssistantHandler(service services.AssistantServiceProvider, files *filestore.Store) *AssistantHandler {
	return &AssistantHandler{service: service, files: files}
}

// AskPayload is the JSON body of a prompt-only request.
type AskPayload struct {
	Prompt string `json:"prompt"`
}

// Ask submits a prompt, with an optional uploaded file when the request is
// multipart, and responds once the assistant run has finished.
func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Could not retrieve user from token", http.StatusInternalServerError)
		return
	}

	prompt, upload, err := parseAskRequest(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upload != nil {
		if closer, ok := upload.Reader.(io.Closer); ok {
			defer closer.Close()
		}
	}

	answer, err := h.service.Ask(r.Context(), claims.UserID, prompt, upload)
	if err != nil {
		h.writeAskError(w, claims.UserID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

func parseAskRequest(r *http.Request) (string, *services.Upload, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return "", nil, err
		}
		prompt := r.FormValue("prompt")

		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return prompt, nil, nil
			}
			return "", nil, err
		}
		return prompt, &services.Upload{Filename: header.Filename, Reader: file}, nil
	}

	var payload AskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", nil, err
	}
	return payload.Prompt, nil, nil
}

func (h *AssistantHandler) writeAskError(w http.ResponseWriter, userID string, err error) {
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, services.ErrEmptyPrompt):
		http.Error(w, "Prompt is required", http.StatusBadRequest)
	case errors.Is(err, services.ErrRunTimeout):
		log.Error().Err(err).Str("user_id", userID).Msg("Assistant run timed out")
		http.Error(w, "Assistant timed out", http.StatusGatewayTimeout)
	case errors.Is(err, services.ErrRunFailed), errors.As(err, &apiErr):
		log.Error().Err(err).Str("user_id", userID).Msg("Assistant request failed")
		http.Error(w, "Assistant request failed", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("Ask failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Download serves a stored artifact by name.
func (h *AssistantHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := h.files.Path(name)
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrBadName):
			http.Error(w, "Invalid file name", http.StatusBadRequest)
		case errors.Is(err, filestore.ErrNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("file", name).Msg("Failed to resolve artifact")
			http.Error(w, "Failed to retrieve file", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}
