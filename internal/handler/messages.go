package handler

import (
	"net/http"

	"github.com/capitalize-ai/assistant-relay/internal/middleware"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/service"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// ChatHandler handles the relay endpoints.
type ChatHandler struct {
	relay  *service.RelayService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(relay *service.RelayService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		relay:  relay,
		logger: log,
	}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	key, err := sessionKey(r, req.SessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.relay.Chat(r.Context(), service.ChatInput{
		Message:       req.Message,
		SessionKey:    key,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeReply(w, r, result)
}

// AnalyzeImage handles POST /analyze-image
func (h *ChatHandler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyzeImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	key, err := sessionKey(r, req.SessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.relay.AnalyzeImage(r.Context(), service.ImageInput{
		Message:       req.Message,
		ImageURL:      req.ImageURL,
		ImageBase64:   req.ImageBase64,
		SessionKey:    key,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeReply(w, r, result)
}

func writeReply(w http.ResponseWriter, r *http.Request, result *service.Result) {
	key := callerSessionKey(r, result.SessionKey)
	if key != "" {
		w.Header().Set(SessionHeader, key)
	}
	writeJSON(w, http.StatusOK, model.ReplyResponse{
		Reply:     result.Reply,
		SessionID: key,
		ImageURL:  result.ImageURL,
	})
}
