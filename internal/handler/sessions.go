package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/assistant-relay/internal/middleware"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/service"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	relay  *service.RelayService
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(relay *service.RelayService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		relay:  relay,
		logger: log,
	}
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sess, err := h.relay.Session(r.Context(), scopeSessionKey(r, id))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sess.Key = callerSessionKey(r, sess.Key)

	writeJSON(w, http.StatusOK, sess)
}

// Delete handles DELETE /sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.relay.ResetSession(r.Context(), scopeSessionKey(r, id)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExchangeLister reads back recorded exchanges.
type ExchangeLister interface {
	Recent(ctx context.Context, afterSequence uint64, limit int) ([]model.Exchange, uint64, bool, error)
}

// ListExchangesResponse is returned by GET /exchanges.
type ListExchangesResponse struct {
	Exchanges    []model.Exchange `json:"exchanges"`
	LastSequence uint64           `json:"last_sequence"`
	HasMore      bool             `json:"has_more"`
}

// ExchangeHandler handles the exchange transcript endpoint.
type ExchangeHandler struct {
	lister ExchangeLister
	logger *logger.Logger
}

// NewExchangeHandler creates a new exchange handler.
func NewExchangeHandler(lister ExchangeLister, log *logger.Logger) *ExchangeHandler {
	return &ExchangeHandler{lister: lister, logger: log}
}

// List handles GET /exchanges
// Supports ?after_sequence=N&limit=M for paging.
func (h *ExchangeHandler) List(w http.ResponseWriter, r *http.Request) {
	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	exchanges, lastSeq, hasMore, err := h.lister.Recent(r.Context(), afterSequence, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if exchanges == nil {
		exchanges = []model.Exchange{}
	}

	writeJSON(w, http.StatusOK, ListExchangesResponse{
		Exchanges:    exchanges,
		LastSequence: lastSeq,
		HasMore:      hasMore,
	})
}
