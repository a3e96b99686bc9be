package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/middleware"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/service"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

const heartbeatInterval = 15 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	relay     *service.RelayService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(relay *service.RelayService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		relay:     relay,
		logger:    log,
		heartbeat: heartbeatInterval,
	}
}

type chatOutcome struct {
	result *service.Result
	err    error
}

// ChatStream handles POST /chat/stream
// The body matches POST /chat. Run statuses are streamed while the
// assistant works, followed by one reply or error event.
func (h *StreamHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, apperr.InternalServerError{})
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Track active connection
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	statuses := make(chan model.RunStatusEvent, 16)
	done := make(chan chatOutcome, 1)

	go func() {
		result, err := h.relay.Chat(ctx, service.ChatInput{
			Message:       req.Message,
			SessionKey:    key,
			CorrelationID: middleware.GetCorrelationID(ctx),
			OnStatus: func(status string, attempt int) {
				select {
				case statuses <- model.RunStatusEvent{Status: status, Attempt: attempt, At: time.Now()}:
				default:
				}
			},
		})
		done <- chatOutcome{result: result, err: err}
	}()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("correlation_id", middleware.GetCorrelationID(ctx)))
			return

		case ev := <-statuses:
			_ = sendSSEEvent(w, flusher, "run_status", ev)

		case <-heartbeat.C:
			_ = sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()})

		case out := <-done:
			// Drain statuses observed before completion.
			for drained := false; !drained; {
				select {
				case ev := <-statuses:
					_ = sendSSEEvent(w, flusher, "run_status", ev)
				default:
					drained = true
				}
			}

			if out.err != nil {
				data := apperr.Describe(out.err)
				_ = sendSSEEvent(w, flusher, "error", model.ErrorResponse{Error: data.Message, Details: data.Details})
				return
			}
			_ = sendSSEEvent(w, flusher, "reply", model.ReplyResponse{
				Reply:     out.result.Reply,
				SessionID: callerSessionKey(r, out.result.SessionKey),
			})
			return
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
