package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/assistant"
	"github.com/capitalize-ai/assistant-relay/internal/media"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

// StatusCallback is called for each observed run status.
type StatusCallback = assistant.StatusFunc

// ChatInput is a text exchange.
type ChatInput struct {
	Message       string
	SessionKey    string
	CorrelationID string
	OnStatus      StatusCallback
}

// ImageInput is an image exchange. Exactly one of ImageURL and ImageBase64
// must be set.
type ImageInput struct {
	Message       string
	ImageURL      string
	ImageBase64   string
	SessionKey    string
	CorrelationID string
	OnStatus      StatusCallback
}

// Result is a relayed reply.
type Result struct {
	Reply      string
	SessionKey string
	ThreadID   string
	RunID      string
	ImageURL   string
	Attempts   int
}

// Chat relays a text message.
func (s *RelayService) Chat(ctx context.Context, in ChatInput) (*Result, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, apperr.Validation("message is required")
	}
	ex := s.newExchange(model.ExchangeChat, in.CorrelationID, in.Message)
	return s.relay(ctx, ex, in.SessionKey, nil, in.OnStatus)
}

// AnalyzeImage relays an image with an optional message.
func (s *RelayService) AnalyzeImage(ctx context.Context, in ImageInput) (*Result, error) {
	switch {
	case in.ImageURL == "" && in.ImageBase64 == "":
		return nil, apperr.Validation("imageUrl or imageBase64 is required")
	case in.ImageURL != "" && in.ImageBase64 != "":
		return nil, apperr.Validation("provide either imageUrl or imageBase64, not both")
	}
	ex := s.newExchange(model.ExchangeImage, in.CorrelationID, in.Message)
	src := &media.Source{URL: in.ImageURL, Base64: in.ImageBase64}
	return s.relay(ctx, ex, in.SessionKey, src, in.OnStatus)
}

func (s *RelayService) newExchange(kind model.ExchangeKind, correlationID, text string) *model.Exchange {
	return &model.Exchange{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Kind:          kind,
		CorrelationID: correlationID,
		UserText:      text,
		CreatedAt:     s.now(),
	}
}

func (s *RelayService) relay(ctx context.Context, ex *model.Exchange, sessionKey string, src *media.Source, onStatus StatusCallback) (*Result, error) {
	result, err := s.exchange(ctx, ex, sessionKey, src, onStatus)

	ex.LatencyMs = s.now().Sub(ex.CreatedAt).Milliseconds()
	log := s.logger.WithRequest(ex.CorrelationID, ex.SessionKey)
	if err != nil {
		data := apperr.Describe(err)
		ex.Outcome = model.OutcomeError
		ex.ErrorType = data.Type
		ex.Error = err.Error()
		log.Warn("Exchange failed",
			zap.String("kind", string(ex.Kind)),
			zap.String("type", data.Type),
			zap.Int64("latency_ms", ex.LatencyMs),
			zap.Error(err),
		)
	} else {
		ex.Outcome = model.OutcomeSuccess
		ex.Reply = result.Reply
		log.Info("Exchange relayed",
			zap.String("kind", string(ex.Kind)),
			zap.String("thread_id", ex.ThreadID),
			zap.String("run_id", ex.RunID),
			zap.Int("poll_attempts", ex.PollAttempts),
			zap.Int64("latency_ms", ex.LatencyMs),
		)
	}
	metrics.ExchangesTotal.WithLabelValues(string(ex.Kind), ex.Outcome).Inc()
	s.record(ctx, ex)

	return result, err
}

func (s *RelayService) exchange(ctx context.Context, ex *model.Exchange, sessionKey string, src *media.Source, onStatus StatusCallback) (*Result, error) {
	if s.assistant == nil {
		return nil, apperr.AssistantNotReady{}
	}

	var ref *media.Reference
	if src != nil {
		var err error
		ref, err = s.materializer.Materialize(ctx, *src)
		if err != nil {
			return nil, err
		}
		ex.ImageURL = ref.URL
		if ref.Inline() {
			ex.ImageURL = ""
		}
	}

	conv, err := s.openConversation(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	defer conv.close()
	ex.SessionKey = conv.key

	reply, err := s.assistant.Converse(ctx, assistant.Turn{
		ThreadID: conv.threadID,
		Text:     ex.UserText,
		Image:    ref,
		OnStatus: onStatus,
	})
	if err != nil {
		s.forgetStaleThread(ctx, conv, err)
		return nil, err
	}

	ex.ThreadID = reply.ThreadID
	ex.RunID = reply.RunID
	ex.PollAttempts = reply.Attempts
	s.commit(ctx, conv, reply.ThreadID)
	s.scheduleUploadRemoval(ref)

	result := &Result{
		Reply:      reply.Text,
		SessionKey: conv.key,
		ThreadID:   reply.ThreadID,
		RunID:      reply.RunID,
		Attempts:   reply.Attempts,
	}
	if ref != nil && !ref.Inline() {
		result.ImageURL = ref.URL
	}
	return result, nil
}

func (s *RelayService) scheduleUploadRemoval(ref *media.Reference) {
	if ref == nil || ref.Filename == "" || s.uploads == nil || s.opts.UploadDeleteAfter <= 0 {
		return
	}
	name := ref.Filename
	s.afterFunc(s.opts.UploadDeleteAfter, func() {
		if err := s.uploads.Remove(name); err != nil {
			s.logger.Warn("Failed to remove upload", zap.String("filename", name), zap.Error(err))
			return
		}
		s.logger.Debug("Upload removed", zap.String("filename", name))
	})
}

func (s *RelayService) record(ctx context.Context, ex *model.Exchange) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.recorder.Record(ctx, ex); err != nil {
		s.logger.Warn("Failed to record exchange", zap.String("exchange_id", ex.ID), zap.Error(err))
	}
}
