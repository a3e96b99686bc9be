// Package service relays caller requests to the assistant.
package service

import (
	"context"
	"time"

	"github.com/capitalize-ai/assistant-relay/internal/assistant"
	"github.com/capitalize-ai/assistant-relay/internal/media"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/session"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// Conversation scopes.
const (
	ScopeRequest = "request"
	ScopeSession = "session"
)

// Conversationalist runs one turn against the assistant.
type Conversationalist interface {
	Converse(ctx context.Context, turn assistant.Turn) (*assistant.Reply, error)
}

// ExchangeRecorder keeps a transcript of relayed exchanges.
type ExchangeRecorder interface {
	Record(ctx context.Context, ex *model.Exchange) error
}

// NoopRecorder discards exchanges.
type NoopRecorder struct{}

// Record does nothing.
func (NoopRecorder) Record(context.Context, *model.Exchange) error { return nil }

// Options configure a RelayService.
type Options struct {
	Scope             string
	SessionTTL        time.Duration
	UploadDeleteAfter time.Duration
}

// RelayService runs the request pipeline: session, image, assistant, record.
type RelayService struct {
	assistant    Conversationalist
	materializer *media.Materializer
	uploads      *media.Store
	sessions     session.Store
	locks        *session.Locks
	recorder     ExchangeRecorder
	opts         Options
	logger       *logger.Logger
	now          func() time.Time
	afterFunc    func(time.Duration, func())
}

// NewRelayService creates a new relay service. conv may be nil when the
// assistant is not configured; every exchange then fails with
// AssistantNotReady.
func NewRelayService(
	conv Conversationalist,
	materializer *media.Materializer,
	uploads *media.Store,
	sessions session.Store,
	recorder ExchangeRecorder,
	opts Options,
	log *logger.Logger,
) *RelayService {
	if opts.Scope == "" {
		opts.Scope = ScopeRequest
	}
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &RelayService{
		assistant:    conv,
		materializer: materializer,
		uploads:      uploads,
		sessions:     sessions,
		locks:        session.NewLocks(),
		recorder:     recorder,
		opts:         opts,
		logger:       log,
		now:          time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Ready reports whether exchanges can be served.
func (s *RelayService) Ready() bool {
	return s != nil && s.assistant != nil
}

// Scope returns the configured conversation scope.
func (s *RelayService) Scope() string {
	return s.opts.Scope
}

// ImagePolicy returns how inbound images are handed to the assistant.
func (s *RelayService) ImagePolicy() string {
	if s.materializer == nil {
		return ""
	}
	return s.materializer.Policy()
}
