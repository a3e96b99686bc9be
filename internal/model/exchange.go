package model

import (
	"time"
)

// ExchangeKind distinguishes text and image exchanges.
type ExchangeKind string

const (
	ExchangeChat  ExchangeKind = "chat"
	ExchangeImage ExchangeKind = "image"
)

// Exchange outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Exchange is the transcript record of one relayed request.
type Exchange struct {
	ID            string         `json:"id"`
	Kind          ExchangeKind   `json:"kind"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionKey    string         `json:"session_key,omitempty"`
	ThreadID      string         `json:"thread_id,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	UserText      string         `json:"user_text"`
	ImageURL      string         `json:"image_url,omitempty"`
	Reply         string         `json:"reply,omitempty"`
	Outcome       string         `json:"outcome"`
	ErrorType     string         `json:"error_type,omitempty"`
	Error         string         `json:"error,omitempty"`
	PollAttempts  int            `json:"poll_attempts,omitempty"`
	LatencyMs     int64          `json:"latency_ms"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Sequence      uint64         `json:"sequence,omitempty"`
}
