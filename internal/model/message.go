// Package model defines data structures exchanged with API callers.
package model

import (
	"time"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=100000"`
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,max=128"`
}

// AnalyzeImageRequest is the body of POST /analyze-image. Exactly one of
// ImageURL and ImageBase64 is required.
type AnalyzeImageRequest struct {
	Message     string `json:"message,omitempty" validate:"max=100000"`
	ImageURL    string `json:"imageUrl,omitempty" validate:"required_without=ImageBase64,excluded_with=ImageBase64,omitempty,url"`
	ImageBase64 string `json:"imageBase64,omitempty" validate:"required_without=ImageURL,excluded_with=ImageURL"`
	SessionID   string `json:"sessionId,omitempty" validate:"omitempty,max=128"`
}

// ReplyResponse is returned on a successful exchange.
type ReplyResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// ErrorResponse is returned for every failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RunStatusEvent is streamed while a run is being polled.
type RunStatusEvent struct {
	Status  string    `json:"status"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
