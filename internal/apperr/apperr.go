// Package apperr defines the error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/sashabaranov/go-openai"
)

// ErrorData is the client visible description of an error.
type ErrorData struct {
	Code    int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AppError is implemented by every error that maps onto an HTTP response.
type AppError interface {
	Error() string
	GetErrorData() ErrorData
}

// Describe maps any error onto response data. Errors outside the taxonomy
// become a generic 500 so internals are not leaked.
func Describe(err error) ErrorData {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.GetErrorData()
	}
	return InternalServerError{}.GetErrorData()
}

// ValidationError reports a request the client must fix.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func (e *ValidationError) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusBadRequest, Type: "ValidationError", Message: e.Reason}
}

// Validation builds a ValidationError with a formatted reason.
func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ImageFetchFailed reports a remote image host that could not be read.
type ImageFetchFailed struct {
	URL    string
	Status int
	Detail string
}

func (e *ImageFetchFailed) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("image fetch failed: %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("image fetch failed: %s: %s", e.URL, e.Detail)
}

func (e *ImageFetchFailed) GetErrorData() ErrorData {
	details := e.Detail
	if e.Status > 0 {
		details = fmt.Sprintf("status %d: %s", e.Status, e.Detail)
	}
	return ErrorData{Code: http.StatusInternalServerError, Type: "ImageFetchFailed", Message: "Failed to fetch image", Details: details}
}

// RemoteCallFailed reports a non-success response from the assistant API.
// Detail carries the remote error body.
type RemoteCallFailed struct {
	Step   string
	Status int
	Detail string
	Err    error
}

func (e *RemoteCallFailed) Error() string {
	return fmt.Sprintf("remote call %s failed: %s", e.Step, e.Detail)
}

func (e *RemoteCallFailed) Unwrap() error {
	return e.Err
}

func (e *RemoteCallFailed) GetErrorData() ErrorData {
	return ErrorData{
		Code:    http.StatusInternalServerError,
		Type:    "RemoteCallFailed",
		Message: "Assistant request failed at step " + e.Step,
		Details: e.Detail,
	}
}

// RunTimedOut reports a run that did not reach a terminal status in time.
type RunTimedOut struct {
	RunID    string
	Attempts int
	Status   string
}

func (e *RunTimedOut) Error() string {
	return fmt.Sprintf("run %s timed out after %d status checks (last status %s)", e.RunID, e.Attempts, e.Status)
}

func (e *RunTimedOut) GetErrorData() ErrorData {
	return ErrorData{
		Code:    http.StatusInternalServerError,
		Type:    "RunTimedOut",
		Message: "Assistant did not finish in time",
		Details: fmt.Sprintf("last status %s after %d checks", e.Status, e.Attempts),
	}
}

// RunFailed reports a run that reached a terminal failure status.
type RunFailed struct {
	RunID  string
	Status string
	Code   string
	Detail string
}

func (e *RunFailed) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("run %s ended with status %s: %s", e.RunID, e.Status, e.Detail)
	}
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

func (e *RunFailed) GetErrorData() ErrorData {
	details := e.Detail
	if e.Code != "" {
		details = e.Code + ": " + details
	}
	return ErrorData{
		Code:    http.StatusInternalServerError,
		Type:    "RunFailed",
		Message: "Assistant run " + e.Status,
		Details: details,
	}
}

// RemoteEmptyReply reports a completed run without an assistant text message.
type RemoteEmptyReply struct {
	RunID string
}

func (e *RemoteEmptyReply) Error() string {
	return fmt.Sprintf("run %s completed without an assistant reply", e.RunID)
}

func (e *RemoteEmptyReply) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusInternalServerError, Type: "RemoteEmptyReply", Message: "No response from the assistant"}
}

// AssistantNotReady reports a service started without credentials.
type AssistantNotReady struct{}

func (AssistantNotReady) Error() string {
	return "AssistantNotReady"
}

func (AssistantNotReady) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusServiceUnavailable, Type: "AssistantNotReady", Message: "Assistant is not configured"}
}

// InternalServerError is the fallback for unexpected errors.
type InternalServerError struct{}

func (InternalServerError) Error() string {
	return "InternalServerError"
}

func (InternalServerError) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusInternalServerError, Type: "InternalServerError", Message: "Internal Server Error"}
}

// NotFound reports a missing resource.
type NotFound struct {
	What string
}

func (e *NotFound) Error() string {
	return e.What + " not found"
}

func (e *NotFound) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusNotFound, Type: "NotFound", Message: e.What + " not found"}
}

// Remote converts an error returned by the go-openai client into a
// RemoteCallFailed for the given step.
func Remote(step string, err error) error {
	if err == nil {
		return nil
	}
	var already *RemoteCallFailed
	if errors.As(err, &already) {
		return err
	}
	return &RemoteCallFailed{Step: step, Status: StatusCode(err), Detail: err.Error(), Err: err}
}

// StatusCode extracts the HTTP status from a go-openai error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// IsOpenAINotFoundError reports a 404 from the OpenAI API.
func IsOpenAINotFoundError(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

var activeRunPattern = regexp.MustCompile(`(already has an active run)|(while a run .* is active)`)

// IsOpenAIThreadBusyError reports the 400 returned when a thread still has
// an active run.
func IsOpenAIThreadBusyError(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusBadRequest {
		return false
	}
	return activeRunPattern.MatchString(apiErr.Message)
}

// PayloadTooLarge reports a request body over the configured limit.
type PayloadTooLarge struct {
	Limit int64
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

func (e *PayloadTooLarge) GetErrorData() ErrorData {
	return ErrorData{Code: http.StatusRequestEntityTooLarge, Type: "PayloadTooLarge", Message: e.Error()}
}
