// Package assistant drives one exchange against the OpenAI Assistants API:
// thread, message, run, poll, reply.
package assistant

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Remote call steps, used in errors, logs and metrics.
const (
	StepCreateThread  = "create_thread"
	StepCreateMessage = "create_message"
	StepCreateRun     = "create_run"
	StepRetrieveRun   = "retrieve_run"
	StepListMessages  = "list_messages"
	StepDescribeImage = "describe_image"
)

// API is the subset of the Assistants API the driver uses. *openai.Client
// satisfies it.
type API interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string) (openai.MessagesList, error)
}

// ClientOptions configure the OpenAI client.
type ClientOptions struct {
	APIKey     string
	BaseURL    string
	BetaHeader string
	Timeout    time.Duration
}

// NewOpenAIClient creates a go-openai client whose requests always carry the
// configured OpenAI-Beta header.
func NewOpenAIClient(opts ClientOptions) *openai.Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	header := http.Header{}
	if opts.BetaHeader != "" {
		header.Set("OpenAI-Beta", opts.BetaHeader)
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: &headerTransport{base: http.DefaultTransport, header: header},
	}

	return openai.NewClientWithConfig(cfg)
}

// maxFailureBody bounds the copy kept of a failed response body.
const maxFailureBody = 4 << 10

type failureBodyKey struct{}

// failureBody receives the raw body of a failed remote response. go-openai
// drops bodies it cannot decode, so the transport keeps its own copy.
type failureBody struct {
	mu   sync.Mutex
	text string
}

func (b *failureBody) set(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *failureBody) String() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// captureFailures returns a context under which failed responses are copied
// into the returned sink.
func captureFailures(ctx context.Context) (context.Context, *failureBody) {
	sink := &failureBody{}
	return context.WithValue(ctx, failureBodyKey{}, sink), sink
}

// headerTransport overrides request headers before delegating to base and
// copies failed response bodies into the request's failureBody.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.header) > 0 {
		req = req.Clone(req.Context())
		for key, values := range t.header {
			req.Header[key] = values
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	sink, ok := req.Context().Value(failureBodyKey{}).(*failureBody)
	if !ok {
		return resp, nil
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
	rest := resp.Body
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), rest), rest}
	if readErr == nil {
		sink.set(strings.TrimSpace(string(data)))
	}
	return resp, nil
}
