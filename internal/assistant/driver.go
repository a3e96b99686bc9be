package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/llm"
	"github.com/capitalize-ai/assistant-relay/internal/media"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

const listLimit = 100

var tracer = otel.Tracer("github.com/capitalize-ai/assistant-relay/internal/assistant")

// Options configure a Driver.
type Options struct {
	AssistantID        string
	PollInterval       time.Duration
	MaxAttempts        int
	PollTimeout        time.Duration
	DefaultImagePrompt string
	VisionModel        string
	VisionMaxTokens    int
}

// Turn is one user contribution to a thread.
type Turn struct {
	// ThreadID continues an existing thread; empty creates a new one.
	ThreadID string
	Text     string
	Image    *media.Reference
	OnStatus StatusFunc
}

// Reply is the assistant's answer to a Turn.
type Reply struct {
	ThreadID  string
	RunID     string
	MessageID string
	Text      string
	Status    string
	Attempts  int
}

// Driver runs Turns against one assistant.
type Driver struct {
	api       API
	describer llm.Describer
	opts      Options
	logger    *logger.Logger
}

// NewDriver creates a new driver. describer may be nil, in which case turns
// carrying an image fail.
func NewDriver(api API, describer llm.Describer, opts Options, log *logger.Logger) *Driver {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Duration(opts.MaxAttempts) * opts.PollInterval * 3 / 2
	}
	return &Driver{api: api, describer: describer, opts: opts, logger: log}
}

// Converse submits turn and waits for the assistant's reply. Any failed
// remote call ends the exchange; only the run status is re-checked.
func (d *Driver) Converse(ctx context.Context, turn Turn) (reply *Reply, err error) {
	ctx, span := tracer.Start(ctx, "assistant.Converse")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, failure := captureFailures(ctx)

	text := strings.TrimSpace(turn.Text)
	if text == "" && turn.Image == nil {
		return nil, apperr.Validation("message is required")
	}
	if text == "" {
		text = d.opts.DefaultImagePrompt
	}

	content := text
	if turn.Image != nil {
		content, err = d.describeImage(ctx, text, turn.Image)
		if err != nil {
			return nil, err
		}
	}

	threadID := turn.ThreadID
	if threadID == "" {
		thread, err := d.api.CreateThread(ctx, openai.ThreadRequest{})
		metrics.RecordAssistantCall(StepCreateThread, err)
		if err != nil {
			return nil, remoteError(StepCreateThread, err, failure)
		}
		threadID = thread.ID
	}
	span.SetAttributes(attribute.String("assistant.thread_id", threadID))
	log := d.logger.With(zap.String("thread_id", threadID))

	_, err = d.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	metrics.RecordAssistantCall(StepCreateMessage, err)
	if err != nil {
		return nil, remoteError(StepCreateMessage, err, failure)
	}

	run, err := d.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: d.opts.AssistantID})
	metrics.RecordAssistantCall(StepCreateRun, err)
	if err != nil {
		return nil, remoteError(StepCreateRun, err, failure)
	}
	span.SetAttributes(attribute.String("assistant.run_id", run.ID))
	log = log.With(zap.String("run_id", run.ID))

	started := time.Now()
	run, attempts, err := d.waitForRun(ctx, threadID, run.ID, turn.OnStatus, failure)
	span.SetAttributes(attribute.Int("assistant.poll_attempts", attempts))
	if err != nil {
		outcome := "error"
		if _, ok := err.(*apperr.RunTimedOut); ok {
			outcome = "timeout"
		}
		metrics.RecordRun(outcome, time.Since(started).Seconds(), attempts)
		log.Warn("Run did not finish", zap.Int("attempts", attempts), zap.Error(err))
		return nil, err
	}
	metrics.RecordRun(string(run.Status), time.Since(started).Seconds(), attempts)

	if run.Status != openai.RunStatusCompleted {
		failed := &apperr.RunFailed{RunID: run.ID, Status: string(run.Status)}
		if run.LastError != nil {
			failed.Code = string(run.LastError.Code)
			failed.Detail = run.LastError.Message
		}
		log.Warn("Run ended without completing", zap.String("status", failed.Status), zap.String("detail", failed.Detail))
		return nil, failed
	}

	limit, order := listLimit, "desc"
	list, err := d.api.ListMessage(ctx, threadID, &limit, &order, nil, nil)
	metrics.RecordAssistantCall(StepListMessages, err)
	if err != nil {
		return nil, remoteError(StepListMessages, err, failure)
	}

	msg, replyText, ok := ExtractReply(list.Messages, run.ID)
	if !ok {
		return nil, &apperr.RemoteEmptyReply{RunID: run.ID}
	}

	log.Info("Run completed",
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("reply_length", len(replyText)),
	)

	return &Reply{
		ThreadID:  threadID,
		RunID:     run.ID,
		MessageID: msg.ID,
		Text:      replyText,
		Status:    string(run.Status),
		Attempts:  attempts,
	}, nil
}

// remoteError converts err into a RemoteCallFailed. A response body captured
// by the transport is the detail, verbatim.
func remoteError(step string, err error, failure *failureBody) error {
	remote := apperr.Remote(step, err)
	var failed *apperr.RemoteCallFailed
	if body := failure.String(); body != "" && errors.As(remote, &failed) {
		failed.Detail = body
	}
	return remote
}

// describeImage asks the vision model about the image and folds its answer
// into the thread message, since thread messages only carry text here.
func (d *Driver) describeImage(ctx context.Context, prompt string, ref *media.Reference) (string, error) {
	if d.describer == nil {
		return "", &apperr.RemoteCallFailed{Step: StepDescribeImage, Detail: "no vision provider configured"}
	}

	ctx, span := tracer.Start(ctx, "assistant.DescribeImage")
	defer span.End()

	resp, err := d.describer.Describe(ctx, &llm.VisionRequest{
		Model:     d.opts.VisionModel,
		Prompt:    prompt,
		ImageURL:  ref.URL,
		MimeType:  ref.MimeType,
		Data:      ref.Data,
		MaxTokens: d.opts.VisionMaxTokens,
	})
	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(d.describer.Name(), "error").Inc()
		span.RecordError(err)
		return "", apperr.Remote(StepDescribeImage, err)
	}
	description := strings.TrimSpace(resp.Content)
	if description == "" {
		metrics.VisionRequestsTotal.WithLabelValues(d.describer.Name(), "empty").Inc()
		return "", &apperr.RemoteCallFailed{
			Step:   StepDescribeImage,
			Detail: fmt.Sprintf("vision model returned no description (stop reason %q)", resp.StopReason),
		}
	}
	metrics.VisionRequestsTotal.WithLabelValues(d.describer.Name(), "success").Inc()

	d.logger.Debug("Image described",
		zap.String("provider", d.describer.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.String("stop_reason", resp.StopReason),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	if ref.Inline() {
		fmt.Fprintf(&b, "Attached image (%s):\n", ref.MimeType)
	} else {
		fmt.Fprintf(&b, "Attached image (%s, %s):\n", ref.MimeType, ref.URL)
	}
	b.WriteString(description)
	return b.String(), nil
}
