package assistant

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

var errRunPending = errors.New("run pending")

// RunStatusIncomplete is reported by the v2 API; go-openai has no constant
// for it.
const RunStatusIncomplete openai.RunStatus = "incomplete"

// IsTerminal reports whether no further transition follows status.
func IsTerminal(status openai.RunStatus) bool {
	switch status {
	case openai.RunStatusCompleted,
		openai.RunStatusFailed,
		openai.RunStatusCancelled,
		openai.RunStatusExpired,
		openai.RunStatusRequiresAction,
		RunStatusIncomplete:
		return true
	}
	return false
}

// StatusFunc observes every polled status.
type StatusFunc func(status string, attempt int)

// waitForRun checks the run immediately and then once per interval until it
// is terminal, the attempt ceiling is reached or the poll timeout expires.
func (d *Driver) waitForRun(ctx context.Context, threadID, runID string, onStatus StatusFunc, failure *failureBody) (openai.Run, int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, d.opts.PollTimeout)
	defer cancel()

	var (
		run      openai.Run
		attempts int
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.opts.PollInterval), uint64(d.opts.MaxAttempts-1)),
		pollCtx,
	)

	err := backoff.Retry(func() error {
		attempts++
		r, err := d.api.RetrieveRun(pollCtx, threadID, runID)
		metrics.RecordAssistantCall(StepRetrieveRun, err)
		if err != nil {
			if pollCtx.Err() != nil {
				return backoff.Permanent(pollCtx.Err())
			}
			return backoff.Permanent(remoteError(StepRetrieveRun, err, failure))
		}

		run = r
		if onStatus != nil {
			onStatus(string(r.Status), attempts)
		}
		if IsTerminal(r.Status) {
			return nil
		}
		return errRunPending
	}, policy)

	switch {
	case err == nil:
		return run, attempts, nil
	case ctx.Err() != nil:
		return run, attempts, ctx.Err()
	case errors.Is(err, errRunPending), errors.Is(err, context.DeadlineExceeded):
		status := string(run.Status)
		if status == "" {
			status = "unknown"
		}
		return run, attempts, &apperr.RunTimedOut{RunID: runID, Attempts: attempts, Status: status}
	default:
		return run, attempts, err
	}
}
