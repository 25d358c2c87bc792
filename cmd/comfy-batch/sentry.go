package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ryabkov82/comfy-batch/internal/job"
	"github.com/ryabkov82/comfy-batch/internal/version"
)

// failureReporter forwards fatal errors and failed units to Sentry.
// Without a DSN every method is a no-op.
type failureReporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

func newFailureReporter(dsn string, logger *slog.Logger) (*failureReporter, error) {
	if dsn == "" {
		return &failureReporter{logger: logger}, nil
	}
	return newSentryReporter(sentry.ClientOptions{
		Dsn:     dsn,
		Release: version.Name + "@" + version.Version,
	}, logger)
}

func newSentryReporter(opts sentry.ClientOptions, logger *slog.Logger) (*failureReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	logger.Debug("sentry reporting enabled")
	return &failureReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

func (r *failureReporter) CaptureError(err error) {
	if r.hub == nil || err == nil {
		return
	}
	r.hub.Clone().CaptureException(err)
}

// UnitFailed matches batch.OnFailure. Workers call it concurrently, so each
// call captures on its own hub clone.
func (r *failureReporter) UnitFailed(u job.Unit, cause error) {
	if r.hub == nil {
		return
	}

	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("unit_id", u.ID)
		scope.SetTag("job_type", u.JobType)
		scope.SetTag("outcome", string(outcomeKind(u)))
		scope.SetContext("unit", sentry.Context{
			"id":         u.ID,
			"line":       u.Line,
			"repetition": u.Repetition,
			"count":      u.Count,
			"prompt_id":  u.PromptID,
		})
	})
	if cause != nil {
		hub.CaptureException(cause)
		return
	}
	hub.CaptureMessage(fmt.Sprintf("unit %s on line %d: %s", u.JobType, u.Line, u.Outcome))
}

func (r *failureReporter) Flush(timeout time.Duration) {
	if r.hub == nil {
		return
	}
	if !r.hub.Flush(timeout) {
		r.logger.Warn("sentry flush timed out", "timeout", timeout)
	}
}

func outcomeKind(u job.Unit) job.OutcomeKind {
	if u.Outcome == nil {
		return ""
	}
	return u.Outcome.Kind
}
