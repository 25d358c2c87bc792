package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryabkov82/comfy-batch/internal/job"
	"github.com/ryabkov82/comfy-batch/internal/workflow"
)

// Recorder receives client-side measurements. *batch.Timings implements it.
type Recorder interface {
	ObserveSubmit(d time.Duration)
	ObservePollRequest(d time.Duration)
	IncSubmitAttempt()
	IncSubmitRetry()
}

// QueueConfig configures a Queue
type QueueConfig struct {
	// Server is host:port or a base URL of the remote queue
	Server       string
	HTTPTimeout  time.Duration
	PollInterval time.Duration

	// Submit retries; MaxRetries 0 submits exactly once
	MaxRetries   int
	BackoffMs    int
	BackoffMaxMs int

	// FailOnExecutionError turns history records that report an execution
	// error into failed outcomes instead of completed ones
	FailOnExecutionError bool

	HTTPClient *http.Client
	Logger     *slog.Logger
	Recorder   Recorder
}

// Queue talks to a ComfyUI-compatible job queue
type Queue struct {
	client       *http.Client
	baseURL      string
	clientID     string
	pollInterval time.Duration
	maxRetries   int
	backoffMs    int
	backoffMaxMs int
	failOnError  bool
	logger       *slog.Logger
	recorder     Recorder
}

const maxErrorBody = 2048

// NewQueue creates a queue client with a fresh client id
func NewQueue(cfg QueueConfig) *Queue {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Queue{
		client:       httpClient,
		baseURL:      BaseURL(cfg.Server),
		clientID:     uuid.New().String(),
		pollInterval: pollInterval,
		maxRetries:   cfg.MaxRetries,
		backoffMs:    cfg.BackoffMs,
		backoffMaxMs: cfg.BackoffMaxMs,
		failOnError:  cfg.FailOnExecutionError,
		logger:       logger,
		recorder:     cfg.Recorder,
	}
}

// BaseURL normalizes a server address: "host:port" becomes "http://host:port"
func BaseURL(server string) string {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return server
}

// ClientID is the identifier sent with every submission
func (q *Queue) ClientID() string {
	return q.clientID
}

type submitRequest struct {
	Prompt   *workflow.Template `json:"prompt"`
	ClientID string             `json:"client_id"`
}

type submitResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// Submit enqueues a materialized template and returns the remote prompt id.
// Every failure is a *SubmissionError.
func (q *Queue) Submit(ctx context.Context, tmpl *workflow.Template) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: tmpl, ClientID: q.clientID})
	if err != nil {
		return "", &SubmissionError{Attempts: 0, Err: fmt.Errorf("marshal error: %w", err)}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		attempts++
		if q.recorder != nil {
			q.recorder.IncSubmitAttempt()
		}

		if attempt > 0 {
			if q.recorder != nil {
				q.recorder.IncSubmitRetry()
			}
			backoff := q.backoff(attempt, lastErr)
			q.logger.Debug("retrying submission", "attempt", attempt+1, "backoff", backoff, "error", lastErr)

			select {
			case <-ctx.Done():
				return "", &SubmissionError{Attempts: attempts - 1, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		promptID, err := q.submitOnce(ctx, body)
		if err == nil {
			return promptID, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}

	return "", &SubmissionError{Attempts: attempts, Err: lastErr}
}

func (q *Queue) submitOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := q.client.Do(req)
	if q.recorder != nil {
		q.recorder.ObserveSubmit(time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readHTTPError(resp)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("%w: missing prompt_id", ErrMalformedResponse)
	}
	return out.PromptID, nil
}

// backoff computes the delay before a retry; Retry-After wins when present
func (q *Queue) backoff(attempt int, lastErr error) time.Duration {
	backoff := time.Duration(q.backoffMs) * time.Duration(1<<uint(attempt-1)) * time.Millisecond
	if ceiling := time.Duration(q.backoffMaxMs) * time.Millisecond; ceiling > 0 && backoff > ceiling {
		backoff = ceiling
	}
	if httpErr, ok := GetHTTPError(lastErr); ok && httpErr.RetryAfter > 0 {
		backoff = httpErr.RetryAfter
	}
	return backoff
}

// isRetryable checks if a submit error is worth another attempt
func isRetryable(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	httpErr, ok := GetHTTPError(err)
	if !ok {
		// Network errors are retryable
		return true
	}
	// 429 and 5xx are retryable, other 4xx are not
	return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
}

// History fetches the history record for promptID. The result is keyed by
// prompt id; an absent key means the job has not finished yet.
func (q *Queue) History(ctx context.Context, promptID string) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}

	start := time.Now()
	resp, err := q.client.Do(req)
	if q.recorder != nil {
		q.recorder.ObservePollRequest(time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readHTTPError(resp)
	}

	var history map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return history, nil
}

type historyRecord struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// PollUntilDone checks the history for promptID immediately and then every
// poll interval until the job appears (Completed) or timeout elapses
// (TimedOut). Request failures are treated as transient. Canceling ctx ends
// the poll with Failed("canceled").
func (q *Queue) PollUntilDone(ctx context.Context, promptID string, timeout time.Duration) job.Outcome {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if outcome, done := q.check(pollCtx, promptID); done {
			return outcome
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return job.Failed(job.ReasonCanceled)
			}
			return job.TimedOut()
		case <-ticker.C:
		}
	}
}

func (q *Queue) check(ctx context.Context, promptID string) (job.Outcome, bool) {
	history, err := q.History(ctx, promptID)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Debug("history poll failed", "promptId", promptID, "error", err)
		}
		return job.Outcome{}, false
	}

	raw, ok := history[promptID]
	if !ok {
		return job.Outcome{}, false
	}

	if q.failOnError {
		var rec historyRecord
		if err := json.Unmarshal(raw, &rec); err == nil && rec.Status.StatusStr == "error" {
			return job.Failed("remote execution error"), true
		}
	}
	return job.Completed(), true
}

func readHTTPError(resp *http.Response) *HTTPError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	body := string(bodyBytes)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter parses Retry-After header
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try as seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try as HTTP date
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
