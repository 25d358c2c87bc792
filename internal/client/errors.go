package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSubmission matches every *SubmissionError
	ErrSubmission = errors.New("submission error")
	// ErrMalformedResponse is returned when the queue answers 2xx with an
	// unusable body
	ErrMalformedResponse = errors.New("malformed response")
)

// HTTPError represents a non-2xx response from the remote queue
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// GetHTTPError extracts HTTPError from error if possible
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// SubmissionError reports a job the remote queue did not accept
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("submit failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("submit failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}
