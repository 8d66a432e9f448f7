package gmail

import (
	"fmt"
	"time"
)

// NotFoundError indicates a 404 response. Incremental sync relies on this to
// detect an expired history cursor.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// RateLimitError indicates a 429, or a 403 whose body carries a Gmail
// rate-limit reason. The transport retries these internally; the error only
// escapes when the retry budget is exhausted.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.StatusCode)
}

// PermanentError indicates a non-retryable HTTP failure. In batch fetches
// these are collected per message id instead of failing the whole batch.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}
