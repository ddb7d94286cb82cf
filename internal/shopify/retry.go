package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxAttempts    = 3
	baseRetryDelay = 2 * time.Second
)

// ErrNotFound marks a product or inventory item missing upstream. It is fatal
// for the event that referenced it.
var ErrNotFound = errors.New("shopify: not found")

// ErrRetriesExhausted is the terminal error after the transient-failure retry
// budget is spent. It is not retried again at any layer.
var ErrRetriesExhausted = errors.New("shopify: all retry attempts exhausted")

type httpStatusError struct {
	statusCode int
	status     string
	body       string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	if strings.TrimSpace(e.body) == "" {
		return fmt.Sprintf("shopify request failed: %s", e.status)
	}
	return fmt.Sprintf("shopify request failed: %s: %s", e.status, e.body)
}

func newHTTPStatusError(resp *http.Response, body []byte) error {
	e := &httpStatusError{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		body:       strings.TrimSpace(string(body)),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			e.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// isRetryable reports whether the error is a rate limit or server-side
// failure worth another attempt.
func isRetryable(err error) bool {
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode == http.StatusTooManyRequests || httpErr.statusCode >= 500
	}
	return false
}

// retryDelay picks the wait before the given attempt: the platform's
// Retry-After hint when present, else exponential backoff base 2.
func retryDelay(err error, attempt int) time.Duration {
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) && httpErr.retryAfter > 0 {
		return httpErr.retryAfter
	}
	return baseRetryDelay << attempt
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
