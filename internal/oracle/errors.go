package oracle

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultRetryAfter applies when a 429 carries no usable Retry-After.
const defaultRetryAfter = time.Minute

// RateLimitError is a provider refusing a request with HTTP 429. Model is
// the model the request was sent to.
type RateLimitError struct {
	Provider   string
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	target := e.Provider
	if e.Model != "" {
		target += "/" + e.Model
	}
	return fmt.Sprintf("%s rate limited, retry in %s: %v", target, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError builds a RateLimitError for one provider call. A zero or
// negative retryAfter becomes one minute.
func NewRateLimitError(provider, model string, err error, retryAfter time.Duration) *RateLimitError {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return &RateLimitError{
		Provider:   provider,
		Model:      model,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// ParseRetryAfterHeader reads a Retry-After value given either as seconds or
// as an HTTP date relative to now. Anything else, or a date in the past,
// yields 0.
func ParseRetryAfterHeader(val string, now time.Time) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(val)
	if err != nil || !at.After(now) {
		return 0
	}
	return at.Sub(now).Round(time.Second)
}
