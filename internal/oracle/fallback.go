package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// providerCircuit holds one provider out of rotation until the Retry-After
// of its last 429 has passed.
type providerCircuit struct {
	name string

	mu        sync.Mutex
	coolUntil time.Time
	model     string
}

// cooling reports whether the provider is still rate limited at now, until
// when, and which model drew the 429.
func (c *providerCircuit) cooling(now time.Time) (time.Time, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coolUntil, c.model, now.Before(c.coolUntil)
}

// trip records a 429. A later deadline from the same provider wins.
func (c *providerCircuit) trip(rl *RateLimitError, now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := now.Add(rl.RetryAfter); until.After(c.coolUntil) {
		c.coolUntil = until
		c.model = rl.Model
	}
	return c.coolUntil
}

// Fallback tries oracles in order, skipping providers that are cooling down
// after a 429. Model names are provider specific, so only the first oracle
// receives the request's Model; the others use their own default.
type Fallback struct {
	oracles  []Oracle
	circuits []*providerCircuit
	logger   *slog.Logger
	now      func() time.Time
}

// NewFallback creates a Fallback from an ordered list of oracles and their
// provider names.
func NewFallback(oracles []Oracle, names []string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	circuits := make([]*providerCircuit, len(oracles))
	for i := range circuits {
		name := fmt.Sprintf("oracle-%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		circuits[i] = &providerCircuit{name: name}
	}
	return &Fallback{
		oracles:  oracles,
		circuits: circuits,
		logger:   logger,
		now:      time.Now,
	}
}

func (f *Fallback) Invoke(ctx context.Context, req Request) (string, error) {
	now := f.now()
	var lastErr error
	allRateLimited := true
	var earliestReset time.Time

	for i, o := range f.oracles {
		c := f.circuits[i]
		if resetAt, model, cooling := c.cooling(now); cooling {
			f.logger.Warn("oracle.fallback.skip", "provider", c.name, "model", model, "until", resetAt.Format(time.RFC3339))
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}

		attempt := req
		if i > 0 {
			attempt.Model = ""
		}

		out, err := o.Invoke(ctx, attempt)
		if err == nil {
			return out, nil
		}

		f.logger.Warn("oracle.fallback.failed", "provider", c.name, "error", err)
		lastErr = err

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			resetAt := c.trip(rlErr, now)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
		} else {
			allRateLimited = false
		}
	}

	if lastErr == nil || allRateLimited {
		retryAfter := earliestReset.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return "", NewRateLimitError(f.providers(), req.Model, errors.New("all oracles rate limited"), retryAfter)
	}

	return "", fmt.Errorf("all oracles failed: %w", lastErr)
}

// providers names the chain, e.g. "gemini,claude"
func (f *Fallback) providers() string {
	names := make([]string, len(f.circuits))
	for i, c := range f.circuits {
		names[i] = c.name
	}
	return strings.Join(names, ",")
}
