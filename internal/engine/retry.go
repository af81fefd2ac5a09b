package engine

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/fernlabs/streamd/internal/provider"
)

const (
	maxRetries       = 3
	retryInitialWait = 2 * time.Second
	retryMaxWait     = 30 * time.Second
)

// streamWithRetry wraps the opening model call with exponential backoff for
// retryable errors. Continuations never retry; the round deadline owns that
// time budget.
func (s *session) streamWithRetry(req provider.TurnRequest, ev provider.TurnEvents) (provider.Turn, error) {
	wait := retryInitialWait

	for attempt := 0; ; attempt++ {
		turn, err := s.eng.Anthropic.StreamTurn(s.ctx, req, ev)
		if err == nil {
			return turn, nil
		}
		if attempt >= maxRetries {
			return provider.Turn{}, err
		}

		retryWait := wait
		var apiErr *provider.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.IsRetryable():
			// Prefer the server's Retry-After; it knows when capacity
			// returns, so it is not capped.
			if apiErr.RetryAfterMs > 0 {
				retryWait = time.Duration(apiErr.RetryAfterMs) * time.Millisecond
			} else if retryWait > retryMaxWait {
				retryWait = retryMaxWait
			}
		case isStreamError(err):
			// Flush stale pooled connections so the retry dials fresh.
			// The Transport only auto-retries stale connections for
			// idempotent methods, not POST.
			provider.CloseIdleConnections()
			if retryWait > retryMaxWait {
				retryWait = retryMaxWait
			}
		default:
			return provider.Turn{}, err
		}

		s.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("wait", retryWait).
			Msg("retrying model call")

		if !s.sleep(retryWait) {
			return provider.Turn{}, s.ctx.Err()
		}

		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}
}

// isStreamError returns true for transient stream/connection failures worth
// retrying.
func isStreamError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "HTTP/1.x transport connection broken") ||
		strings.Contains(msg, "malformed chunked encoding") ||
		strings.Contains(msg, "reading stream:")
}
