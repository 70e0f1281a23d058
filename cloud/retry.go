package cloud

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidMaxAttempts is returned when a retry is configured with no
// attempts.
var ErrInvalidMaxAttempts = errors.New("max attempts must be greater than 0")

// RetryingPublisher retries failed publishes with exponential backoff.
type RetryingPublisher struct {
	next        Publisher
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

var _ Publisher = (*RetryingPublisher)(nil)

// NewRetryingPublisher wraps next. The delay before retry n is
// baseDelay * 2^(n-1).
func NewRetryingPublisher(next Publisher, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) (*RetryingPublisher, error) {
	if maxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingPublisher{
		next:        next,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
	}, nil
}

// Publish implements Publisher. It returns the error of the last attempt.
func (p *RetryingPublisher) Publish(ctx context.Context, changes ...Change) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.next.Publish(ctx, changes...)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.Debug("publish succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		p.logger.Debug("publish failed, will retry", "attempt", attempt, "maxAttempts", p.maxAttempts, "err", lastErr)

		if attempt == p.maxAttempts {
			break
		}

		delay := p.baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
