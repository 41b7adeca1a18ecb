package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/screening-bot/internal/interview"
)

// Dispatcher receives converted events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev interview.Event)
}

// UpdateSource is the polling half of the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller long-polls getUpdates and dispatches every message it receives.
type Poller struct {
	source     UpdateSource
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	offset     int64
}

// NewPoller creates a poller that holds each request open for timeout.
func NewPoller(source UpdateSource, dispatcher Dispatcher, timeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("telegram polling started", "timeout", p.timeout)
	backoff := p.minBackoff

	for {
		updates, err := p.source.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("telegram polling stopped")
				return nil
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = apiErr.RetryAfter
			}
			p.logger.Warn("failed to poll telegram updates", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return nil
			}
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		backoff = p.minBackoff

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			ev, ok := ToEvent(u)
			if !ok {
				p.logger.Debug("skipping update", "update_id", u.UpdateID)
				continue
			}
			p.dispatcher.Dispatch(ctx, ev)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
