package app

import (
	"context"
	"log/slog"
	"time"
)

// ApprovedProcessor is the recovery sweep run by the poller.
type ApprovedProcessor interface {
	ProcessApproved(ctx context.Context) (int, error)
}

// RecoveryPoller periodically re-runs the approved-post sweep.
type RecoveryPoller struct {
	processor ApprovedProcessor
	interval  time.Duration
	logger    *slog.Logger
}

func NewRecoveryPoller(processor ApprovedProcessor, interval time.Duration, logger *slog.Logger) *RecoveryPoller {
	return &RecoveryPoller{
		processor: processor,
		interval:  interval,
		logger:    logger.With("component", "recovery_poller"),
	}
}

// PollOnce runs a single sweep and logs its outcome.
func (p *RecoveryPoller) PollOnce(ctx context.Context) int {
	n, err := p.processor.ProcessApproved(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Recovery sweep failed", "error", err, "dispatched", n)
		return n
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Recovery sweep dispatched posts", "dispatched", n)
	} else {
		p.logger.DebugContext(ctx, "Recovery sweep found nothing to dispatch")
	}
	return n
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive interval sweeps once and returns.
func (p *RecoveryPoller) Run(ctx context.Context) error {
	p.PollOnce(ctx)
	if p.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Recovery poller stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}
