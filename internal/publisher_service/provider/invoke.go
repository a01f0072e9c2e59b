package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ondepub/autopost/internal/core_domain"
)

type invokeResult struct {
	res *PublishResult
	err error
}

// Invoke calls p with a deadline of timeout and normalizes every failure, including
// panics and deadline expiry, into a *core_domain.PublishError.
// A publisher that ignores its context is abandoned once the deadline passes.
func Invoke(ctx context.Context, p Publisher, req PublishRequest, timeout time.Duration) (*PublishResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := prometheus.NewTimer(publisherRequestDurationHist.WithLabelValues(p.GetName()))
	defer timer.ObserveDuration()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("publisher panicked: %v", r)}
				publisherRequestsCounter.WithLabelValues(p.GetName(), "panic").Inc()
			}
		}()
		res, err := p.Publish(ctx, req)
		done <- invokeResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			publisherRequestsCounter.WithLabelValues(p.GetName(), "error").Inc()
			return nil, normalize(req.Platform, out.err)
		}
		if out.res == nil {
			publisherRequestsCounter.WithLabelValues(p.GetName(), "error").Inc()
			return nil, &core_domain.PublishError{Platform: req.Platform, Reason: "publisher returned no result"}
		}
		publisherRequestsCounter.WithLabelValues(p.GetName(), "success").Inc()
		return out.res, nil
	case <-ctx.Done():
		publisherRequestsCounter.WithLabelValues(p.GetName(), "timeout").Inc()
		return nil, normalize(req.Platform, ctx.Err())
	}
}

func normalize(platform string, err error) error {
	var pe *core_domain.PublishError
	if errors.As(err, &pe) {
		if pe.Platform == "" {
			return &core_domain.PublishError{Platform: platform, Reason: pe.Reason}
		}
		return pe
	}
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timed out waiting for platform response"
	}
	return &core_domain.PublishError{Platform: platform, Reason: reason}
}
