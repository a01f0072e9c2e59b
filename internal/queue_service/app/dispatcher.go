package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/publisher_service/provider"
)

const DefaultPublishTimeout = 60 * time.Second

// PublisherLookup resolves a platform identifier to a publisher.
type PublisherLookup interface {
	Lookup(platform string) (provider.Publisher, bool)
}

// Dispatcher fans an approved post out to its platforms one after another.
// A failing platform never stops the others; every outcome is written back to the repository.
type Dispatcher struct {
	repo       core_domain.PostRepository
	publishers PublisherLookup
	history    *CompletionHistory
	journal    *DispatchJournal
	events     *EventPublisher
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

type DispatcherConfig struct {
	PublishTimeout time.Duration
	Journal        *DispatchJournal
}

func NewDispatcher(repo core_domain.PostRepository, publishers PublisherLookup, history *CompletionHistory, events *EventPublisher, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Dispatcher{
		repo:       repo,
		publishers: publishers,
		history:    history,
		journal:    cfg.Journal,
		events:     events,
		timeout:    cfg.PublishTimeout,
		logger:     logger.With("component", "dispatcher"),
		now:        func() time.Time { return time.Now().UTC().Round(0) },
	}
}

// Dispatch publishes post to platforms, or to all of post.Platforms when platforms is empty.
func (d *Dispatcher) Dispatch(ctx context.Context, post *core_domain.PostRecord, platforms []string, trigger string) *DispatchSummary {
	timer := prometheus.NewTimer(dispatchDurationHist.WithLabelValues(trigger))
	defer timer.ObserveDuration()

	if len(platforms) == 0 {
		platforms = post.Platforms
	}
	summary := &DispatchSummary{
		PostID:    post.ID,
		Results:   make(map[string]core_domain.DispatchOutcome, len(platforms)),
		Succeeded: []string{},
		Failed:    []string{},
	}

	d.logger.InfoContext(ctx, "Dispatching post", "post_id", post.ID, "platforms", platforms, "trigger", trigger)
	for _, platform := range platforms {
		outcome := d.publishOne(ctx, post, platform)
		summary.Results[platform] = outcome

		if outcome.Success {
			summary.Succeeded = append(summary.Succeeded, platform)
			dispatchOutcomesCounter.WithLabelValues(platform, "success").Inc()
		} else {
			summary.Failed = append(summary.Failed, platform)
			dispatchOutcomesCounter.WithLabelValues(platform, "failure").Inc()
		}

		if err := d.repo.RecordResult(ctx, post.ID, platform, outcome); err != nil {
			d.logger.ErrorContext(ctx, "Failed to record dispatch result", "post_id", post.ID, "platform", platform, "error", err)
		}
	}
	summary.CompletedAt = d.now()

	if d.history != nil {
		d.history.Append(*summary)
	}
	if err := d.journal.Append(*summary); err != nil {
		d.logger.WarnContext(ctx, "Failed to append dispatch journal", "post_id", post.ID, "error", err)
	}
	d.events.Publish(ctx, SubjectPostDispatched, PostEvent{
		PostID:    post.ID,
		Status:    post.Status,
		Platforms: platforms,
		Results:   summary.Results,
	})
	d.logger.InfoContext(ctx, "Dispatch finished", "post_id", post.ID, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary
}

func (d *Dispatcher) publishOne(ctx context.Context, post *core_domain.PostRecord, platform string) core_domain.DispatchOutcome {
	attemptedAt := d.now()
	publisher, ok := d.publishers.Lookup(platform)
	if !ok {
		d.logger.WarnContext(ctx, "No publisher for platform", "post_id", post.ID, "platform", platform)
		return core_domain.DispatchOutcome{Success: false, Reason: "unknown platform", AttemptedAt: attemptedAt}
	}

	res, err := provider.Invoke(ctx, publisher, provider.PublishRequest{
		PostID:   post.ID,
		Platform: platform,
		Text:     post.Content.Text,
		Media:    post.Content.Media,
		Account:  post.Account,
	}, d.timeout)
	if err != nil {
		reason := err.Error()
		var pe *core_domain.PublishError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		d.logger.WarnContext(ctx, "Publish failed", "post_id", post.ID, "platform", platform, "reason", reason)
		return core_domain.DispatchOutcome{Success: false, Reason: reason, AttemptedAt: attemptedAt}
	}
	return core_domain.DispatchOutcome{Success: true, RemoteID: res.RemoteID, URL: res.URL, AttemptedAt: attemptedAt}
}
