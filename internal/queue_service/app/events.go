package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/messagebroker"
)

const (
	SubjectPostEnqueued   = "posts.enqueued"
	SubjectPostApproved   = "posts.approved"
	SubjectPostRejected   = "posts.rejected"
	SubjectPostFeedback   = "posts.feedback"
	SubjectPostDispatched = "posts.dispatched"
	SubjectPostSubmit     = "posts.submit"

	SubmitQueueGroup = "autopost"
)

// PostEvent is the payload of every outgoing posts.* event.
type PostEvent struct {
	PostID     string                                 `json:"post_id"`
	Status     core_domain.PostStatus                 `json:"status"`
	Platforms  []string                               `json:"platforms,omitempty"`
	Text       string                                 `json:"text,omitempty"`
	Feedback   string                                 `json:"feedback,omitempty"`
	Results    map[string]core_domain.DispatchOutcome `json:"results,omitempty"`
	OccurredAt time.Time                              `json:"occurred_at"`
}

// EventPublisher emits best-effort notifications. Failures are logged, never returned.
type EventPublisher struct {
	client messagebroker.NATSClient
	logger *slog.Logger
}

func NewEventPublisher(client messagebroker.NATSClient, logger *slog.Logger) *EventPublisher {
	if client == nil {
		client = messagebroker.NoopClient{}
	}
	return &EventPublisher{client: client, logger: logger.With("component", "event_publisher")}
}

func (p *EventPublisher) Publish(ctx context.Context, subject string, event PostEvent) {
	if p == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to marshal post event", "subject", subject, "post_id", event.PostID, "error", err)
		return
	}
	if err := p.client.Publish(context.WithoutCancel(ctx), subject, payload); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish post event", "subject", subject, "post_id", event.PostID, "error", err)
	}
}
