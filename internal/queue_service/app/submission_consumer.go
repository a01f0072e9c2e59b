package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/messagebroker"
)

// Submitter accepts new content for the queue.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*core_domain.PostRecord, error)
}

// SubmissionConsumer feeds posts.submit messages from content generators into the queue.
type SubmissionConsumer struct {
	submitter  Submitter
	natsClient messagebroker.NATSClient
	logger     *slog.Logger
}

func NewSubmissionConsumer(submitter Submitter, natsClient messagebroker.NATSClient, logger *slog.Logger) *SubmissionConsumer {
	return &SubmissionConsumer{
		submitter:  submitter,
		natsClient: natsClient,
		logger:     logger.With("component", "submission_consumer"),
	}
}

// Start subscribes to posts.submit in the shared queue group. Messages arrive on NATS goroutines.
func (c *SubmissionConsumer) Start(ctx context.Context) (messagebroker.Subscription, error) {
	return c.natsClient.Subscribe(ctx, SubjectPostSubmit, SubmitQueueGroup, func(msg messagebroker.Message) {
		c.HandleSubmission(ctx, msg.Subject(), msg.Data())
	})
}

// HandleSubmission decodes one submission. Malformed or invalid payloads are logged and dropped.
func (c *SubmissionConsumer) HandleSubmission(ctx context.Context, subject string, data []byte) {
	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		natsSubmissionsReceivedCounter.WithLabelValues(subject, "malformed").Inc()
		c.logger.ErrorContext(ctx, "Failed to unmarshal post submission", "subject", subject, "error", err, "data_len", len(data))
		return
	}

	post, err := c.submitter.Submit(ctx, req)
	if err != nil {
		natsSubmissionsReceivedCounter.WithLabelValues(subject, "rejected").Inc()
		c.logger.WarnContext(ctx, "Post submission rejected", "subject", subject, "source", req.Source, "error", err)
		return
	}
	natsSubmissionsReceivedCounter.WithLabelValues(subject, "accepted").Inc()
	c.logger.InfoContext(ctx, "Post submission accepted", "subject", subject, "post_id", post.ID)
}
