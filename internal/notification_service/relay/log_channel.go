package relay

import (
	"context"
	"log/slog"

	"github.com/ondepub/autopost/internal/core_domain"
)

// LogChannel is used when no chat client is configured. Messages go to the log and
// operators act through HTTP or the CLI.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With("chat", "log")}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) SendApproval(ctx context.Context, post *core_domain.PostRecord) (string, error) {
	c.logger.InfoContext(ctx, "Post awaiting approval", "post_id", post.ID, "platforms", post.Platforms, "preview", post.Content.Preview(approvalPreviewLength))
	return "log:" + post.ID, nil
}

func (c *LogChannel) UpdateDecision(ctx context.Context, ref string, post *core_domain.PostRecord) error {
	c.logger.InfoContext(ctx, "Post decided", "post_id", post.ID, "status", post.Status, "ref", ref)
	return nil
}

func (c *LogChannel) Notify(ctx context.Context, text string) error {
	c.logger.InfoContext(ctx, "Notification", "text", text)
	return nil
}

func (c *LogChannel) Listen(ctx context.Context, _ ActionHandler) error {
	<-ctx.Done()
	return nil
}
