package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MockPublisher simulates a platform. Used for dry runs and tests.
type MockPublisher struct {
	logger         *slog.Logger
	name           string
	FailPublish    bool          // simulate a vendor rejection
	SimulatedDelay time.Duration // simulate network latency
}

func NewMockPublisher(logger *slog.Logger, name string, failPublish bool, delay time.Duration) *MockPublisher {
	return &MockPublisher{
		logger:         logger.With("provider", "mock", "platform", name),
		name:           name,
		FailPublish:    failPublish,
		SimulatedDelay: delay,
	}
}

func (p *MockPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	p.logger.InfoContext(ctx, "MockPublisher: Publish called", "post_id", req.PostID, "text_length", len(req.Text), "media", len(req.Media))

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.FailPublish {
		p.logger.WarnContext(ctx, "mock publisher simulated failure", "post_id", req.PostID)
		return nil, errors.New("mock publisher simulated failure")
	}

	id := "mock-" + uuid.NewString()
	return &PublishResult{RemoteID: id, URL: "https://example.invalid/" + p.name + "/" + id}, nil
}

func (p *MockPublisher) GetName() string {
	return "mock-" + p.name
}
