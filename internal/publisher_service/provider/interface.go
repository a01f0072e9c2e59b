package provider

import (
	"context"

	"github.com/ondepub/autopost/internal/core_domain"
)

// PublishRequest is the platform-neutral payload handed to a Publisher.
type PublishRequest struct {
	PostID   string
	Platform string // identifier as written on the record, e.g. "ig"
	Text     string
	Media    []core_domain.MediaRef
	Account  string // X account key, empty selects the default
}

// PublishResult is returned on success.
type PublishResult struct {
	RemoteID string
	URL      string
}

// Publisher posts content to one destination platform.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	GetName() string
}
