package core_domain

import "context"

// PostRepository is the persistent owner of PostRecords.
// Every method returns copies; mutating a returned record never affects the store.
type PostRepository interface {
	Enqueue(ctx context.Context, post *PostRecord) (*PostRecord, error)
	Get(ctx context.Context, id string) (*PostRecord, error)
	// List returns records in insertion order. An empty status lists everything.
	List(ctx context.Context, status PostStatus) ([]*PostRecord, error)
	UpdateStatus(ctx context.Context, id string, status PostStatus) (*PostRecord, error)
	AppendFeedback(ctx context.Context, id string, note string) (*PostRecord, error)
	// RecordResult overwrites any previous outcome for the platform.
	RecordResult(ctx context.Context, id string, platform string, outcome DispatchOutcome) error
	AttachNotification(ctx context.Context, id string, ref string) error
}
