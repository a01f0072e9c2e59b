package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/ondepub/autopost/internal/core_domain"
)

// queueDocument is the on-disk layout of the queue file.
type queueDocument struct {
	Items []*core_domain.PostRecord `json:"items"`
}

// lockRetry is how often a blocked caller retries the queue file lock.
const lockRetry = 10 * time.Millisecond

// PostRepository stores the queue as a single JSON document.
// Every mutation is a load, mutate, write-temp, fsync, rename sequence. mu serialises callers in
// this process; the advisory lock on <path>.lock serialises processes sharing the file, such as
// the CLI and a running service. The lock sits on a sidecar file because rename replaces the queue file.
type PostRepository struct {
	path   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option customises a PostRepository.
type Option func(*PostRepository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *PostRepository) { r.now = now }
}

// WithIDGenerator overrides id assignment.
func WithIDGenerator(gen func() string) Option {
	return func(r *PostRepository) { r.newID = gen }
}

// NewPostRepository creates a repository backed by the file at path. The file need not exist yet.
func NewPostRepository(path string, logger *slog.Logger, opts ...Option) *PostRepository {
	r := &PostRepository{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger.With("repository", "jsonfile", "path", path),
		now:    func() time.Time { return time.Now().UTC().Round(0) },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the queue file location.
func (r *PostRepository) Path() string { return r.path }

func (r *PostRepository) load() (*queueDocument, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &queueDocument{Items: []*core_domain.PostRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	doc := &queueDocument{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode queue file: %w", err)
		}
	}
	for _, item := range doc.Items {
		if item.Feedback == nil {
			item.Feedback = []string{}
		}
		if item.Results == nil {
			item.Results = map[string]core_domain.DispatchOutcome{}
		}
	}
	if doc.Items == nil {
		doc.Items = []*core_domain.PostRecord{}
	}
	return doc, nil
}

func (r *PostRepository) write(doc *queueDocument) (err error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue file: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp queue file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err = os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

// update is the only write path. fn mutates the loaded document; when it fails the file is not touched.
func (r *PostRepository) update(ctx context.Context, fn func(doc *queueDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.write(doc)
}

func (r *PostRepository) view(ctx context.Context, fn func(doc *queueDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// acquire takes the cross-process lock, exclusive for writers and shared for readers.
func (r *PostRepository) acquire(ctx context.Context, exclusive bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = r.lock.TryLockContext(ctx, lockRetry)
	} else {
		locked, err = r.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("lock queue file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock queue file: %s is held by another process", r.lock.Path())
	}
	return func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("Failed to release queue file lock", "error", err)
		}
	}, nil
}

func find(doc *queueDocument, id string) *core_domain.PostRecord {
	for _, item := range doc.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (r *PostRepository) Enqueue(ctx context.Context, post *core_domain.PostRecord) (*core_domain.PostRecord, error) {
	if post == nil {
		return nil, &core_domain.ValidationError{Field: "post", Reason: "is required"}
	}
	record := post.Clone()
	if err := core_domain.NormalizeNewPost(record, r.now()); err != nil {
		return nil, err
	}
	var stored *core_domain.PostRecord
	err := r.update(ctx, func(doc *queueDocument) error {
		if record.ID == "" {
			record.ID = r.newID()
		}
		if find(doc, record.ID) != nil {
			return &core_domain.ValidationError{Field: "id", Reason: fmt.Sprintf("%q already exists", record.ID)}
		}
		doc.Items = append(doc.Items, record)
		stored = record.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "Post enqueued", "post_id", stored.ID, "platforms", stored.Platforms)
	return stored, nil
}

func (r *PostRepository) Get(ctx context.Context, id string) (*core_domain.PostRecord, error) {
	var out *core_domain.PostRecord
	err := r.view(ctx, func(doc *queueDocument) error {
		item := find(doc, id)
		if item == nil {
			return core_domain.NotFound(id)
		}
		out = item.Clone()
		return nil
	})
	return out, err
}

func (r *PostRepository) List(ctx context.Context, status core_domain.PostStatus) ([]*core_domain.PostRecord, error) {
	out := []*core_domain.PostRecord{}
	err := r.view(ctx, func(doc *queueDocument) error {
		for _, item := range doc.Items {
			if status == "" || item.Status == status {
				out = append(out, item.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostRepository) UpdateStatus(ctx context.Context, id string, status core_domain.PostStatus) (*core_domain.PostRecord, error) {
	var out *core_domain.PostRecord
	err := r.update(ctx, func(doc *queueDocument) error {
		item := find(doc, id)
		if item == nil {
			return core_domain.NotFound(id)
		}
		if err := item.Transition(status, r.now()); err != nil {
			return err
		}
		out = item.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostRepository) AppendFeedback(ctx context.Context, id string, note string) (*core_domain.PostRecord, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, &core_domain.ValidationError{Field: "feedback", Reason: "must not be empty"}
	}
	var out *core_domain.PostRecord
	err := r.update(ctx, func(doc *queueDocument) error {
		item := find(doc, id)
		if item == nil {
			return core_domain.NotFound(id)
		}
		item.Feedback = append(item.Feedback, note)
		out = item.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostRepository) RecordResult(ctx context.Context, id string, platform string, outcome core_domain.DispatchOutcome) error {
	if platform == "" {
		return &core_domain.ValidationError{Field: "platform", Reason: "is required"}
	}
	if outcome.AttemptedAt.IsZero() {
		outcome.AttemptedAt = r.now()
	}
	return r.update(ctx, func(doc *queueDocument) error {
		item := find(doc, id)
		if item == nil {
			return core_domain.NotFound(id)
		}
		item.Results[platform] = outcome
		return nil
	})
}

func (r *PostRepository) AttachNotification(ctx context.Context, id string, ref string) error {
	return r.update(ctx, func(doc *queueDocument) error {
		item := find(doc, id)
		if item == nil {
			return core_domain.NotFound(id)
		}
		item.NotificationRef = ref
		return nil
	})
}

var _ core_domain.PostRepository = (*PostRepository)(nil)
