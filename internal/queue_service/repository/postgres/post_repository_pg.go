package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ondepub/autopost/internal/core_domain"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by *pgxpool.Pool and by pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postColumns = `id, status, content, platforms, account, source, feedback, created_at, decided_at, results, notification_ref`

// PgPostRepository keeps the queue in a posts table. Status transitions rely on a
// conditional UPDATE so concurrent approvals across processes have a single winner.
type PgPostRepository struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewPgPostRepository(db DBTX, logger *slog.Logger) *PgPostRepository {
	return &PgPostRepository{
		db:     db,
		logger: logger.With("component", "post_repository_pg"),
		now:    time.Now,
	}
}

// timestamp reads the clock at the precision TIMESTAMPTZ keeps, so returned records equal what a later Get scans.
func (r *PgPostRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// EnsureSchema creates the posts table when missing.
func (r *PgPostRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply posts schema: %w", err)
	}
	return nil
}

func scanPost(row pgx.Row) (*core_domain.PostRecord, error) {
	var (
		p         core_domain.PostRecord
		status    string
		content   []byte
		results   []byte
		decidedAt *time.Time
	)
	err := row.Scan(&p.ID, &status, &content, &p.Platforms, &p.Account, &p.Source, &p.Feedback,
		&p.CreatedAt, &decidedAt, &results, &p.NotificationRef)
	if err != nil {
		return nil, err
	}
	p.Status = core_domain.PostStatus(status)
	if err := json.Unmarshal(content, &p.Content); err != nil {
		return nil, fmt.Errorf("decode content of post %s: %w", p.ID, err)
	}
	p.Results = map[string]core_domain.DispatchOutcome{}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &p.Results); err != nil {
			return nil, fmt.Errorf("decode results of post %s: %w", p.ID, err)
		}
	}
	if p.Feedback == nil {
		p.Feedback = []string{}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if decidedAt != nil {
		d := decidedAt.UTC()
		p.DecidedAt = &d
	}
	return &p, nil
}

func (r *PgPostRepository) Enqueue(ctx context.Context, post *core_domain.PostRecord) (*core_domain.PostRecord, error) {
	if post == nil {
		return nil, &core_domain.ValidationError{Field: "post", Reason: "is required"}
	}
	record := post.Clone()
	if err := core_domain.NormalizeNewPost(record, r.timestamp()); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	content, err := json.Marshal(record.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	query := `
		INSERT INTO posts (id, status, content, platforms, account, source, feedback, created_at, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}'::jsonb)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, record.ID, string(record.Status), content, record.Platforms,
		record.Account, record.Source, record.Feedback, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &core_domain.ValidationError{Field: "id", Reason: fmt.Sprintf("%q already exists", record.ID)}
	}
	r.logger.InfoContext(ctx, "Post enqueued", "post_id", record.ID, "platforms", record.Platforms)
	return record, nil
}

func (r *PgPostRepository) Get(ctx context.Context, id string) (*core_domain.PostRecord, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	p, err := scanPost(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core_domain.NotFound(id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PgPostRepository) List(ctx context.Context, status core_domain.PostStatus) ([]*core_domain.PostRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY seq ASC`)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE status = $1 ORDER BY seq ASC`, string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []*core_domain.PostRecord{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PgPostRepository) UpdateStatus(ctx context.Context, id string, status core_domain.PostStatus) (*core_domain.PostRecord, error) {
	if !status.IsDecided() {
		return nil, &core_domain.ValidationError{Field: "status", Reason: "must be approved or rejected"}
	}
	query := `
		UPDATE posts SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + postColumns
	p, err := scanPost(r.db.QueryRow(ctx, query, id, string(status), r.timestamp()))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, core_domain.InvalidTransition(id, current.Status, status)
}

func (r *PgPostRepository) AppendFeedback(ctx context.Context, id string, note string) (*core_domain.PostRecord, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, &core_domain.ValidationError{Field: "feedback", Reason: "must not be empty"}
	}
	query := `UPDATE posts SET feedback = array_append(feedback, $2) WHERE id = $1 RETURNING ` + postColumns
	p, err := scanPost(r.db.QueryRow(ctx, query, id, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core_domain.NotFound(id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PgPostRepository) RecordResult(ctx context.Context, id string, platform string, outcome core_domain.DispatchOutcome) error {
	if platform == "" {
		return &core_domain.ValidationError{Field: "platform", Reason: "is required"}
	}
	if outcome.AttemptedAt.IsZero() {
		outcome.AttemptedAt = r.timestamp()
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	query := `
		UPDATE posts
		SET results = COALESCE(results, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb)
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, platform, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core_domain.NotFound(id)
	}
	return nil
}

func (r *PgPostRepository) AttachNotification(ctx context.Context, id string, ref string) error {
	tag, err := r.db.Exec(ctx, `UPDATE posts SET notification_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core_domain.NotFound(id)
	}
	return nil
}

var _ core_domain.PostRepository = (*PgPostRepository)(nil)
