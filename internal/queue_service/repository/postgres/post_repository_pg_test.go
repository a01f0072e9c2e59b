package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/logger"
)

// sameInstant matches a time.Time argument by instant.
type sameInstant struct{ want time.Time }

func (a sameInstant) Match(v interface{}) bool {
	got, ok := v.(time.Time)
	return ok && got.Equal(a.want)
}

// jsonContains matches an encoded JSON argument holding sub.
type jsonContains struct{ sub string }

func (a jsonContains) Match(v interface{}) bool {
	b, ok := v.([]byte)
	return ok && strings.Contains(string(b), a.sub)
}

var columns = []string{"id", "status", "content", "platforms", "account", "source", "feedback", "created_at", "decided_at", "results", "notification_ref"}

func TestPgPostRepository_Enqueue(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		mockPool.ExpectExec(`INSERT INTO posts`).
			WithArgs("p1", "pending", pgxmock.AnyArg(), []string{"x", "tiktok"}, "", "agent", []string{}, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		post, err := repo.Enqueue(context.Background(), &core_domain.PostRecord{
			ID:        "p1",
			Content:   core_domain.PostContent{Text: "hello"},
			Platforms: []string{"x", "TikTok"},
			Source:    "agent",
		})
		require.NoError(t, err)
		assert.Equal(t, core_domain.StatusPending, post.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DuplicateID", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		mockPool.ExpectExec(`INSERT INTO posts`).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		_, err = repo.Enqueue(context.Background(), &core_domain.PostRecord{
			ID:        "p1",
			Content:   core_domain.PostContent{Text: "hello"},
			Platforms: []string{"x"},
		})
		assert.True(t, core_domain.IsValidation(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ValidationBeforeQuery", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		_, err = repo.Enqueue(context.Background(), &core_domain.PostRecord{Content: core_domain.PostContent{Text: "hi"}})
		assert.True(t, core_domain.IsValidation(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgPostRepository_Get(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		rows := mockPool.NewRows(columns).AddRow(
			"p1", "pending", []byte(`{"text":"hello","media":[{"ref":"a.png","type":"image"}]}`),
			[]string{"x"}, "", "", []string{"first"}, created, (*time.Time)(nil),
			[]byte(`{"x":{"success":false,"reason":"boom","attempted_at":"2026-03-01T10:05:00Z"}}`), "",
		)
		mockPool.ExpectQuery(`SELECT id, status, content, .* FROM posts WHERE id = \$1`).
			WithArgs("p1").
			WillReturnRows(rows)

		post, err := repo.Get(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, "hello", post.Content.Text)
		assert.Equal(t, core_domain.MediaImage, post.Content.Media[0].Type)
		assert.Equal(t, []string{"first"}, post.Feedback)
		assert.Nil(t, post.DecidedAt)
		assert.Equal(t, "boom", post.Results["x"].Reason)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		mockPool.ExpectQuery(`FROM posts WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, core_domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgPostRepository_List(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgPostRepository(mockPool, logger.Discard())

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := mockPool.NewRows(columns).
		AddRow("p1", "pending", []byte(`{"text":"one"}`), []string{"x"}, "", "", []string{}, created, (*time.Time)(nil), []byte(`{}`), "").
		AddRow("p2", "pending", []byte(`{"text":"two"}`), []string{"ig"}, "", "", []string{}, created, (*time.Time)(nil), []byte(`{}`), "tg:9")
	mockPool.ExpectQuery(`FROM posts WHERE status = \$1 ORDER BY seq ASC`).
		WithArgs("pending").
		WillReturnRows(rows)

	posts, err := repo.List(context.Background(), core_domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, "tg:9", posts[1].NotificationRef)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgPostRepository_UpdateStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	decided := created.Add(time.Hour)

	t.Run("PendingToApproved", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		rows := mockPool.NewRows(columns).AddRow("p1", "approved", []byte(`{"text":"hi"}`), []string{"x"}, "", "", []string{}, created, &decided, []byte(`{}`), "")
		mockPool.ExpectQuery(`UPDATE posts SET status = \$2, decided_at = \$3\s+WHERE id = \$1 AND status = 'pending'`).
			WithArgs("p1", "approved", pgxmock.AnyArg()).
			WillReturnRows(rows)

		post, err := repo.UpdateStatus(context.Background(), "p1", core_domain.StatusApproved)
		require.NoError(t, err)
		assert.Equal(t, core_domain.StatusApproved, post.Status)
		require.NotNil(t, post.DecidedAt)
		assert.True(t, decided.Equal(*post.DecidedAt))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AlreadyDecided", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		mockPool.ExpectQuery(`UPDATE posts SET status`).
			WithArgs("p1", "approved", pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)
		rows := mockPool.NewRows(columns).AddRow("p1", "rejected", []byte(`{"text":"hi"}`), []string{"x"}, "", "", []string{}, created, &decided, []byte(`{}`), "")
		mockPool.ExpectQuery(`FROM posts WHERE id = \$1`).WithArgs("p1").WillReturnRows(rows)

		_, err = repo.UpdateStatus(context.Background(), "p1", core_domain.StatusApproved)
		assert.ErrorIs(t, err, core_domain.ErrInvalidTransition)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgPostRepository(mockPool, logger.Discard())

		mockPool.ExpectQuery(`UPDATE posts SET status`).WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(`FROM posts WHERE id = \$1`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		_, err = repo.UpdateStatus(context.Background(), "missing", core_domain.StatusRejected)
		assert.ErrorIs(t, err, core_domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgPostRepository_AppendFeedback(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgPostRepository(mockPool, logger.Discard())

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := mockPool.NewRows(columns).AddRow("p1", "rejected", []byte(`{"text":"hi"}`), []string{"x"}, "", "", []string{"more emoji"}, created, &created, []byte(`{}`), "")
	mockPool.ExpectQuery(`UPDATE posts SET feedback = array_append\(feedback, \$2\)`).
		WithArgs("p1", "more emoji").
		WillReturnRows(rows)

	post, err := repo.AppendFeedback(context.Background(), "p1", "  more emoji ")
	require.NoError(t, err)
	assert.Equal(t, []string{"more emoji"}, post.Feedback)

	mockPool.ExpectQuery(`UPDATE posts SET feedback`).WithArgs("missing", "note").WillReturnError(pgx.ErrNoRows)
	_, err = repo.AppendFeedback(context.Background(), "missing", "note")
	assert.ErrorIs(t, err, core_domain.ErrNotFound)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgPostRepository_RecordResult(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgPostRepository(mockPool, logger.Discard())

	mockPool.ExpectExec(`SET results = COALESCE\(results, '\{\}'::jsonb\) \|\| jsonb_build_object\(\$2::text, \$3::jsonb\)`).
		WithArgs("p1", "x", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`SET results`).
		WithArgs("missing", "x", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.RecordResult(context.Background(), "p1", "x", core_domain.DispatchOutcome{Success: true, RemoteID: "1"})
	assert.NoError(t, err)
	err = repo.RecordResult(context.Background(), "missing", "x", core_domain.DispatchOutcome{})
	assert.ErrorIs(t, err, core_domain.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgPostRepository_AttachNotificationAndSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgPostRepository(mockPool, logger.Discard())

	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS posts`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec(`UPDATE posts SET notification_ref = \$2 WHERE id = \$1`).
		WithArgs("p1", "telegram:77").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.AttachNotification(context.Background(), "p1", "telegram:77"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgPostRepository_TimestampsKeepMicroseconds(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600)) }
	want := time.Date(2026, 3, 1, 9, 0, 0, 123456000, time.UTC)

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgPostRepository(mockPool, logger.Discard())
	repo.now = clock

	mockPool.ExpectExec(`INSERT INTO posts`).
		WithArgs("p1", "pending", pgxmock.AnyArg(), []string{"x"}, "", "", []string{}, sameInstant{want}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(`UPDATE posts SET status = \$2, decided_at = \$3`).
		WithArgs("p1", "approved", sameInstant{want}).
		WillReturnRows(mockPool.NewRows(columns).AddRow("p1", "approved", []byte(`{"text":"hi"}`), []string{"x"}, "", "", []string{}, want, &want, []byte(`{}`), ""))
	mockPool.ExpectExec(`SET results`).
		WithArgs("p1", "x", jsonContains{"09:00:00.123456Z"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	post, err := repo.Enqueue(context.Background(), &core_domain.PostRecord{
		ID:        "p1",
		Content:   core_domain.PostContent{Text: "hi"},
		Platforms: []string{"x"},
	})
	require.NoError(t, err)
	assert.True(t, want.Equal(post.CreatedAt), "returned record matches what the column stores")
	assert.Zero(t, post.CreatedAt.Nanosecond()%1000)
	assert.Equal(t, time.UTC, post.CreatedAt.Location())

	_, err = repo.UpdateStatus(context.Background(), "p1", core_domain.StatusApproved)
	require.NoError(t, err)
	require.NoError(t, repo.RecordResult(context.Background(), "p1", "x", core_domain.DispatchOutcome{Success: true}))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
