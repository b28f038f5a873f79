//go:build integration

package repository

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/learnhub/messaging-service/internal/domain"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithInitScripts(filepath.Join("..", "..", "migrations", "001_threads.sql")),
		postgres.WithDatabase("messaging"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start container: %s", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("failed to obtain connection string: %s", err)
	}
	pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to postgres container: %s", err)
	}

	code := m.Run()

	pool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

func pgThread(id string) *domain.Thread {
	course := "c1"
	return &domain.Thread{
		ID:           id,
		TeacherID:    "t1",
		TeacherName:  "Ada",
		StudentID:    "s1",
		StudentName:  "Bo",
		Participants: []string{"t1", "s1"},
		CourseID:     &course,
		CreatedAtMs:  1000,
		LastAtMs:     1000,
	}
}

func TestPostgresCreateIfAbsentConcurrent(t *testing.T) {
	repo := NewThreadRepository(pool)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CreateIfAbsent(ctx, pgThread("th_concurrent"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	got, err := repo.GetByID(ctx, "th_concurrent")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.TeacherName)
	assert.Equal(t, "c1", *got.CourseID)
	assert.Empty(t, got.LastReadAtMs)
}

func TestPostgresAppendAndSummary(t *testing.T) {
	threads := NewThreadRepository(pool)
	msgs := NewThreadMessageRepository(pool)
	ctx := context.Background()

	_, err := threads.CreateIfAbsent(ctx, pgThread("th_log"))
	require.NoError(t, err)

	text := "hello"
	first := &domain.Message{ThreadID: "th_log", FromID: "t1", Text: &text, AtMs: 2000}
	require.NoError(t, msgs.Append(ctx, first))
	second := &domain.Message{
		ThreadID: "th_log",
		FromID:   "s1",
		AtMs:     2000,
		Attachments: []domain.Attachment{
			{ID: "a1", StorageKey: "k/a1", FileName: "a.pdf", MimeType: "application/pdf", SizeBytes: 42},
		},
	}
	require.NoError(t, msgs.Append(ctx, second))
	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)
	assert.NotEmpty(t, first.ID)

	list, err := msgs.ListByThread(ctx, "th_log")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "a.pdf", list[1].Attachments[0].FileName)

	require.NoError(t, threads.UpdateSummary(ctx, "th_log", domain.ThreadSummary{AtMs: 2000, FromID: "s1", Text: "📎 1 attachment", Seq: 2}))
	require.NoError(t, threads.UpdateSummary(ctx, "th_log", domain.ThreadSummary{AtMs: 2000, FromID: "t1", Text: "hello", Seq: 1}))

	got, err := threads.GetByID(ctx, "th_log")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.LastFromID)
	assert.EqualValues(t, 2, got.LastSeq)

	stale := &domain.Message{ThreadID: "th_log", FromID: "t1", Text: &text, AtMs: 1500}
	require.NoError(t, msgs.Append(ctx, stale))
	assert.EqualValues(t, 2000, stale.AtMs)
	assert.EqualValues(t, 3, stale.Seq)

	assert.ErrorIs(t, msgs.Append(ctx, &domain.Message{ThreadID: "th_none", FromID: "t1", Text: &text}), ErrNotFound)
}

func TestPostgresSetLastReadMonotonic(t *testing.T) {
	repo := NewThreadRepository(pool)
	ctx := context.Background()
	_, err := repo.CreateIfAbsent(ctx, pgThread("th_read"))
	require.NoError(t, err)

	advanced, err := repo.SetLastRead(ctx, "th_read", "s1", 500)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = repo.SetLastRead(ctx, "th_read", "s1", 100)
	require.NoError(t, err)
	assert.False(t, advanced)

	advanced, err = repo.SetLastRead(ctx, "th_read", "t1", 50)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err := repo.GetByID(ctx, "th_read")
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.LastReadAt("s1"))
	assert.EqualValues(t, 50, got.LastReadAt("t1"))

	_, err = repo.SetLastRead(ctx, "th_none", "s1", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	inbox, err := repo.ListByParticipant(ctx, "t1")
	require.NoError(t, err)
	assert.NotEmpty(t, inbox)
}
