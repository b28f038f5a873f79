package repository

import (
	"context"
	"errors"

	"github.com/learnhub/messaging-service/internal/domain"
)

// ErrNotFound is returned when the referenced thread does not exist.
var ErrNotFound = errors.New("record not found")

// ThreadRepository persists thread identity, summary and read state.
type ThreadRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Thread, error)
	// CreateIfAbsent inserts the thread unless its id already exists.
	// It reports whether this call created the record.
	CreateIfAbsent(ctx context.Context, thread *domain.Thread) (bool, error)
	// UpdateSummary applies the summary only when summary.Seq is newer than the stored one.
	UpdateSummary(ctx context.Context, id string, summary domain.ThreadSummary) error
	// SetLastRead advances the user's read mark; it never moves it backwards.
	SetLastRead(ctx context.Context, id, userID string, atMs int64) (bool, error)
	ListByParticipant(ctx context.Context, userID string) ([]domain.Thread, error)
}

// MessageRepository manages the append-only message log of threads.
type MessageRepository interface {
	// Append stores msg, assigning its ID and per-thread Seq. AtMs is raised
	// to the newest timestamp already in the thread, so ordering by AtMs and
	// by Seq always agree.
	Append(ctx context.Context, msg *domain.Message) error
	// ListByThread returns messages ordered by (AtMs, Seq) ascending.
	ListByThread(ctx context.Context, threadID string) ([]domain.Message, error)
}
