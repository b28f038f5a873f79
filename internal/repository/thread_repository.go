package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/messaging-service/internal/domain"
)

type threadRepository struct {
	pool *pgxpool.Pool
}

// NewThreadRepository instantiates the postgres thread repository.
func NewThreadRepository(pool *pgxpool.Pool) ThreadRepository {
	return &threadRepository{pool: pool}
}

const threadColumns = `id, teacher_id, teacher_name, student_id, student_name, participants,
               course_id, course_title, created_at_ms, last_at_ms, last_from_id, last_text,
               last_seq, last_read_at_ms`

func (r *threadRepository) GetByID(ctx context.Context, id string) (*domain.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id=$1`
	thread, err := scanThread(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return thread, err
}

func (r *threadRepository) CreateIfAbsent(ctx context.Context, thread *domain.Thread) (bool, error) {
	const query = `
        INSERT INTO threads (id, teacher_id, teacher_name, student_id, student_name, participants,
            course_id, course_title, created_at_ms, last_at_ms, last_from_id, last_text, last_seq, last_read_at_ms)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'{}'::jsonb)
        ON CONFLICT (id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		thread.ID,
		thread.TeacherID,
		thread.TeacherName,
		thread.StudentID,
		thread.StudentName,
		thread.Participants,
		thread.CourseID,
		thread.CourseTitle,
		thread.CreatedAtMs,
		thread.LastAtMs,
		thread.LastFromID,
		thread.LastText,
		thread.LastSeq,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *threadRepository) UpdateSummary(ctx context.Context, id string, summary domain.ThreadSummary) error {
	const query = `
        UPDATE threads SET last_at_ms=$2, last_from_id=$3, last_text=$4, last_seq=$5
        WHERE id=$1 AND last_seq < $5`
	cmd, err := r.pool.Exec(ctx, query, id, summary.AtMs, summary.FromID, summary.Text, summary.Seq)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *threadRepository) SetLastRead(ctx context.Context, id, userID string, atMs int64) (bool, error) {
	const query = `
        UPDATE threads SET last_read_at_ms = last_read_at_ms || jsonb_build_object($2::text, $3::bigint)
        WHERE id=$1 AND COALESCE((last_read_at_ms ->> $2::text)::bigint, -1) < $3`
	cmd, err := r.pool.Exec(ctx, query, id, userID, atMs)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

func (r *threadRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE $1 = ANY(participants)`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *thread)
	}
	return result, rows.Err()
}

func (r *threadRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM threads WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func scanThread(row pgx.Row) (*domain.Thread, error) {
	var thread domain.Thread
	if err := row.Scan(
		&thread.ID,
		&thread.TeacherID,
		&thread.TeacherName,
		&thread.StudentID,
		&thread.StudentName,
		&thread.Participants,
		&thread.CourseID,
		&thread.CourseTitle,
		&thread.CreatedAtMs,
		&thread.LastAtMs,
		&thread.LastFromID,
		&thread.LastText,
		&thread.LastSeq,
		&thread.LastReadAtMs,
	); err != nil {
		return nil, err
	}
	if thread.LastReadAtMs == nil {
		thread.LastReadAtMs = map[string]int64{}
	}
	return &thread, nil
}
