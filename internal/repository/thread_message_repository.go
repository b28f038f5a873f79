package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/messaging-service/internal/domain"
)

type threadMessageRepository struct {
	pool *pgxpool.Pool
}

// NewThreadMessageRepository builds the postgres message log.
func NewThreadMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &threadMessageRepository{pool: pool}
}

type attachmentRecord struct {
	ID         string `json:"id" bson:"id"`
	StorageKey string `json:"storage_key" bson:"storageKey"`
	FileName   string `json:"file_name" bson:"fileName"`
	MimeType   string `json:"mime_type" bson:"mimeType"`
	SizeBytes  int64  `json:"size_bytes" bson:"sizeBytes"`
}

func toAttachmentRecords(in []domain.Attachment) []attachmentRecord {
	out := make([]attachmentRecord, 0, len(in))
	for _, a := range in {
		out = append(out, attachmentRecord(a))
	}
	return out
}

func fromAttachmentRecords(in []attachmentRecord) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Attachment(a))
	}
	return out
}

// Append bumps the thread's message counter and clock and inserts the message
// in one transaction; the row lock on the thread serializes appends per thread.
func (r *threadMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	attachments, err := json.Marshal(toAttachmentRecords(msg.Attachments))
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const bump = `
        UPDATE threads
        SET message_seq = message_seq + 1,
            message_at_ms = GREATEST(message_at_ms, $2)
        WHERE id=$1
        RETURNING message_seq, message_at_ms`
	var seq, atMs int64
	err = tx.QueryRow(ctx, bump, msg.ThreadID, msg.AtMs).Scan(&seq, &atMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	const insert = `
        INSERT INTO thread_messages (thread_id, seq, from_id, text, attachments, at_ms)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id::text`
	var id string
	if err := tx.QueryRow(ctx, insert,
		msg.ThreadID,
		seq,
		msg.FromID,
		msg.Text,
		attachments,
		atMs,
	).Scan(&id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	msg.ID = id
	msg.Seq = seq
	msg.AtMs = atMs
	return nil
}

func (r *threadMessageRepository) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	const query = `
        SELECT id::text, thread_id, seq, from_id, text, attachments, at_ms
        FROM thread_messages WHERE thread_id=$1 ORDER BY at_ms ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var (
			msg         domain.Message
			attachments []attachmentRecord
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Seq,
			&msg.FromID,
			&msg.Text,
			&attachments,
			&msg.AtMs,
		); err != nil {
			return nil, err
		}
		msg.Attachments = fromAttachmentRecords(attachments)
		result = append(result, msg)
	}
	return result, rows.Err()
}
