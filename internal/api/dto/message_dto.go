package dto

import (
	"github.com/learnhub/messaging-service/internal/domain"
)

// AttachmentPayload is attachment metadata in requests and responses.
// The file itself lives in external storage under StorageKey.
type AttachmentPayload struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// AppendMessageRequest payload.
type AppendMessageRequest struct {
	Text        *string             `json:"text"`
	Attachments []AttachmentPayload `json:"attachments"`
}

// MessageResponse represents one message of a thread.
type MessageResponse struct {
	ID          string              `json:"id"`
	ThreadID    string              `json:"thread_id"`
	FromID      string              `json:"from_id"`
	Text        *string             `json:"text"`
	Attachments []AttachmentPayload `json:"attachments"`
	AtMs        int64               `json:"at_ms"`
	Seq         int64               `json:"seq"`
}

// NewMessageResponse renders a message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	attachments := make([]AttachmentPayload, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, AttachmentPayload{
			ID:         a.ID,
			StorageKey: a.StorageKey,
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.SizeBytes,
		})
	}
	return MessageResponse{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		FromID:      m.FromID,
		Text:        m.Text,
		Attachments: attachments,
		AtMs:        m.AtMs,
		Seq:         m.Seq,
	}
}

// NewMessageListResponse renders an ordered message log.
func NewMessageListResponse(msgs []domain.Message) []MessageResponse {
	items := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, NewMessageResponse(&msgs[i]))
	}
	return items
}
