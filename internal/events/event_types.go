package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventThreadStarted   EventType = "thread_started"
	EventMessageAppended EventType = "message_appended"
	EventThreadRead      EventType = "thread_read"
)

// Event represents a domain event emitted by the messaging service.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	ThreadID     string      `json:"thread_id"`
	Actor        string      `json:"actor"`
	Participants []string    `json:"participants"`
	Timestamp    time.Time   `json:"timestamp"`
	Payload      interface{} `json:"payload"`
}

// ThreadStartedPayload payload.
type ThreadStartedPayload struct {
	TeacherID string  `json:"teacher_id"`
	StudentID string  `json:"student_id"`
	CourseID  *string `json:"course_id,omitempty"`
}

// MessageAppendedPayload payload.
type MessageAppendedPayload struct {
	MessageID       string `json:"message_id"`
	Seq             int64  `json:"seq"`
	AtMs            int64  `json:"at_ms"`
	Preview         string `json:"preview"`
	AttachmentCount int    `json:"attachment_count"`
}

// ThreadReadPayload payload.
type ThreadReadPayload struct {
	UserID string `json:"user_id"`
	AtMs   int64  `json:"at_ms"`
}
