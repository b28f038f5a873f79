package dto

import (
	"github.com/learnhub/messaging-service/internal/domain"
)

// StartThreadRequest payload.
type StartThreadRequest struct {
	TeacherID   string  `json:"teacher_id"`
	TeacherName string  `json:"teacher_name"`
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	CourseID    *string `json:"course_id"`
	CourseTitle *string `json:"course_title"`
}

// MarkReadRequest payload. AtMs defaults to the server clock.
type MarkReadRequest struct {
	AtMs int64 `json:"at_ms"`
}

// ThreadResponse is a thread as seen by one of its participants.
type ThreadResponse struct {
	ID           string           `json:"id"`
	TeacherID    string           `json:"teacher_id"`
	TeacherName  string           `json:"teacher_name"`
	StudentID    string           `json:"student_id"`
	StudentName  string           `json:"student_name"`
	Participants []string         `json:"participants"`
	CourseID     *string          `json:"course_id"`
	CourseTitle  *string          `json:"course_title"`
	CreatedAtMs  int64            `json:"created_at_ms"`
	LastAtMs     int64            `json:"last_at_ms"`
	LastFromID   string           `json:"last_from_id"`
	LastText     *string          `json:"last_text"`
	LastReadAtMs map[string]int64 `json:"last_read_at_ms"`
	HasUnread    bool             `json:"has_unread"`
}

// NewThreadResponse renders a thread for viewerID.
func NewThreadResponse(t *domain.Thread, viewerID string) ThreadResponse {
	readAt := t.LastReadAtMs
	if readAt == nil {
		readAt = map[string]int64{}
	}
	return ThreadResponse{
		ID:           t.ID,
		TeacherID:    t.TeacherID,
		TeacherName:  t.TeacherName,
		StudentID:    t.StudentID,
		StudentName:  t.StudentName,
		Participants: t.Participants,
		CourseID:     t.CourseID,
		CourseTitle:  t.CourseTitle,
		CreatedAtMs:  t.CreatedAtMs,
		LastAtMs:     t.LastAtMs,
		LastFromID:   t.LastFromID,
		LastText:     t.LastText,
		LastReadAtMs: readAt,
		HasUnread:    domain.HasUnread(t, viewerID),
	}
}

// NewInboxResponse renders an inbox snapshot for viewerID, keeping order.
func NewInboxResponse(threads []domain.Thread, viewerID string) []ThreadResponse {
	items := make([]ThreadResponse, 0, len(threads))
	for i := range threads {
		items = append(items, NewThreadResponse(&threads[i], viewerID))
	}
	return items
}
