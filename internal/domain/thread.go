package domain

// ParticipantRole is the fixed role a participant holds in a thread.
type ParticipantRole string

const (
	RoleTeacher ParticipantRole = "TEACHER"
	RoleStudent ParticipantRole = "STUDENT"
)

// Thread is a two-party conversation between a teacher and a student,
// optionally anchored to a course.
type Thread struct {
	ID           string
	TeacherID    string
	TeacherName  string
	StudentID    string
	StudentName  string
	Participants []string
	CourseID     *string
	CourseTitle  *string
	CreatedAtMs  int64
	LastAtMs     int64
	LastFromID   string
	LastText     *string
	// LastSeq is the sequence number of the message the summary reflects.
	LastSeq      int64
	LastReadAtMs map[string]int64
}

// ThreadSummary is the denormalized last-message view written on append.
type ThreadSummary struct {
	AtMs   int64
	FromID string
	Text   string
	Seq    int64
}

// HasParticipant reports whether userID is one of the two participants.
func (t *Thread) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return t.TeacherID == userID || t.StudentID == userID
}

// RoleOf returns the participant's role and false for outsiders.
func (t *Thread) RoleOf(userID string) (ParticipantRole, bool) {
	switch userID {
	case "":
		return "", false
	case t.TeacherID:
		return RoleTeacher, true
	case t.StudentID:
		return RoleStudent, true
	}
	return "", false
}

// Counterpart returns the id of the other participant.
func (t *Thread) Counterpart(userID string) string {
	if userID == t.TeacherID {
		return t.StudentID
	}
	return t.TeacherID
}

// LastReadAt returns the participant's last read timestamp, 0 when never read.
func (t *Thread) LastReadAt(userID string) int64 {
	if t.LastReadAtMs == nil {
		return 0
	}
	return t.LastReadAtMs[userID]
}

// ApplySummary sets the summary fields when s is newer than the current one.
func (t *Thread) ApplySummary(s ThreadSummary) bool {
	if s.Seq <= t.LastSeq {
		return false
	}
	text := s.Text
	t.LastAtMs = s.AtMs
	t.LastFromID = s.FromID
	t.LastText = &text
	t.LastSeq = s.Seq
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Participants = append([]string(nil), t.Participants...)
	if t.CourseID != nil {
		v := *t.CourseID
		cp.CourseID = &v
	}
	if t.CourseTitle != nil {
		v := *t.CourseTitle
		cp.CourseTitle = &v
	}
	if t.LastText != nil {
		v := *t.LastText
		cp.LastText = &v
	}
	cp.LastReadAtMs = make(map[string]int64, len(t.LastReadAtMs))
	for k, v := range t.LastReadAtMs {
		cp.LastReadAtMs[k] = v
	}
	return &cp
}
