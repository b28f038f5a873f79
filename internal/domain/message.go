package domain

// Message is an immutable entry in a thread's log.
type Message struct {
	ID          string
	ThreadID    string
	FromID      string
	Text        *string
	Attachments []Attachment
	AtMs        int64
	// Seq is assigned by the store, monotonic within a thread.
	Seq int64
}

// Attachment describes a file stored outside the messaging core.
type Attachment struct {
	ID         string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
}

// HasContent reports whether the message carries text or attachments.
func (m *Message) HasContent() bool {
	return (m.Text != nil && *m.Text != "") || len(m.Attachments) > 0
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Text != nil {
		v := *m.Text
		cp.Text = &v
	}
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	return &cp
}
