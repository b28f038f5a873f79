package domain

// HasUnread reports whether the thread has a message the user has not seen.
// A thread without messages, or whose last message was sent by the viewer,
// is never unread.
func HasUnread(t *Thread, userID string) bool {
	if t == nil || t.LastFromID == "" || t.LastFromID == userID {
		return false
	}
	return t.LastAtMs > t.LastReadAt(userID)
}
