package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	threadIDPrefix = "th_"
	threadIDHexLen = 40
	noCourseToken  = "-"
)

var (
	ErrMissingParticipant = errors.New("teacher and student ids are required")
	ErrSameParticipant    = errors.New("teacher and student must differ")
)

// DeriveThreadID returns the identity key of the thread between two users.
// The pair is unordered; the course token distinguishes course-anchored threads
// from the free-standing one.
func DeriveThreadID(teacherID, studentID string, courseID *string) (string, error) {
	a := strings.TrimSpace(teacherID)
	b := strings.TrimSpace(studentID)
	if a == "" || b == "" {
		return "", ErrMissingParticipant
	}
	if a == b {
		return "", ErrSameParticipant
	}
	if b < a {
		a, b = b, a
	}

	course := noCourseToken
	if c := NormalizeCourse(courseID); c != nil {
		course = "c:" + *c
	}

	key := fmt.Sprintf("%d:%s|%d:%s|%s", len(a), a, len(b), b, course)
	sum := blake2b.Sum256([]byte(key))
	return threadIDPrefix + hex.EncodeToString(sum[:])[:threadIDHexLen], nil
}

// NormalizeCourse trims the course id and maps blank values to nil.
func NormalizeCourse(courseID *string) *string {
	if courseID == nil {
		return nil
	}
	c := strings.TrimSpace(*courseID)
	if c == "" {
		return nil
	}
	return &c
}

