package course

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when a run was cancelled between lessons.
	ErrCancelled = errors.New("course generation cancelled")
	// ErrEmptyCurriculum is returned when the curriculum step yields no lessons.
	ErrEmptyCurriculum = errors.New("curriculum contains no lessons")
	// ErrEmptyContent fails a lesson attempt whose content blocks are empty.
	ErrEmptyContent = errors.New("lesson content is empty")
)

// LessonError reports a lesson that still failed after every retry.
type LessonError struct {
	Index    int // 0-based
	Title    string
	Attempts int
	Err      error
}

func (e *LessonError) Error() string {
	return fmt.Sprintf("lesson %d (%q) failed after %d attempts: %v", e.Index+1, e.Title, e.Attempts, e.Err)
}

func (e *LessonError) Unwrap() error { return e.Err }

// PersistenceError reports a record that could not be saved.
type PersistenceError struct {
	Table    string
	Key      string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s record %s failed after %d attempts: %v", e.Table, e.Key, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
