package model

import "time"

// Step names a state of a generation run as reported to progress sinks.
type Step string

const (
	StepCurriculum     Step = "curriculum"
	StepLesson         Step = "lesson"
	StepLessonComplete Step = "lesson_complete"
	StepRetry          Step = "retry"
	StepFinalize       Step = "finalize"
	StepComplete       Step = "complete"
	StepError          Step = "error"
	StepCancelled      Step = "cancelled"
)

// Terminal reports whether no further events follow this step.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError || s == StepCancelled
}

// ProgressEvent is a transient snapshot pushed to progress sinks.
type ProgressEvent struct {
	RunID         string    `json:"runId"`
	Step          Step      `json:"step"`
	Message       string    `json:"message"`
	Progress      int       `json:"progress"` // 0-100
	CurrentLesson int       `json:"currentLesson,omitempty"`
	TotalLessons  int       `json:"totalLessons,omitempty"`
	Attempt       int       `json:"attempt,omitempty"`
	Data          any       `json:"data,omitempty"`
	Lesson        *Lesson   `json:"lesson,omitempty"`
	Course        *Course   `json:"course,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
