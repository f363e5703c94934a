package model

import "time"

// ContentType tags a generation request. It selects the guideline block and
// the prompt template used for the request.
type ContentType string

const (
	ContentCurriculum ContentType = "curriculum"
	ContentLesson     ContentType = "lesson_content"
	ContentQuiz       ContentType = "quiz"
	ContentFlashcards ContentType = "flashcard"
	ContentKeyPoints  ContentType = "keypoints"
	ContentMindMap    ContentType = "mindmap"
	ContentChat       ContentType = "chat"
)

// Curriculum is the normalized outline returned by the curriculum step.
type Curriculum struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Objectives  []string        `json:"objectives"`
	Modules     []Module        `json:"modules"`
	Lessons     []LessonOutline `json:"lessons"`
}

// Module groups consecutive lessons.
type Module struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// LessonOutline is the curriculum-level description of one lesson.
type LessonOutline struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ModuleIndex int    `json:"moduleIndex"`
	ModuleTitle string `json:"moduleTitle"`
	Order       int    `json:"order"`    // position inside the module, 1-based
	Duration    string `json:"duration"` // free text, e.g. "45 minutes"
}

// Lesson is the fully assembled artifact for one lesson.
type Lesson struct {
	ID       string `json:"id,omitempty"`
	CourseID string `json:"courseId"`
	Index    int    `json:"index"`
	LessonOutline

	Contents      []ContentBlock `json:"contents"`
	Quiz          *Quiz          `json:"quiz"`
	Flashcards    []Flashcard    `json:"flashcards"`
	KeyPoints     []KeyPoint     `json:"keyPoints"`
	MindMap       *MindMap       `json:"mindMap"`
	IsAIGenerated bool           `json:"isAiGenerated"`
}

// ContentBlock is one unit of lesson material. Body may contain HTML.
type ContentBlock struct {
	Type  string `json:"type"` // "text", "example", "exercise", ...
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Quiz struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"` // index into Options
	Explanation string   `json:"explanation"`
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type KeyPoint struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MindMap is a labelled tree rooted at the lesson topic.
type MindMap struct {
	Label    string    `json:"label"`
	Children []MindMap `json:"children"`
}

// Course is the final object produced by a successful run.
type Course struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	CreatedAt  time.Time `json:"createdAt"`
	IsComplete bool      `json:"isComplete"`
	Curriculum
	Lessons []Lesson `json:"lessons"` // shadows Curriculum.Lessons
}
