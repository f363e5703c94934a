package prompts

import (
	"fmt"

	"coursegen/pkg/llm"
	"coursegen/pkg/model"
)

// CurriculumData feeds course/curriculum.tmpl.
type CurriculumData struct {
	Spec model.CurriculumSpec
}

// LessonData feeds the per-lesson templates. Material is the plain text of
// the generated lesson contents, empty for the contents prompt itself.
type LessonData struct {
	Spec          model.CurriculumSpec
	CourseTitle   string
	Lesson        model.LessonOutline
	Material      string
	GroundingOpen string
	GroundingEnd  string
}

// ChatData feeds course/chat.tmpl.
type ChatData struct {
	Question string
	Context  string
}

// Curriculum renders the curriculum prompt.
func (m *Manager) Curriculum(spec model.CurriculumSpec) (string, error) {
	return m.render(model.ContentCurriculum, CurriculumData{Spec: spec})
}

// Lesson renders the prompt for one lesson content type.
func (m *Manager) Lesson(ct model.ContentType, spec model.CurriculumSpec, courseTitle string, lesson model.LessonOutline, material string) (string, error) {
	return m.render(ct, LessonData{
		Spec:          spec,
		CourseTitle:   courseTitle,
		Lesson:        lesson,
		Material:      material,
		GroundingOpen: llm.GroundingStart,
		GroundingEnd:  llm.GroundingEnd,
	})
}

// Chat renders the assistant prompt.
func (m *Manager) Chat(question, context string) (string, error) {
	return m.render(model.ContentChat, ChatData{Question: question, Context: context})
}

func (m *Manager) render(ct model.ContentType, data any) (string, error) {
	name := "course/" + string(ct) + ".tmpl"
	out, err := m.Render(name, data)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", ct, err)
	}
	return out, nil
}
