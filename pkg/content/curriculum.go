package content

import (
	"fmt"

	"coursegen/pkg/model"
)

// NormalizeCurriculum coerces the curriculum response. When the model
// returns lessons without modules, modules are synthesized by chunking the
// lessons into groups of spec.LessonsPerModule.
func NormalizeCurriculum(v any, spec model.CurriculumSpec) model.Curriculum {
	spec = spec.WithDefaults()
	v = unwrap(v, "curriculum", "course")
	m := asMap(v)

	c := model.Curriculum{
		Title:       str(m, "title", "courseTitle", "name"),
		Description: str(m, "description", "summary", "overview"),
		Objectives:  strList(m, "objectives", "learningObjectives", "learning_objectives", "goals"),
		Modules:     []model.Module{},
		Lessons:     []model.LessonOutline{},
	}
	if c.Title == "" {
		c.Title = spec.Subject
	}

	// A bare array answer is a lesson list, never a module list.
	for i, raw := range list(m, "modules") {
		mm := asMap(raw)
		mod := model.Module{
			Title:       str(mm, "title", "name", "moduleTitle"),
			Description: str(mm, "description", "summary"),
			Order:       i + 1,
		}
		if mod.Title == "" {
			mod.Title = fmt.Sprintf("Module %d", i+1)
		}
		c.Modules = append(c.Modules, mod)
		for j, lraw := range list(mm, "lessons") {
			l := lessonOutline(lraw, len(c.Lessons))
			l.ModuleIndex = i
			l.ModuleTitle = mod.Title
			l.Order = j + 1
			c.Lessons = append(c.Lessons, l)
		}
	}

	if len(c.Lessons) == 0 {
		for _, lraw := range list(v, "lessons") {
			c.Lessons = append(c.Lessons, lessonOutline(lraw, len(c.Lessons)))
		}
		if len(c.Modules) > 0 {
			assignModules(c.Modules, c.Lessons, spec.LessonsPerModule)
		} else {
			c.Modules = synthesizeModules(c.Lessons, spec.LessonsPerModule)
		}
	}
	return c
}

func lessonOutline(v any, index int) model.LessonOutline {
	if s := scalarString(v); s != "" {
		return model.LessonOutline{Title: s}
	}
	m := asMap(v)
	l := model.LessonOutline{
		Title:       str(m, "title", "name", "lessonTitle"),
		Description: str(m, "description", "summary", "overview"),
		Duration:    str(m, "duration", "estimatedDuration", "time"),
	}
	if l.Title == "" {
		l.Title = fmt.Sprintf("Lesson %d", index+1)
	}
	if d, ok := m["duration"].(float64); ok {
		l.Duration = fmt.Sprintf("%d minutes", int(d))
	}
	return l
}

// assignModules places flat lessons into the given modules in chunks of
// perModule. Overflow goes to the last module.
func assignModules(mods []model.Module, lessons []model.LessonOutline, perModule int) {
	orders := make([]int, len(mods))
	for i := range lessons {
		idx := i / perModule
		if idx >= len(mods) {
			idx = len(mods) - 1
		}
		orders[idx]++
		lessons[i].ModuleIndex = idx
		lessons[i].ModuleTitle = mods[idx].Title
		lessons[i].Order = orders[idx]
	}
}

func synthesizeModules(lessons []model.LessonOutline, perModule int) []model.Module {
	mods := []model.Module{}
	for start := 0; start < len(lessons); start += perModule {
		end := min(start+perModule, len(lessons))
		idx := len(mods)
		mod := model.Module{
			Title:       fmt.Sprintf("Module %d: %s", idx+1, lessons[start].Title),
			Description: fmt.Sprintf("Lessons %d to %d", start+1, end),
			Order:       idx + 1,
		}
		mods = append(mods, mod)
		for i := start; i < end; i++ {
			lessons[i].ModuleIndex = idx
			lessons[i].ModuleTitle = mod.Title
			lessons[i].Order = i - start + 1
		}
	}
	return mods
}
