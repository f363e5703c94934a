package model

// CurriculumSpec holds the user-supplied generation parameters for one run.
// It is read-only once a run starts.
type CurriculumSpec struct {
	Subject                string `json:"subject" yaml:"subject"`
	AcademicLevel          string `json:"academicLevel" yaml:"academic_level"`
	Difficulty             string `json:"difficulty" yaml:"difficulty"`
	Duration               string `json:"duration" yaml:"duration"`
	ModuleCount            int    `json:"moduleCount" yaml:"module_count"`
	LessonsPerModule       int    `json:"lessonsPerModule" yaml:"lessons_per_module"`
	IncludeQuiz            bool   `json:"includeQuiz" yaml:"include_quiz"`
	IncludeFlashcards      bool   `json:"includeFlashcards" yaml:"include_flashcards"`
	IncludeMindMap         bool   `json:"includeMindmap" yaml:"include_mindmap"`
	IncludeKeyPoints       bool   `json:"includeKeypoints" yaml:"include_keypoints"`
	Tone                   string `json:"tone" yaml:"tone"`
	LearningStyle          string `json:"learningStyle" yaml:"learning_style"`
	AdditionalInstructions string `json:"additionalInstructions" yaml:"additional_instructions"`

	// Category selects an optional category-specific guideline block.
	Category string `json:"category" yaml:"category"`
	Language string `json:"language" yaml:"language"`
}

// WithDefaults returns a copy with empty fields filled in.
func (s CurriculumSpec) WithDefaults() CurriculumSpec {
	if s.ModuleCount <= 0 {
		s.ModuleCount = 1
	}
	if s.LessonsPerModule <= 0 {
		s.LessonsPerModule = 3
	}
	if s.AcademicLevel == "" {
		s.AcademicLevel = "general"
	}
	if s.Difficulty == "" {
		s.Difficulty = "beginner"
	}
	if s.Tone == "" {
		s.Tone = "friendly"
	}
	if s.Language == "" {
		s.Language = "English"
	}
	return s
}

// TotalLessons is the number of lessons the curriculum step is asked for.
func (s CurriculumSpec) TotalLessons() int {
	return s.ModuleCount * s.LessonsPerModule
}
