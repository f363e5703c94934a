package content

import (
	"encoding/json"
	"fmt"
	"testing"

	"coursegen/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNormalizeCurriculum_SynthesizesModules(t *testing.T) {
	spec := model.CurriculumSpec{Subject: "Algebra", ModuleCount: 2, LessonsPerModule: 2}
	v := decode(t, `{"title":"Algebra 101","objectives":["solve","graph"],
		"lessons":[{"title":"A"},{"title":"B","duration":30},{"title":"C"},"D",{"title":"E"}]}`)

	c := NormalizeCurriculum(v, spec)
	assert.Equal(t, "Algebra 101", c.Title)
	assert.Equal(t, []string{"solve", "graph"}, c.Objectives)
	require.Len(t, c.Lessons, 5)
	require.Len(t, c.Modules, 3)

	assert.Equal(t, "Module 1: A", c.Modules[0].Title)
	assert.Equal(t, 0, c.Lessons[1].ModuleIndex)
	assert.Equal(t, 2, c.Lessons[1].Order)
	assert.Equal(t, "30 minutes", c.Lessons[1].Duration)
	assert.Equal(t, "D", c.Lessons[3].Title)
	assert.Equal(t, 1, c.Lessons[3].ModuleIndex)
	assert.Equal(t, c.Modules[1].Title, c.Lessons[3].ModuleTitle)
	assert.Equal(t, 2, c.Lessons[4].ModuleIndex)
	assert.Equal(t, 1, c.Lessons[4].Order)
}

func TestNormalizeCurriculum_BareLessonArray(t *testing.T) {
	spec := model.CurriculumSpec{Subject: "Algebra", ModuleCount: 2, LessonsPerModule: 2}
	v := decode(t, `[{"title":"L1"},{"title":"L2"},{"title":"L3"},{"title":"L4"}]`)

	c := NormalizeCurriculum(v, spec)
	assert.Equal(t, "Algebra", c.Title)
	assert.Empty(t, c.Objectives)
	require.Len(t, c.Lessons, 4)
	require.Len(t, c.Modules, 2)

	assert.Equal(t, "Module 1: L1", c.Modules[0].Title)
	assert.Equal(t, "Module 2: L3", c.Modules[1].Title)
	for i, l := range c.Lessons {
		assert.Equal(t, fmt.Sprintf("L%d", i+1), l.Title)
		assert.Equal(t, i/2, l.ModuleIndex)
		assert.Equal(t, c.Modules[i/2].Title, l.ModuleTitle)
		assert.Equal(t, i%2+1, l.Order)
	}
}

func TestNormalizeCurriculum_NestedModules(t *testing.T) {
	v := decode(t, `{"curriculum":{"title":"T","modules":[
		{"title":"M1","lessons":[{"title":"L1"},{"title":"L2"}]},
		{"name":"M2","lessons":[{"name":"L3"}]}]}}`)

	c := NormalizeCurriculum(v, model.CurriculumSpec{})
	require.Len(t, c.Modules, 2)
	require.Len(t, c.Lessons, 3)
	assert.Equal(t, "M2", c.Lessons[2].ModuleTitle)
	assert.Equal(t, 1, c.Lessons[2].ModuleIndex)
	assert.Equal(t, 1, c.Lessons[2].Order)
}

func TestNormalizeCurriculum_FlatLessonsWithModules(t *testing.T) {
	v := decode(t, `{"modules":[{"title":"M1"},{"title":"M2"}],"lessons":["a","b","c","d","e"]}`)
	c := NormalizeCurriculum(v, model.CurriculumSpec{LessonsPerModule: 2})
	require.Len(t, c.Lessons, 5)
	assert.Equal(t, "M2", c.Lessons[4].ModuleTitle, "overflow lands in the last module")
	assert.Equal(t, 3, c.Lessons[4].Order)
}

func TestNormalizeCurriculum_Defaults(t *testing.T) {
	c := NormalizeCurriculum(nil, model.CurriculumSpec{Subject: "Physics"})
	assert.Equal(t, "Physics", c.Title)
	assert.NotNil(t, c.Lessons)
	assert.NotNil(t, c.Modules)
	assert.Empty(t, c.Lessons)
}

func TestNormalizeContents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []model.ContentBlock
	}{
		{
			"Array",
			`[{"type":"Example","title":"T","body":"<p>x</p>"},"plain",{"title":""}]`,
			[]model.ContentBlock{{Type: "example", Title: "T", Body: "<p>x</p>"}, {Type: "text", Body: "plain"}},
		},
		{
			"Wrapped",
			`{"sections":[{"heading":"H","content":"c"}]}`,
			[]model.ContentBlock{{Type: "text", Title: "H", Body: "c"}},
		},
		{
			"SingleObject",
			`{"title":"Only","content":"body"}`,
			[]model.ContentBlock{{Type: "text", Title: "Only", Body: "body"}},
		},
		{"String", `"just text"`, []model.ContentBlock{{Type: "text", Body: "just text"}}},
		{"Garbage", `42.5`, []model.ContentBlock{{Type: "text", Body: "42.5"}}},
		{"Empty", `{}`, []model.ContentBlock{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContents(decode(t, tt.input)))
		})
	}
}

func TestNormalizeQuiz(t *testing.T) {
	v := decode(t, `{"quiz":{"questions":[
		{"question":"1+1?","options":["1","2"],"answer":1},
		{"question":"Pick B","choices":["a","b","c"],"correctAnswer":"B","explanation":"b is right"},
		{"question":"Text","options":["red","blue"],"answer":"Blue"},
		{"question":"Out of range","options":["x"],"answer":7},
		{"options":["no question"]}
	]}}`)
	q := NormalizeQuiz(v, "Sums")
	assert.Equal(t, "Quiz: Sums", q.Title)
	require.Len(t, q.Questions, 4)
	assert.Equal(t, 1, q.Questions[0].Answer)
	assert.Equal(t, 1, q.Questions[1].Answer)
	assert.Equal(t, "b is right", q.Questions[1].Explanation)
	assert.Equal(t, 1, q.Questions[2].Answer)
	assert.Equal(t, 0, q.Questions[3].Answer)
}

func TestNormalizeQuiz_MissingQuestions(t *testing.T) {
	q := NormalizeQuiz(decode(t, `{"title":"Empty"}`), "L")
	require.NotNil(t, q)
	assert.Equal(t, "Empty", q.Title)
	assert.NotNil(t, q.Questions)
	assert.Empty(t, q.Questions)
}

func TestNormalizeFlashcardsAndKeyPoints(t *testing.T) {
	cards := NormalizeFlashcards(decode(t, `{"flashcards":[{"front":"F","back":"B"},{"term":"T","definition":"D"},{"back":"orphan"}]}`))
	assert.Equal(t, []model.Flashcard{{Front: "F", Back: "B"}, {Front: "T", Back: "D"}}, cards)

	assert.Equal(t, []model.Flashcard{}, NormalizeFlashcards(nil))

	points := NormalizeKeyPoints(decode(t, `{"keyPoints":["one",{"point":"two","detail":"d"},{}]}`))
	assert.Equal(t, []model.KeyPoint{{Title: "one"}, {Title: "two", Description: "d"}}, points)
	assert.Equal(t, []model.KeyPoint{}, NormalizeKeyPoints("nope"))
}

func TestNormalizeMindMap(t *testing.T) {
	v := decode(t, `{"mindMap":{"central":"Algebra","branches":[
		{"label":"Equations","children":["Linear","Quadratic"]},
		{}
	]}}`)
	m := NormalizeMindMap(v, "fallback")
	assert.Equal(t, "Algebra", m.Label)
	require.Len(t, m.Children, 1)
	assert.Equal(t, "Equations", m.Children[0].Label)
	assert.Len(t, m.Children[0].Children, 2)

	empty := NormalizeMindMap(nil, "Root")
	assert.Equal(t, "Root", empty.Label)
	assert.NotNil(t, empty.Children)
}

func TestPlainText(t *testing.T) {
	blocks := []model.ContentBlock{
		{Title: "Intro", Body: "<p>Hello <b>world</b></p><ul><li>One</li><li>Two</li></ul><script>x()</script>"},
		{Body: "Plain &amp; simple"},
		{Body: "no markup"},
	}
	got := PlainText(blocks, 0)
	assert.Equal(t, "Intro\nHello world\n- One\n- Two\n\nPlain & simple\n\nno markup", got)

	assert.Equal(t, "Intro...", PlainText(blocks, 5))
}

func anyValue() *rapid.Generator[any] {
	return rapid.OneOf(
		rapid.Just[any](nil),
		rapid.Map(rapid.String(), func(s string) any { return s }),
		rapid.Map(rapid.Float64(), func(f float64) any { return f }),
		rapid.Map(rapid.SliceOfN(rapid.String(), 0, 3), func(s []string) any {
			out := make([]any, len(s))
			for i := range s {
				out[i] = s[i]
			}
			return out
		}),
		rapid.Map(rapid.MapOfN(rapid.SampledFrom([]string{
			"title", "lessons", "modules", "questions", "options", "answer", "children", "label", "quiz", "contents",
		}), rapid.String(), 0, 5), func(m map[string]string) any {
			out := make(map[string]any, len(m))
			for k, v := range m {
				out[k] = v
			}
			return out
		}),
	)
}

func TestProperty_NormalizersNeverPanic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := anyValue().Draw(rt, "v")
		NormalizeCurriculum(v, model.CurriculumSpec{})
		NormalizeContents(v)
		NormalizeQuiz(v, "t")
		NormalizeFlashcards(v)
		NormalizeKeyPoints(v)
		NormalizeMindMap(v, "r")
	})
}
