package course

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursegen/pkg/db"
	"coursegen/pkg/llm/failover"
	"coursegen/pkg/llm/prompts"
	"coursegen/pkg/model"
	"coursegen/pkg/progress"
	"coursegen/pkg/store"
)

const curriculumJSON = `{"title":"Algebra Basics","description":"d","lessons":[
{"title":"Variables"},{"title":"Equations"},{"title":"Inequalities"},{"title":"Functions"}]}`

// fakeQueue answers by content type and records the order of submissions.
type fakeQueue struct {
	mu      sync.Mutex
	log     *[]string
	respond func(ct model.ContentType, prompt string) (string, error)
	calls   []model.ContentType
}

func (q *fakeQueue) Submit(ctx context.Context, prompt string, ct model.ContentType) (string, error) {
	q.mu.Lock()
	q.calls = append(q.calls, ct)
	if q.log != nil && ct == model.ContentLesson {
		*q.log = append(*q.log, "generate:"+lessonTitle(prompt))
	}
	q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return q.respond(ct, prompt)
}

func lessonTitle(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Lesson ") {
			if _, title, ok := strings.Cut(line, ": "); ok {
				return title
			}
		}
	}
	return ""
}

func wellFormed(ct model.ContentType, prompt string) (string, error) {
	switch ct {
	case model.ContentCurriculum:
		return curriculumJSON, nil
	case model.ContentLesson:
		return fmt.Sprintf(`{"contents":[{"type":"text","title":"%s","body":"<p>Body of %s</p>"}]}`, lessonTitle(prompt), lessonTitle(prompt)), nil
	case model.ContentQuiz:
		return `{"title":"Quiz","questions":[{"question":"1+1?","options":["1","2"],"answer":1,"explanation":"sum"}]}`, nil
	case model.ContentFlashcards:
		return `{"flashcards":[{"front":"x","back":"variable"}]}`, nil
	case model.ContentKeyPoints:
		return `{"keyPoints":[{"title":"k","description":"v"}]}`, nil
	case model.ContentMindMap:
		return `{"label":"root","children":[{"label":"leaf"}]}`, nil
	}
	return "", fmt.Errorf("unexpected content type %s", ct)
}

// fakeStore wraps the sqlite store, failing the first failures inserts.
type fakeStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	log      *[]string
	inserts  int
}

func (s *fakeStore) InsertOnce(ctx context.Context, table, key string, rec store.Record) (store.Record, bool, error) {
	s.mu.Lock()
	s.inserts++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, false, errors.New("database is locked")
	}
	if s.log != nil && table == store.TableLessons {
		*s.log = append(*s.log, fmt.Sprintf("persist:%v", rec["title"]))
	}
	s.mu.Unlock()
	return s.Store.InsertOnce(ctx, table, key, rec)
}

type eventLog struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (e *eventLog) Emit(ev model.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) steps(step model.Step) []model.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.ProgressEvent
	for _, ev := range e.events {
		if ev.Step == step {
			out = append(out, ev)
		}
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type fixture struct {
	orch   *Orchestrator
	queue  *fakeQueue
	store  *fakeStore
	sleeps *sleepRecorder
	events *eventLog
}

func newFixture(t *testing.T, respond func(model.ContentType, string) (string, error)) *fixture {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "course.db"))
	require.NoError(t, err)
	sq := store.NewSQLiteStore(d)
	t.Cleanup(func() { _ = sq.Close() })

	pm, err := prompts.NewManager("")
	require.NoError(t, err)

	f := &fixture{
		queue:  &fakeQueue{respond: respond},
		store:  &fakeStore{Store: sq},
		sleeps: &sleepRecorder{},
		events: &eventLog{},
	}
	f.orch = New(f.queue, pm, f.store, Config{}, WithSleep(f.sleeps.sleep))
	return f
}

func algebraSpec() model.CurriculumSpec {
	return model.CurriculumSpec{Subject: "Algebra", ModuleCount: 2, LessonsPerModule: 2, IncludeQuiz: true}
}

func TestRun_ScenarioA(t *testing.T) {
	f := newFixture(t, wellFormed)

	c, err := f.orch.Run(context.Background(), "run-a", algebraSpec(), f.events)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.IsComplete)
	assert.Equal(t, "run-a", c.ID)
	assert.Len(t, c.Modules, 2, "modules synthesized from lessonsPerModule")

	saved, err := f.store.List(context.Background(), store.TableLessons, map[string]any{"courseId": "run-a"})
	require.NoError(t, err)
	require.Len(t, saved, 4)
	for _, rec := range saved {
		var l model.Lesson
		require.NoError(t, store.Decode(rec, &l))
		assert.True(t, l.IsAIGenerated)
		require.NotNil(t, l.Quiz)
		assert.Len(t, l.Quiz.Questions, 1)
		assert.NotNil(t, l.Flashcards)
		assert.Empty(t, l.Flashcards)
		assert.Nil(t, l.MindMap)
	}

	_, err = f.store.Get(context.Background(), store.TableCourses, "run-a")
	assert.NoError(t, err, "course record persisted")

	for _, ct := range f.queue.calls {
		assert.NotContains(t, []model.ContentType{model.ContentFlashcards, model.ContentMindMap, model.ContentKeyPoints}, ct)
	}
}

func TestRun_ReusedRunIDReturnsStoredContent(t *testing.T) {
	f := newFixture(t, wellFormed)
	spec := algebraSpec()

	first, err := f.orch.Run(context.Background(), "run-r", spec, nil)
	require.NoError(t, err)

	f.queue.respond = func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentLesson {
			return `{"contents":[{"type":"text","title":"t","body":"<p>Rewritten</p>"}]}`, nil
		}
		return wellFormed(ct, prompt)
	}
	second, err := f.orch.Run(context.Background(), "run-r", spec, f.events)
	require.NoError(t, err)

	require.Len(t, second.Lessons, 4)
	for i, l := range second.Lessons {
		assert.Equal(t, first.Lessons[i].ID, l.ID)
		require.Len(t, l.Contents, 1)
		assert.Equal(t, first.Lessons[i].Contents[0].Body, l.Contents[0].Body, "lesson %d", i)
	}
	for _, ev := range f.events.steps(model.StepLessonComplete) {
		require.NotNil(t, ev.Lesson)
		assert.NotContains(t, ev.Lesson.Contents[0].Body, "Rewritten")
	}

	saved, err := f.store.List(context.Background(), store.TableLessons, map[string]any{"courseId": "run-r"})
	require.NoError(t, err)
	assert.Len(t, saved, 4)
}

func TestRun_ProgressSequence(t *testing.T) {
	f := newFixture(t, wellFormed)
	_, err := f.orch.Run(context.Background(), "run-p", algebraSpec(), f.events)
	require.NoError(t, err)

	var pct []int
	for _, ev := range f.events.events {
		assert.Equal(t, "run-p", ev.RunID)
		pct = append(pct, ev.Progress)
	}
	assert.Equal(t, []int{10, 20, 20, 35, 35, 50, 50, 65, 65, 80, 90, 100}, pct)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, model.StepComplete, last.Step)
	require.NotNil(t, last.Course)
	assert.Len(t, last.Course.Lessons, 4)
}

func TestRun_RetriesLessonWithoutSkipping(t *testing.T) {
	const k = 3
	failures := 0
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentQuiz && strings.Contains(prompt, "Equations") && failures < k {
			failures++
			return "", &failover.ExhaustedError{Attempts: 3, Err: errors.New("503")}
		}
		return wellFormed(ct, prompt)
	})

	c, err := f.orch.Run(context.Background(), "run-r", algebraSpec(), f.events)
	require.NoError(t, err)
	require.Len(t, c.Lessons, 4)

	retries := f.events.steps(model.StepRetry)
	require.Len(t, retries, k)
	for i, ev := range retries {
		assert.Equal(t, 2, ev.CurrentLesson)
		assert.Equal(t, i+1, ev.Attempt)
		assert.NotEmpty(t, ev.Error)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, f.sleeps.delays)

	saved, err := f.store.List(context.Background(), store.TableLessons, map[string]any{"title": "Equations"})
	require.NoError(t, err)
	assert.Len(t, saved, 1, "exactly one artifact for the retried lesson")
}

func TestRun_LessonOrder(t *testing.T) {
	var order []string
	f := newFixture(t, wellFormed)
	f.queue.log = &order
	f.store.log = &order

	_, err := f.orch.Run(context.Background(), "run-o", algebraSpec(), f.events)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"generate:Variables", "persist:Variables",
		"generate:Equations", "persist:Equations",
		"generate:Inequalities", "persist:Inequalities",
		"generate:Functions", "persist:Functions",
	}, order)
}

func TestRun_LessonRetriesExhausted(t *testing.T) {
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentLesson && strings.Contains(prompt, "Inequalities") {
			return "", errors.New("backend down")
		}
		return wellFormed(ct, prompt)
	})

	c, err := f.orch.Run(context.Background(), "run-x", algebraSpec(), f.events)
	assert.Nil(t, c)

	var le *LessonError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Index)
	assert.Equal(t, "Inequalities", le.Title)
	assert.Equal(t, 5, le.Attempts)
	assert.Contains(t, err.Error(), "lesson 3")

	assert.Len(t, f.events.steps(model.StepRetry), 4)
	errs := f.events.steps(model.StepError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "Inequalities")
	assert.Empty(t, f.events.steps(model.StepComplete))

	saved, err := f.store.List(context.Background(), store.TableLessons, nil)
	require.NoError(t, err)
	assert.Len(t, saved, 2, "lessons persisted before the failure remain")
}

func TestRun_UnusableExtraFallsBackToDefault(t *testing.T) {
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentQuiz {
			return "I cannot produce a quiz today.", nil
		}
		return wellFormed(ct, prompt)
	})
	spec := algebraSpec()
	spec.IncludeMindMap = true

	c, err := f.orch.Run(context.Background(), "run-d", spec, f.events)
	require.NoError(t, err)
	assert.Empty(t, f.events.steps(model.StepRetry))
	for _, l := range c.Lessons {
		require.NotNil(t, l.Quiz)
		assert.Empty(t, l.Quiz.Questions)
		require.NotNil(t, l.MindMap)
		assert.Equal(t, "root", l.MindMap.Label)
	}
}

func TestRun_UnusableContentsRetriesLesson(t *testing.T) {
	bad := true
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentLesson && bad {
			bad = false
			return "no json here", nil
		}
		return wellFormed(ct, prompt)
	})

	_, err := f.orch.Run(context.Background(), "run-c", algebraSpec(), f.events)
	require.NoError(t, err)
	assert.Len(t, f.events.steps(model.StepRetry), 1)
}

func TestRun_GroundsExtrasOnContents(t *testing.T) {
	var quizPrompts []string
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentQuiz {
			quizPrompts = append(quizPrompts, prompt)
		}
		return wellFormed(ct, prompt)
	})

	_, err := f.orch.Run(context.Background(), "run-g", algebraSpec(), f.events)
	require.NoError(t, err)
	require.NotEmpty(t, quizPrompts)
	assert.Contains(t, quizPrompts[0], "Body of Variables")
	assert.NotContains(t, quizPrompts[0], "<p>")
}

func TestRun_PersistenceRetry(t *testing.T) {
	f := newFixture(t, wellFormed)
	f.store.failures = 2

	_, err := f.orch.Run(context.Background(), "run-db", algebraSpec(), f.events)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps.delays)
	assert.Empty(t, f.events.steps(model.StepRetry), "save retries are not lesson retries")
}

func TestRun_PersistenceFailure(t *testing.T) {
	f := newFixture(t, wellFormed)
	f.store.failures = 100

	_, err := f.orch.Run(context.Background(), "run-pf", algebraSpec(), f.events)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, store.TableLessons, pe.Table)
	assert.Equal(t, "run-pf:0", pe.Key)
	assert.Equal(t, 5, pe.Attempts)
	assert.Len(t, f.events.steps(model.StepError), 1)

	lessonCalls := 0
	for _, ct := range f.queue.calls {
		if ct == model.ContentLesson {
			lessonCalls++
		}
	}
	assert.Equal(t, 1, lessonCalls, "no further lesson is generated")
}

func TestRun_CancelFinishesInFlightLesson(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, nil)
	f.queue.respond = func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentQuiz && strings.Contains(prompt, "Equations") {
			cancel()
		}
		return wellFormed(ct, prompt)
	}

	c, err := f.orch.Run(ctx, "run-cancel", algebraSpec(), f.events)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrCancelled)

	saved, err := f.store.List(context.Background(), store.TableLessons, nil)
	require.NoError(t, err)
	assert.Len(t, saved, 2, "in-flight lesson is finished and persisted")
	assert.Len(t, f.events.steps(model.StepCancelled), 1)
	assert.Empty(t, f.events.steps(model.StepError))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, wellFormed)

	_, err := f.orch.Run(ctx, "", algebraSpec(), progress.Discard)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRun_EmptyCurriculum(t *testing.T) {
	f := newFixture(t, func(ct model.ContentType, _ string) (string, error) {
		return `{"title":"Nothing","lessons":[]}`, nil
	})
	_, err := f.orch.Run(context.Background(), "run-e", algebraSpec(), nil)
	assert.ErrorIs(t, err, ErrEmptyCurriculum)
}

func TestRun_RetryCountsAreConfigurable(t *testing.T) {
	f := newFixture(t, func(ct model.ContentType, prompt string) (string, error) {
		if ct == model.ContentLesson {
			return "", errors.New("down")
		}
		return wellFormed(ct, prompt)
	})
	f.orch.cfg.MaxLessonRetries = 2

	_, err := f.orch.Run(context.Background(), "run-n", algebraSpec(), f.events)
	var le *LessonError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Attempts)
	assert.Len(t, f.events.steps(model.StepRetry), 1)
}

func TestLessonPercent(t *testing.T) {
	assert.Equal(t, 20, lessonPercent(0, 4))
	assert.Equal(t, 80, lessonPercent(4, 4))
	assert.Equal(t, 50, lessonPercent(1, 2))
	assert.Equal(t, 20, lessonPercent(0, 0))
}
