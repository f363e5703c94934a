package course

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursegen/pkg/content"
	"coursegen/pkg/llm/jsonrepair"
	"coursegen/pkg/model"
	"coursegen/pkg/request"
	"coursegen/pkg/store"
)

// lessonResult is the outcome of one stage of a lesson attempt.
type lessonResult struct {
	lesson *model.Lesson
	err    error
}

// then runs next only when the previous stage succeeded.
func (res lessonResult) then(next func(*model.Lesson) lessonResult) lessonResult {
	if res.err != nil {
		return res
	}
	return next(res.lesson)
}

// lesson generates lesson i with whole-lesson retries, then persists it.
// The lesson runs to completion even if ctx is cancelled meanwhile.
func (r *run) lesson(ctx context.Context, i int, outline model.LessonOutline, courseTitle string) (*model.Lesson, error) {
	cancelled := ctx
	ctx = context.WithoutCancel(ctx)
	ctx, span := r.o.tracer.Start(ctx, "course.lesson", trace.WithAttributes(
		attribute.Int("index", i),
		attribute.String("title", outline.Title),
	))
	defer span.End()

	r.emit(model.ProgressEvent{
		Step:          model.StepLesson,
		Progress:      lessonPercent(i, r.total),
		Message:       fmt.Sprintf("Generating lesson %d of %d: %s", i+1, r.total, outline.Title),
		CurrentLesson: i + 1,
		TotalLessons:  r.total,
	})

	var res lessonResult
	for attempt := 1; ; attempt++ {
		res = r.generate(ctx, i, outline, courseTitle)
		if res.err == nil {
			break
		}
		if attempt >= r.o.cfg.MaxLessonRetries {
			span.RecordError(res.err)
			return nil, &LessonError{Index: i, Title: outline.Title, Attempts: attempt, Err: res.err}
		}
		if cancelled.Err() != nil {
			r.log.Warn("Lesson failed after cancellation, not retrying", "lesson", i+1, "error", res.err)
			return nil, ErrCancelled
		}

		delay := request.Exponential(r.o.cfg.LessonBaseDelay, attempt)
		r.o.tracker.TrackLessonRetry()
		r.log.Warn("Lesson generation failed, retrying", "lesson", i+1, "attempt", attempt, "delay", delay, "error", res.err)
		r.emit(model.ProgressEvent{
			Step:          model.StepRetry,
			Message:       fmt.Sprintf("Retrying lesson %d (attempt %d of %d)", i+1, attempt+1, r.o.cfg.MaxLessonRetries),
			CurrentLesson: i + 1,
			TotalLessons:  r.total,
			Attempt:       attempt,
			Error:         res.err.Error(),
		})
		if err := r.o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	l := res.lesson
	key := fmt.Sprintf("%s:%d", r.id, i)
	stored, created, err := r.persist(ctx, store.TableLessons, key, l)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if created {
		l.ID = stored.ID()
	} else {
		// The key was used by an earlier run with this id; report what is stored.
		var saved model.Lesson
		if err := store.Decode(stored, &saved); err != nil {
			return nil, &PersistenceError{Table: store.TableLessons, Key: key, Attempts: 1, Err: err}
		}
		r.log.Warn("Lesson already stored under this run id, returning stored lesson", "lesson", i+1, "id", saved.ID)
		l = &saved
	}
	r.o.tracker.TrackLessonPersisted()

	r.emit(model.ProgressEvent{
		Step:          model.StepLessonComplete,
		Progress:      lessonPercent(i+1, r.total),
		Message:       fmt.Sprintf("Lesson %d of %d complete", i+1, r.total),
		CurrentLesson: i + 1,
		TotalLessons:  r.total,
		Lesson:        l,
	})
	return l, nil
}

// generate runs one attempt: contents first, then each enabled extra
// grounded on those contents.
func (r *run) generate(ctx context.Context, i int, outline model.LessonOutline, courseTitle string) lessonResult {
	base := &model.Lesson{
		CourseID:      r.id,
		Index:         i,
		LessonOutline: outline,
		Flashcards:    []model.Flashcard{},
		KeyPoints:     []model.KeyPoint{},
		IsAIGenerated: true,
	}

	var material string
	res := lessonResult{lesson: base}.then(func(l *model.Lesson) lessonResult {
		v, err := r.ask(ctx, model.ContentLesson, outline, courseTitle, "")
		if err != nil {
			return lessonResult{err: fmt.Errorf("contents: %w", err)}
		}
		l.Contents = content.NormalizeContents(v)
		if len(l.Contents) == 0 {
			return lessonResult{err: ErrEmptyContent}
		}
		material = content.PlainText(l.Contents, r.o.cfg.GroundingChars)
		return lessonResult{lesson: l}
	})

	extras := []struct {
		enabled bool
		ct      model.ContentType
		apply   func(l *model.Lesson, v any)
	}{
		{r.spec.IncludeQuiz, model.ContentQuiz, func(l *model.Lesson, v any) { l.Quiz = content.NormalizeQuiz(v, outline.Title) }},
		{r.spec.IncludeFlashcards, model.ContentFlashcards, func(l *model.Lesson, v any) { l.Flashcards = content.NormalizeFlashcards(v) }},
		{r.spec.IncludeKeyPoints, model.ContentKeyPoints, func(l *model.Lesson, v any) { l.KeyPoints = content.NormalizeKeyPoints(v) }},
		{r.spec.IncludeMindMap, model.ContentMindMap, func(l *model.Lesson, v any) { l.MindMap = content.NormalizeMindMap(v, outline.Title) }},
	}
	for _, x := range extras {
		if !x.enabled {
			continue
		}
		res = res.then(func(l *model.Lesson) lessonResult {
			v, err := r.ask(ctx, x.ct, outline, courseTitle, material)
			var extractErr *jsonrepair.ExtractionError
			switch {
			case errors.As(err, &extractErr):
				// Normalizers turn nil into the empty default.
				r.log.Warn("Unusable lesson extra, using default", "lesson", i+1, "content_type", x.ct, "error", err)
				v = nil
			case err != nil:
				return lessonResult{err: fmt.Errorf("%s: %w", x.ct, err)}
			}
			x.apply(l, v)
			return lessonResult{lesson: l}
		})
	}
	return res
}

// ask renders, submits and parses one lesson request.
func (r *run) ask(ctx context.Context, ct model.ContentType, outline model.LessonOutline, courseTitle, material string) (any, error) {
	prompt, err := r.o.prompts.Lesson(ct, r.spec, courseTitle, outline, material)
	if err != nil {
		return nil, err
	}
	raw, err := r.o.queue.Submit(ctx, prompt, ct)
	if err != nil {
		return nil, err
	}
	return jsonrepair.Extract(raw)
}

// persist saves v under an idempotency key with linear backoff. A retry
// after a save that actually succeeded returns the stored row.
// persist saves v under key. created is false when key was already stored,
// in which case the existing record is returned.
func (r *run) persist(ctx context.Context, table, key string, v any) (stored store.Record, created bool, err error) {
	rec, err := store.ToRecord(v)
	if err != nil {
		return nil, false, &PersistenceError{Table: table, Key: key, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= r.o.cfg.MaxDBRetries; attempt++ {
		if attempt > 1 {
			delay := request.Linear(r.o.cfg.DBBaseDelay, attempt-1)
			r.log.Warn("Save failed, retrying", "table", table, "key", key, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := r.o.sleep(ctx, delay); err != nil {
				return nil, false, err
			}
		}
		stored, created, err := r.o.store.InsertOnce(ctx, table, key, rec)
		if err == nil {
			return stored, created, nil
		}
		lastErr = err
	}
	return nil, false, &PersistenceError{Table: table, Key: key, Attempts: r.o.cfg.MaxDBRetries, Err: lastErr}
}
