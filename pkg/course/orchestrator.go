// Package course turns a curriculum spec into a fully generated, persisted
// course: one curriculum request followed by each lesson in order.
package course

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coursegen/pkg/content"
	"coursegen/pkg/llm"
	"coursegen/pkg/llm/jsonrepair"
	"coursegen/pkg/model"
	"coursegen/pkg/progress"
	"coursegen/pkg/request"
	"coursegen/pkg/store"
	"coursegen/pkg/tracker"
)

// Submitter runs one prompt to completion. *generation.Queue implements it.
type Submitter interface {
	Submit(ctx context.Context, prompt string, ct model.ContentType) (string, error)
}

// PromptBuilder renders request prompts. *prompts.Manager implements it.
type PromptBuilder interface {
	Curriculum(spec model.CurriculumSpec) (string, error)
	Lesson(ct model.ContentType, spec model.CurriculumSpec, courseTitle string, lesson model.LessonOutline, material string) (string, error)
}

// Config holds the retry policy of a run.
type Config struct {
	MaxLessonRetries int
	LessonBaseDelay  time.Duration
	MaxDBRetries     int
	DBBaseDelay      time.Duration
	// GroundingChars caps the lesson material passed to follow-up prompts.
	GroundingChars int
}

func (c Config) withDefaults() Config {
	if c.MaxLessonRetries < 1 {
		c.MaxLessonRetries = 5
	}
	if c.LessonBaseDelay <= 0 {
		c.LessonBaseDelay = 2 * time.Second
	}
	if c.MaxDBRetries < 1 {
		c.MaxDBRetries = 5
	}
	if c.DBBaseDelay <= 0 {
		c.DBBaseDelay = time.Second
	}
	if c.GroundingChars <= 0 {
		c.GroundingChars = 6000
	}
	return c
}

// Orchestrator runs generation runs. It holds no per-run state and may run
// several courses concurrently; their requests still share the Submitter.
type Orchestrator struct {
	queue   Submitter
	prompts PromptBuilder
	store   store.Store
	cfg     Config
	tracker *tracker.Tracker
	tracer  trace.Tracer
	sleep   request.SleepFunc
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithTracker(t *tracker.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithSleep replaces the retry sleep (tests).
func WithSleep(fn request.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(q Submitter, p PromptBuilder, s store.Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:   q,
		prompts: p,
		store:   s,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("coursegen/course"),
		sleep:   request.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one generation run.
type run struct {
	o       *Orchestrator
	id      string
	spec    model.CurriculumSpec
	sink    progress.Sink
	log     *slog.Logger
	percent int
	total   int
}

// Run generates, persists and returns a course for spec. Events are emitted
// to sink at every state change. runID becomes the course id; an empty runID
// gets a fresh one.
//
// Cancelling ctx stops the run before the next lesson; the lesson in flight
// is finished and persisted first. A cancelled run returns ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, runID string, spec model.CurriculumSpec, sink progress.Sink) (*model.Course, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if sink == nil {
		sink = progress.Discard
	}
	r := &run{
		o:    o,
		id:   runID,
		spec: spec.WithDefaults(),
		sink: sink,
		log:  slog.With("component", "course", "run", runID),
	}

	ctx = llm.WithCategory(ctx, r.spec.Category)
	ctx, span := o.tracer.Start(ctx, "course.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("subject", r.spec.Subject),
	))
	defer span.End()

	r.log.Info("Course generation started", "subject", r.spec.Subject, "modules", r.spec.ModuleCount, "lessons_per_module", r.spec.LessonsPerModule)
	start := o.now()

	c, err := r.execute(ctx)
	switch {
	case err == nil:
		o.tracker.TrackRun("complete")
		r.log.Info("Course generation complete", "lessons", len(c.Lessons), "duration", o.now().Sub(start))
		return c, nil
	case errors.Is(err, ErrCancelled):
		o.tracker.TrackRun("cancelled")
		span.SetAttributes(attribute.Bool("cancelled", true))
		r.log.Warn("Course generation cancelled", "percent", r.percent)
		r.emit(model.ProgressEvent{Step: model.StepCancelled, Message: "Generation cancelled"})
		return nil, err
	default:
		o.tracker.TrackRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed")
		r.log.Error("Course generation failed", "error", err)
		r.emit(model.ProgressEvent{Step: model.StepError, Message: "Generation failed", Error: err.Error()})
		return nil, err
	}
}

func (r *run) execute(ctx context.Context) (*model.Course, error) {
	cur, err := r.curriculum(ctx)
	if err != nil {
		return nil, err
	}

	lessons := make([]model.Lesson, 0, len(cur.Lessons))
	for i, outline := range cur.Lessons {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		l, err := r.lesson(ctx, i, outline, cur.Title)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, *l)
	}

	return r.finalize(ctx, cur, lessons)
}

func (r *run) curriculum(ctx context.Context) (model.Curriculum, error) {
	r.emit(model.ProgressEvent{Step: model.StepCurriculum, Progress: 10, Message: "Designing curriculum"})

	prompt, err := r.o.prompts.Curriculum(r.spec)
	if err != nil {
		return model.Curriculum{}, err
	}
	raw, err := r.o.queue.Submit(ctx, prompt, model.ContentCurriculum)
	if err != nil {
		if ctx.Err() != nil {
			return model.Curriculum{}, ErrCancelled
		}
		return model.Curriculum{}, fmt.Errorf("curriculum: %w", err)
	}
	v, err := jsonrepair.Extract(raw)
	if err != nil {
		return model.Curriculum{}, fmt.Errorf("curriculum: %w", err)
	}

	cur := content.NormalizeCurriculum(v, r.spec)
	if len(cur.Lessons) == 0 {
		return model.Curriculum{}, ErrEmptyCurriculum
	}
	r.total = len(cur.Lessons)
	r.log.Info("Curriculum ready", "title", cur.Title, "modules", len(cur.Modules), "lessons", r.total)

	r.emit(model.ProgressEvent{
		Step:         model.StepCurriculum,
		Progress:     20,
		Message:      fmt.Sprintf("Curriculum ready: %d lessons", r.total),
		TotalLessons: r.total,
		Data:         cur,
	})
	return cur, nil
}

func (r *run) finalize(ctx context.Context, cur model.Curriculum, lessons []model.Lesson) (*model.Course, error) {
	r.emit(model.ProgressEvent{Step: model.StepFinalize, Progress: 90, Message: "Assembling course", TotalLessons: r.total})

	c := &model.Course{
		ID:         r.id,
		Subject:    r.spec.Subject,
		CreatedAt:  r.o.now().UTC(),
		IsComplete: true,
		Curriculum: cur,
		Lessons:    lessons,
	}
	stored, created, err := r.persist(context.WithoutCancel(ctx), store.TableCourses, r.id, c)
	if err != nil {
		return nil, err
	}
	if !created {
		var saved model.Course
		if err := store.Decode(stored, &saved); err != nil {
			return nil, &PersistenceError{Table: store.TableCourses, Key: r.id, Attempts: 1, Err: err}
		}
		r.log.Warn("Course already stored under this run id, returning stored course", "id", saved.ID)
		c = &saved
	}

	r.emit(model.ProgressEvent{Step: model.StepComplete, Progress: 100, Message: "Course complete", TotalLessons: r.total, Course: c})
	return c, nil
}

// emit stamps ev and forwards it. A zero Progress keeps the last value.
func (r *run) emit(ev model.ProgressEvent) {
	ev.RunID = r.id
	ev.Timestamp = r.o.now().UTC()
	if ev.Progress == 0 {
		ev.Progress = r.percent
	} else {
		r.percent = ev.Progress
	}
	r.sink.Emit(ev)
}

// lessonPercent maps lesson i of n onto 20..80.
func lessonPercent(i, n int) int {
	if n <= 0 {
		return 20
	}
	return 20 + 60*i/n
}
