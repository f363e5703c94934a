package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"coursegen/pkg/model"
	"coursegen/pkg/progress"
	"coursegen/pkg/service"
)

type generateOptions struct {
	specPath string
	outPath  string
	runID    string
	spec     model.CurriculumSpec
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate [subject]",
		Short: "Generate one course and write it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveSpec(cmd, opts, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runGenerate(ctx, *configPath, opts, spec, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	bindGenerateFlags(cmd, &opts)
	return cmd
}

func bindGenerateFlags(cmd *cobra.Command, opts *generateOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.specPath, "spec", "s", "", "curriculum spec file (.yaml or .json)")
	f.StringVarP(&opts.outPath, "out", "o", "", "write the course JSON here instead of stdout")
	f.StringVar(&opts.runID, "run-id", "", "run id (generated when empty)")
	f.StringVar(&opts.spec.Subject, "subject", "", "course subject")
	f.StringVar(&opts.spec.AcademicLevel, "level", "", "academic level")
	f.StringVar(&opts.spec.Difficulty, "difficulty", "", "difficulty")
	f.StringVar(&opts.spec.Language, "language", "", "output language")
	f.StringVar(&opts.spec.Category, "category", "", "subject category for extra guidelines")
	f.IntVar(&opts.spec.ModuleCount, "modules", 0, "number of modules")
	f.IntVar(&opts.spec.LessonsPerModule, "lessons", 0, "lessons per module")
	f.BoolVar(&opts.spec.IncludeQuiz, "quiz", false, "generate a quiz per lesson")
	f.BoolVar(&opts.spec.IncludeFlashcards, "flashcards", false, "generate flashcards per lesson")
	f.BoolVar(&opts.spec.IncludeKeyPoints, "keypoints", false, "generate key points per lesson")
	f.BoolVar(&opts.spec.IncludeMindMap, "mindmap", false, "generate a mind map per lesson")
}

// resolveSpec reads the spec file, if any, and applies flags the user set on
// top of it.
func resolveSpec(cmd *cobra.Command, opts generateOptions, args []string) (model.CurriculumSpec, error) {
	var spec model.CurriculumSpec
	if opts.specPath != "" {
		s, err := loadSpec(opts.specPath)
		if err != nil {
			return spec, err
		}
		spec = s
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("subject", func() { spec.Subject = opts.spec.Subject })
	set("level", func() { spec.AcademicLevel = opts.spec.AcademicLevel })
	set("difficulty", func() { spec.Difficulty = opts.spec.Difficulty })
	set("language", func() { spec.Language = opts.spec.Language })
	set("category", func() { spec.Category = opts.spec.Category })
	set("modules", func() { spec.ModuleCount = opts.spec.ModuleCount })
	set("lessons", func() { spec.LessonsPerModule = opts.spec.LessonsPerModule })
	set("quiz", func() { spec.IncludeQuiz = opts.spec.IncludeQuiz })
	set("flashcards", func() { spec.IncludeFlashcards = opts.spec.IncludeFlashcards })
	set("keypoints", func() { spec.IncludeKeyPoints = opts.spec.IncludeKeyPoints })
	set("mindmap", func() { spec.IncludeMindMap = opts.spec.IncludeMindMap })

	if len(args) == 1 {
		spec.Subject = args[0]
	}
	if strings.TrimSpace(spec.Subject) == "" {
		return spec, fmt.Errorf("a subject is required (argument, --subject or --spec)")
	}
	return spec, nil
}

func loadSpec(path string) (model.CurriculumSpec, error) {
	var spec model.CurriculumSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("failed to read spec: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &spec)
	} else {
		err = yaml.Unmarshal(data, &spec)
	}
	if err != nil {
		return spec, fmt.Errorf("failed to parse spec %s: %w", path, err)
	}
	return spec, nil
}

// printer writes one line per progress event.
func printer(w io.Writer) progress.Sink {
	return progress.Func(func(ev model.ProgressEvent) {
		line := fmt.Sprintf("[%3d%%] %-15s %s", ev.Progress, ev.Step, ev.Message)
		if ev.Error != "" {
			line += " (" + ev.Error + ")"
		}
		fmt.Fprintln(w, line)
	})
}

func runGenerate(ctx context.Context, configPath string, opts generateOptions, spec model.CurriculumSpec, stdout, stderr io.Writer) error {
	cfg, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}()
	svc.Start(context.WithoutCancel(ctx))

	c, err := svc.Orchestrator.Run(ctx, opts.runID, spec, svc.Sink(printer(stderr)))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode course: %w", err)
	}
	data = append(data, '\n')

	if opts.outPath == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(opts.outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(opts.outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write course: %w", err)
	}
	fmt.Fprintf(stderr, "Course written to %s\n", opts.outPath)
	return nil
}
