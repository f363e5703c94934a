package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"
)

//go:embed templates
var embedded embed.FS

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager loads the built-in templates. When overrideDir is set, any
// template found there replaces the built-in one with the same name.
func NewManager(overrideDir string) (*Manager, error) {
	builtin, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	sources := []fs.FS{builtin}
	if overrideDir != "" {
		if _, err := os.Stat(overrideDir); err != nil {
			return nil, fmt.Errorf("template dir: %w", err)
		}
		sources = append(sources, os.DirFS(overrideDir))
	}
	return NewManagerFS(sources...)
}

// NewManagerFS loads templates from the given file systems in order. Later
// sources override earlier ones.
func NewManagerFS(sources ...fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"category": m.categoryFunc,
		"join":     strings.Join,
		"inc":      func(i int) int { return i + 1 },
	})

	for _, src := range sources {
		if err := m.loadCommon(src); err != nil {
			return nil, fmt.Errorf("loading common templates: %w", err)
		}
	}
	for _, src := range sources {
		if err := m.loadTemplates(src); err != nil {
			return nil, fmt.Errorf("loading templates: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) loadCommon(fsys fs.FS) error {
	return fs.WalkDir(fsys, "common", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tmpl") {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err = m.root.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

func (m *Manager) loadTemplates(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".tmpl" || strings.HasPrefix(p, "common/") {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err = m.root.New(p).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

// Has reports whether a template with the given name is loaded.
func (m *Manager) Has(name string) bool {
	return m.root.Lookup(name) != nil
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *Manager) categoryFunc(name string, data any) (string, error) {
	if name == "" {
		return "", nil
	}

	t := m.root.Lookup(categoryTemplate(name))
	if t == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func categoryTemplate(name string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	return "guidelines/category/" + slug + ".tmpl"
}
