package prompts

import (
	"log/slog"
	"strings"

	"coursegen/pkg/model"
)

// DefaultGuidelines is used when no guideline template can be rendered.
const DefaultGuidelines = `You are an expert instructional designer writing course material.
Write accurate, well-structured content for the stated audience.
Follow the requested output format exactly. When JSON is requested, reply
with a single JSON document and nothing else.`

// Guidelines renders the system preamble prepended to every generation
// request.
type Guidelines struct {
	m *Manager
}

// NewGuidelines creates a guideline provider. A nil manager always yields
// DefaultGuidelines.
func NewGuidelines(m *Manager) *Guidelines {
	return &Guidelines{m: m}
}

type guidelineData struct {
	ContentType model.ContentType
	Category    string
}

// BuildGuidelinesPrompt returns the preamble for a content type, with the
// category section appended when one exists.
func (g *Guidelines) BuildGuidelinesPrompt(ct model.ContentType, category string) string {
	if g == nil || g.m == nil {
		return DefaultGuidelines
	}

	name := "guidelines/" + string(ct) + ".tmpl"
	if !g.m.Has(name) {
		name = "guidelines/default.tmpl"
	}
	if !g.m.Has(name) {
		return DefaultGuidelines
	}

	data := guidelineData{ContentType: ct, Category: category}
	out, err := g.m.Render(name, data)
	if err != nil {
		slog.Warn("Guideline template failed, using default", "template", name, "error", err)
		return DefaultGuidelines
	}

	if category != "" {
		extra, err := g.m.categoryFunc(category, data)
		if err != nil {
			slog.Warn("Category guideline failed", "category", category, "error", err)
		} else if extra = strings.TrimSpace(extra); extra != "" {
			out = strings.TrimSpace(out) + "\n\n" + extra
		}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return DefaultGuidelines
	}
	return out
}
