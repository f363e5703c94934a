package content

import (
	"strings"

	"coursegen/pkg/model"
)

const maxMindMapDepth = 6

// NormalizeContents returns the lesson's content blocks. The result is
// empty (not nil) when nothing usable was found.
func NormalizeContents(v any) []model.ContentBlock {
	blocks := []model.ContentBlock{}
	if s := scalarString(v); s != "" {
		return append(blocks, model.ContentBlock{Type: "text", Body: s})
	}

	items := list(v, "contents", "content", "sections", "blocks")
	if items == nil {
		if m := asMap(v); m != nil {
			if b := block(m); b.Body != "" {
				blocks = append(blocks, b)
			}
		}
		return blocks
	}
	for _, item := range items {
		var b model.ContentBlock
		if s := scalarString(item); s != "" {
			b = model.ContentBlock{Type: "text", Body: s}
		} else {
			b = block(asMap(item))
		}
		if b.Body == "" && b.Title == "" {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func block(m map[string]any) model.ContentBlock {
	b := model.ContentBlock{
		Type:  strings.ToLower(str(m, "type", "kind")),
		Title: str(m, "title", "heading"),
		Body:  str(m, "body", "content", "text", "html", "markdown"),
	}
	if b.Type == "" {
		b.Type = "text"
	}
	return b
}

// NormalizeQuiz always returns a quiz; a missing question list becomes empty.
func NormalizeQuiz(v any, lessonTitle string) *model.Quiz {
	v = unwrap(v, "quiz")
	q := &model.Quiz{
		Title:     str(asMap(v), "title", "name"),
		Questions: []model.Question{},
	}
	if q.Title == "" {
		q.Title = "Quiz: " + lessonTitle
	}
	for _, item := range list(v, "questions", "quiz", "items") {
		m := asMap(item)
		qq := model.Question{
			Question:    str(m, "question", "prompt", "text"),
			Options:     strList(m, "options", "choices", "answers"),
			Explanation: str(m, "explanation", "rationale", "feedback"),
		}
		if qq.Question == "" {
			continue
		}
		qq.Answer = answerIndex(m, qq.Options)
		q.Questions = append(q.Questions, qq)
	}
	return q
}

// answerIndex resolves the correct option from an index, a letter ("B"),
// or the option text itself. Unresolvable answers default to 0.
func answerIndex(m map[string]any, options []string) int {
	raw, ok := field(m, "answer", "correctAnswer", "correct_answer", "correct", "answerIndex")
	if !ok {
		return 0
	}
	idx := -1
	if i, isNum := raw.(float64); isNum {
		idx = int(i)
	} else if s := scalarString(raw); s != "" {
		switch {
		case len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z':
			idx = int(s[0] - 'A')
		case len(s) == 1 && s[0] >= 'a' && s[0] <= 'z':
			idx = int(s[0] - 'a')
		default:
			if i, isInt := intValue(s); isInt {
				idx = i
			}
			for i, o := range options {
				if strings.EqualFold(strings.TrimSpace(o), s) {
					idx = i
					break
				}
			}
		}
	}
	if idx < 0 || idx >= len(options) {
		return 0
	}
	return idx
}

// NormalizeFlashcards never returns nil.
func NormalizeFlashcards(v any) []model.Flashcard {
	cards := []model.Flashcard{}
	for _, item := range list(v, "flashcards", "cards", "items") {
		m := asMap(item)
		c := model.Flashcard{
			Front: str(m, "front", "term", "question", "prompt"),
			Back:  str(m, "back", "definition", "answer", "explanation"),
		}
		if c.Front == "" {
			continue
		}
		cards = append(cards, c)
	}
	return cards
}

// NormalizeKeyPoints never returns nil.
func NormalizeKeyPoints(v any) []model.KeyPoint {
	points := []model.KeyPoint{}
	for _, item := range list(v, "keyPoints", "keypoints", "key_points", "points", "items") {
		if s := scalarString(item); s != "" {
			points = append(points, model.KeyPoint{Title: s})
			continue
		}
		m := asMap(item)
		p := model.KeyPoint{
			Title:       str(m, "title", "point", "heading", "name"),
			Description: str(m, "description", "explanation", "detail", "details"),
		}
		if p.Title == "" && p.Description == "" {
			continue
		}
		points = append(points, p)
	}
	return points
}

// NormalizeMindMap always returns a tree rooted at a labelled node; root is
// used when the model gave no label.
func NormalizeMindMap(v any, root string) *model.MindMap {
	v = unwrap(v, "mindMap", "mindmap", "mind_map", "root")
	n := mindMapNode(v, 0)
	if n.Label == "" {
		n.Label = root
	}
	return &n
}

func mindMapNode(v any, depth int) model.MindMap {
	if s := scalarString(v); s != "" {
		return model.MindMap{Label: s, Children: []model.MindMap{}}
	}
	m := asMap(v)
	n := model.MindMap{
		Label:    str(m, "label", "title", "name", "topic", "text", "central"),
		Children: []model.MindMap{},
	}
	if depth >= maxMindMapDepth {
		return n
	}
	for _, c := range list(v, "children", "nodes", "branches", "subtopics") {
		child := mindMapNode(c, depth+1)
		if child.Label == "" && len(child.Children) == 0 {
			continue
		}
		n.Children = append(n.Children, child)
	}
	return n
}
