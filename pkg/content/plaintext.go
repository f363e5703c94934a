package content

import (
	"strings"

	"coursegen/pkg/model"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText renders content blocks as plain text for use as grounding context
// in follow-up prompts. Markup is stripped; block-level elements become line
// breaks. The result is cut at maxRunes (0 = no limit).
func PlainText(blocks []model.ContentBlock, maxRunes int) string {
	var parts []string
	for _, b := range blocks {
		body := stripHTML(b.Body)
		switch {
		case b.Title != "" && body != "":
			parts = append(parts, b.Title+"\n"+body)
		case b.Title != "":
			parts = append(parts, b.Title)
		case body != "":
			parts = append(parts, body)
		}
	}
	text := strings.Join(parts, "\n\n")
	if maxRunes > 0 {
		if r := []rune(text); len(r) > maxRunes {
			text = string(r[:maxRunes]) + "..."
		}
	}
	return text
}

func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	for _, n := range nodes {
		traverse(n, &b)
	}
	return collapseLines(b.String())
}

func traverse(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
		if n.DataAtom == atom.Li {
			b.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		traverse(c, b)
	}
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		b.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Ul, atom.Ol, atom.Li, atom.Pre, atom.Blockquote, atom.Table, atom.Tr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

// collapseLines squeezes runs of spaces inside lines and drops empty lines.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
