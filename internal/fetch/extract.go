package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden elements never contribute visible text.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// blocks render on their own line.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Br: true, atom.Hr: true,
}

// textWalker accumulates visible text and the document title.
type textWalker struct {
	title string
	out   strings.Builder
}

// extractHTML parses raw and returns its title and visible text.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}
	var w textWalker
	w.walk(doc)
	return strings.TrimSpace(w.title), cleanWhitespace(w.out.String())
}

func (w *textWalker) walk(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		if n.DataAtom == atom.Title {
			if w.title == "" && n.FirstChild != nil {
				w.title = n.FirstChild.Data
			}
			return
		}
		if hidden[n.DataAtom] {
			return
		}
		if blocks[n.DataAtom] {
			w.out.WriteByte('\n')
		}
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			w.out.WriteString(s)
			w.out.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		w.out.WriteByte('\n')
	}
}

// cleanWhitespace collapses runs of spaces within lines and keeps at
// most one blank line between paragraphs.
func cleanWhitespace(s string) string {
	var b strings.Builder
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		blank = false
		b.WriteString(line)
	}
	return b.String()
}
