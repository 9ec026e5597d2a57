package chat

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags are elements that end a line when flattening. Code blocks are
// handled separately so their internal whitespace survives.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "blockquote": true,
	"table": true, "tr": true,
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// ExtractText flattens a rendered HTML fragment to readable text. Block
// elements break lines and <pre> content keeps its exact whitespace, while
// script and style bodies are dropped. Unparseable input falls back to the
// raw string.
func ExtractText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return tidy(fragment)
	}
	doc.Find("script, style, noscript").Remove()

	body := doc.Find("body")
	if len(body.Nodes) == 0 {
		return tidy(doc.Text())
	}

	var sb strings.Builder
	for _, n := range body.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			flatten(&sb, c, false)
		}
	}
	return tidy(sb.String())
}

// flatten walks one node. pre is true inside <pre>, where whitespace is
// verbatim.
func flatten(sb *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			sb.WriteString(n.Data)
		} else {
			text := spaceRun.ReplaceAllString(strings.ReplaceAll(n.Data, "\n", " "), " ")
			// At a line start the markup's own indentation is noise.
			if cur := sb.String(); cur == "" || strings.HasSuffix(cur, "\n") {
				text = strings.TrimLeft(text, " ")
			}
			sb.WriteString(text)
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			sb.WriteString("\n")
			return
		case "pre":
			sb.WriteString("\n")
			pre = true
		}
	default:
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flatten(sb, c, pre)
	}

	if n.Data == "pre" || blockTags[n.Data] {
		sb.WriteString("\n")
	}
}

// tidy trims trailing space per line and collapses runs of blank lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
