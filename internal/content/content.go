// Package content derives reference SIDs and a table of contents from
// article markdown. The store never parses markdown itself; callers run
// these before building a save payload.
package content

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"

	"snuwiki/api/internal/sid"
)

var md = goldmark.New()

// tocLabels are placeholder link texts that mean "insert the TOC here", not
// a document reference.
var tocLabels = map[string]bool{"toc": true, "목차": true}

// ExtractRefs returns the unique document SIDs referenced by markdown
// content, in encounter order. Two link forms count as references:
// "/w/<sid>" hrefs and empty links "[name]()". Bare names normalize to
// "article:<name>"; everything is NFC-normalized.
func ExtractRefs(contentMD string) []string {
	source := []byte(contentMD)
	root := md.Parser().Parse(text.NewReader(source))

	seen := make(map[string]bool)
	var refs []string
	add := func(raw string) {
		raw = strings.TrimSpace(norm.NFC.String(raw))
		if raw == "" {
			return
		}
		s := raw
		if !strings.Contains(s, ":") {
			s = "article:" + s
		}
		if !seen[s] {
			seen[s] = true
			refs = append(refs, s)
		}
	}

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		link, ok := n.(*ast.Link)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := string(link.Destination)

		switch {
		case strings.HasPrefix(dest, "/w/"):
			raw := strings.TrimSuffix(dest[len("/w/"):], "/")
			if decoded, err := url.PathUnescape(raw); err == nil {
				raw = decoded
			}
			add(strings.ReplaceAll(raw, "+", " "))
		case dest == "":
			label := strings.TrimSpace(norm.NFC.String(nodeText(link, source)))
			if label == "" || tocLabels[strings.ToLower(label)] {
				break
			}
			add(label)
		}
		return ast.WalkContinue, nil
	})

	return refs
}

// ExtractToc renders an HTML fragment listing the h1-h4 headings of the
// content, in document order.
func ExtractToc(contentMD string) string {
	source := []byte(contentMD)
	root := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	b.WriteString(`<ul class="toc">`)
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 4 {
			return ast.WalkContinue, nil
		}
		if txt := strings.TrimSpace(nodeText(h, source)); txt != "" {
			b.WriteString(`<li class="h`)
			b.WriteByte(byte('0' + h.Level))
			b.WriteString(`">`)
			b.WriteString(txt)
			b.WriteString(`</li>`)
		}
		return ast.WalkContinue, nil
	})
	b.WriteString(`</ul>`)
	return b.String()
}

var (
	tocPlaceholder = regexp.MustCompile(`(?i)\[(?:toc|목차)\]\(\)`)
	emptyLink      = regexp.MustCompile(`\[([^\[\]\(\)]+)\]\(\)`)
)

// Render substitutes the placeholder forms in raw markdown: "[toc]()" (or
// its Korean alias) becomes the TOC fragment, and every remaining "[x]()"
// becomes a real link to "/w/<sid>".
func Render(contentMD, tocHTML string) string {
	out := tocPlaceholder.ReplaceAllString(contentMD, tocHTML)
	out = emptyLink.ReplaceAllStringFunc(out, func(m string) string {
		raw := emptyLink.FindStringSubmatch(m)[1]
		target := sid.FromPath(raw)
		return "[" + raw + "](/w/" + target + ")"
	})
	return out
}

// nodeText collects the literal text under a node. ast.Node.Text is
// deprecated upstream, so walk the inline children directly.
func nodeText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
