package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Anchor is a link found on a page with its visible text.
type Anchor struct {
	Href string
	Text string
}

// page is the single-pass digest of an HTML document that the deep and
// profile extractors work from.
type page struct {
	text       string
	title      string
	meta       map[string]string // lowercased property or name -> content
	ldJSON     []string
	anchors    []Anchor
	paragraphs []string
}

var blockAtoms = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Dt: true, atom.Dd: true, atom.Table: true,
}

// StripHTML returns the visible text of an HTML fragment. Script and style
// content is skipped, block elements become line breaks and runs of
// horizontal whitespace collapse to one space.
func StripHTML(src string) string {
	return scanPage(src).text
}

func scanPage(src string) *page {
	p := &page{meta: map[string]string{}}
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		text      strings.Builder
		skipDepth int
		inTitle   bool
		inLD      bool
		ldBuf     strings.Builder
		anchor    *Anchor
		anchorBuf strings.Builder
		paraDepth int
		paraBuf   strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			p.text = collapseLines(text.String())
			return p
		case html.TextToken:
			raw := string(z.Text())
			switch {
			case inLD:
				ldBuf.WriteString(raw)
				continue
			case skipDepth > 0:
				continue
			case inTitle:
				p.title += raw
			}
			text.WriteString(raw)
			if anchor != nil {
				anchorBuf.WriteString(raw)
			}
			if paraDepth > 0 {
				paraBuf.WriteString(raw)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script:
				if tt == html.SelfClosingTagToken {
					continue
				}
				if strings.EqualFold(attr(tok, "type"), "application/ld+json") {
					inLD = true
					ldBuf.Reset()
				} else {
					skipDepth++
				}
			case atom.Style, atom.Noscript, atom.Template:
				if tt != html.SelfClosingTagToken {
					skipDepth++
				}
			case atom.Title:
				inTitle = tt != html.SelfClosingTagToken
			case atom.Meta:
				key := attr(tok, "property")
				if key == "" {
					key = attr(tok, "name")
				}
				if key != "" {
					key = strings.ToLower(key)
					if _, ok := p.meta[key]; !ok {
						p.meta[key] = strings.TrimSpace(attr(tok, "content"))
					}
				}
			case atom.A:
				anchor = &Anchor{Href: attr(tok, "href")}
				anchorBuf.Reset()
			case atom.P:
				if paraDepth == 0 {
					paraBuf.Reset()
				}
				paraDepth++
			}
			if blockAtoms[tok.DataAtom] {
				text.WriteByte('\n')
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script:
				if inLD {
					inLD = false
					p.ldJSON = append(p.ldJSON, ldBuf.String())
				} else if skipDepth > 0 {
					skipDepth--
				}
			case atom.Style, atom.Noscript, atom.Template:
				if skipDepth > 0 {
					skipDepth--
				}
			case atom.Title:
				inTitle = false
			case atom.A:
				if anchor != nil {
					anchor.Text = collapseInline(anchorBuf.String())
					p.anchors = append(p.anchors, *anchor)
					anchor = nil
				}
			case atom.P:
				if paraDepth > 0 {
					paraDepth--
					if paraDepth == 0 {
						p.paragraphs = append(p.paragraphs, collapseInline(paraBuf.String()))
					}
				}
			}
			if blockAtoms[tok.DataAtom] {
				text.WriteByte('\n')
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// collapseInline flattens all whitespace, newlines included.
func collapseInline(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// collapseLines keeps line structure but drops blank lines and squeezes
// whitespace inside each line.
func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		ln = collapseInline(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

// Anchors returns every <a> element of a page with its flattened text.
func Anchors(src string) []Anchor {
	return scanPage(src).anchors
}
