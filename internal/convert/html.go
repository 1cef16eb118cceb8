package convert

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// HTMLText extracts the visible text of an HTML document. Script and style
// bodies are skipped; block boundaries become newlines so headings and
// paragraphs keep their line structure for the chunker.
func HTMLText(content []byte) string {
	tok := html.NewTokenizer(bytes.NewReader(content))
	var b strings.Builder
	skip := 0
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(tok.Text()))
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				last := b.String()[b.Len()-1]
				if last != '\n' && last != ' ' {
					b.WriteByte(' ')
				}
			}
			b.WriteString(text)
		}
	}
}

// HTMLTitle returns the contents of the first <title> element, or "".
func HTMLTitle(content []byte) string {
	tok := html.NewTokenizer(bytes.NewReader(content))
	inTitle := false
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tok.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			inTitle = false
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tok.Text()))
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
