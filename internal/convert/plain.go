package convert

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// plainText returns content as a string. Invalid UTF-8 sequences are replaced
// with the replacement character so downstream hashing stays deterministic.
func plainText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// markdownText renders markdown to HTML and strips the markup, so tables,
// links, and emphasis collapse to their visible text.
func markdownText(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(content, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return HTMLText(buf.Bytes()), nil
}
