// Package convert turns uploaded document payloads into plain text ready for
// chunking. Each supported source format has its own converter; the dispatcher
// selects one from the format tag on the upload.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kotae-ai/kotae/internal/models"
)

// Text converts raw document bytes of the given format into plain text.
// FormatLink is not handled here: crawled pages arrive already fetched and go
// through HTMLText directly.
func Text(content []byte, format models.SourceFormat) (string, error) {
	switch format {
	case models.FormatText, "":
		return plainText(content), nil
	case models.FormatMarkdown:
		return markdownText(content)
	case models.FormatPDF:
		return pdfText(content)
	case models.FormatDOCX:
		return docxText(content)
	case models.FormatXLSX:
		return xlsxText(content)
	case models.FormatChat:
		return chatText(content)
	default:
		return "", fmt.Errorf("%w: unsupported source format %q", models.ErrValidation, format)
	}
}

// FormatForPath guesses the source format from a file name. Unknown
// extensions are treated as plain text, matching how uploads without a
// format tag are handled.
func FormatForPath(path string) models.SourceFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return models.FormatMarkdown
	case ".pdf":
		return models.FormatPDF
	case ".docx":
		return models.FormatDOCX
	case ".xlsx":
		return models.FormatXLSX
	default:
		return models.FormatText
	}
}
