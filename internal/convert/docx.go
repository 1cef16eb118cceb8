package convert

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const docxMainPart = "word/document.xml"

// Text runs in a DOCX body are <w:t> nodes, possibly with attributes such as
// xml:space="preserve". Pulling the nodes by pattern keeps every run
// regardless of paragraph or run properties.
var docxRunRe = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

func docxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	body, err := readZipFile(zr, docxMainPart)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	runs := docxRunRe.FindAllSubmatch(body, -1)
	var b strings.Builder
	for _, run := range runs {
		text := strings.TrimSpace(string(run[1]))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
