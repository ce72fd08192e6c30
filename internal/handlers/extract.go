package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

var errUnsupportedFile = errors.New("unsupported file type")

// extractText returns the plain text of an uploaded file, chosen by its extension.
func extractText(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
	case ".pdf", ".docx":
	default:
		return "", errUnsupportedFile
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	switch ext {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	}

	if !utf8.Valid(data) {
		return "", errors.New("file is not valid utf-8 text")
	}
	return string(data), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}

	b, err := io.ReadAll(text)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return string(b), nil
}

// docxText returns the text of the document body, one line per paragraph. Tabs and line breaks inside a
// paragraph are kept, and tables are rendered as markdown tables.
func docxText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	var lines []string
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			lines = append(lines, it.String())
		case *docx.Table:
			lines = append(lines, it.String())
		}
	}

	return strings.Join(lines, "\n"), nil
}
