package rag

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnprocessable marks documents that can't be turned into text: empty
// files, unreadable content, or types the loaders don't understand. Handlers
// surface these to the user instead of treating them as server faults.
var ErrUnprocessable = errors.New("document unprocessable")

// LoadDocumentText extracts plain text from the staged file at path,
// dispatching on the original filename's extension. PDF gets a dedicated
// reader; .txt/.md are read directly; anything else falls through to a
// plain-text sniff.
func LoadDocumentText(path, filename string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read file: %v", ErrUnprocessable, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: the uploaded file is empty", ErrUnprocessable)
	}

	ext := strings.ToLower(filepath.Ext(filename))

	var text string
	switch ext {
	case ".pdf":
		text, err = loadPDF(path)
	case ".txt", ".md":
		text, err = loadPlainText(path)
	default:
		text, err = loadFallback(path, ext)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: the document was processed, but no text content could be extracted", ErrUnprocessable)
	}
	return text, nil
}

func loadPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: could not parse PDF: %v", ErrUnprocessable, err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: could not extract PDF text: %v", ErrUnprocessable, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: could not extract PDF text: %v", ErrUnprocessable, err)
	}
	return buf.String(), nil
}

func loadPlainText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read file: %v", ErrUnprocessable, err)
	}
	return string(raw), nil
}

// loadFallback accepts unknown extensions as long as the bytes look like
// text. Binary formats without a dedicated loader are rejected rather than
// embedded as garbage.
func loadFallback(path, ext string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read file: %v", ErrUnprocessable, err)
	}
	if !utf8.Valid(raw) || bytes.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: could not process the file type %q, please try a different format", ErrUnprocessable, ext)
	}
	return string(raw), nil
}
