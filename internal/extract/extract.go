// Package extract converts documents on disk to plain text, dispatching on
// the file extension. Extraction never fails loudly: unsupported formats,
// unreadable files, and parser errors all yield an empty string and a WARN
// log entry, and the caller simply skips the file.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/leann-go/internal/logging"
)

// Supported extensions, lower-case with the leading dot.
const (
	ExtPDF      = ".pdf"
	ExtDOCX     = ".docx"
	ExtText     = ".txt"
	ExtMarkdown = ".md"
)

// SupportedExtensions lists every extension Extract understands.
var SupportedExtensions = []string{ExtPDF, ExtDOCX, ExtText, ExtMarkdown}

// Extractor turns files into text. The zero value is ready to use and is safe
// for concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor { return &Extractor{} }

// Supported reports whether path has an extension Extract can handle.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtPDF, ExtDOCX, ExtText, ExtMarkdown:
		return true
	}
	return false
}

// Extract returns the text content of the file at path, or "" if the format
// is unsupported or extraction fails for any reason.
func (e *Extractor) Extract(ctx context.Context, path string) string {
	log := logging.FromContext(ctx)

	text, err := extract(path)
	if err != nil {
		log.Warn("extract: failed to extract text",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return ""
	}
	return text
}

// extract dispatches on the extension and recovers from parser panics, which
// the PDF reader can raise on malformed input.
func extract(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parser panic: %v", r)
		}
	}()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtText, ExtMarkdown:
		return extractPlain(path)
	case ExtDOCX:
		return extractDOCX(path)
	case ExtPDF:
		return extractPDF(path)
	default:
		return "", fmt.Errorf("unsupported extension %q", ext)
	}
}

// extractPlain reads a UTF-8 text file.
func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return string(data), nil
}

// extractPDF concatenates the plain text of every page.
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return buf.String(), nil
}

// extractDOCX reads word/document.xml from the OOXML archive and returns its
// paragraphs separated by newlines.
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		return parseDocumentXML(content)
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

// documentXML is the subset of word/document.xml needed for text.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// parseDocumentXML joins the run text of each paragraph.
func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}

	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, r := range para.Runs {
			for _, t := range r.Text {
				b.WriteString(t.Content)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
