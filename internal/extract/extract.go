package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	pdfextractor "github.com/unidoc/unipdf/v3/extractor"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
)

// Sentinel errors for the permanent failure classes. Both mean the document
// itself cannot be processed; retrying would not help.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrEmptyContent         = errors.New("extracted text is empty")
)

// Error wraps a parser-level extraction failure. Transient marks failures
// caused by reading the content stream (document store I/O) rather than by
// parsing, so the pipeline can retry them.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor converts a stored document into plain text given its media type.
// Supported types: PDF, DOCX, and plain text.
type Extractor struct{}

// New creates a text extractor.
func New() *Extractor {
	return &Extractor{}
}

const (
	mediaTypePDF  = "application/pdf"
	mediaTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extract reads the content and returns its plain text. The media type may
// carry parameters (e.g. "text/plain; charset=utf-8"); only the base type is
// dispatched on.
func (x *Extractor) Extract(ctx context.Context, mediaType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		// The reader streams from the document store, so a read failure is
		// an I/O problem, not a document problem.
		return "", &Error{Transient: true, Err: fmt.Errorf("read content: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Transient: true, Err: err}
	}

	base := mediaType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))

	var text string
	switch {
	case base == mediaTypePDF:
		text, err = extractPDF(data)
	case base == mediaTypeDocx:
		text, err = extractDocx(data)
	case base == "text/plain" || strings.HasPrefix(base, "text/"):
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// extractPDF pulls text out of every page. Pages that fail individually are
// skipped; the document only fails when no page yields text.
func extractPDF(data []byte) (string, error) {
	reader, err := pdfmodel.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", &Error{Err: fmt.Errorf("read pdf: %w", err)}
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", &Error{Err: fmt.Errorf("pdf page count: %w", err)}
	}
	if numPages == 0 {
		return "", ErrEmptyContent
	}

	var b strings.Builder
	extracted := false
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := pdfextractor.New(page)
		if err != nil {
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil {
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			extracted = true
			b.WriteString(pageText)
			b.WriteString("\n\n")
		}
	}
	if !extracted {
		return "", ErrEmptyContent
	}
	return b.String(), nil
}

var docxTagRe = regexp.MustCompile(`<[^>]+>`)

// extractDocx reads the document XML and strips markup. Paragraph and break
// tags become newlines so the text keeps its line structure.
func extractDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &Error{Err: fmt.Errorf("read docx: %w", err)}
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	for _, tag := range []string{"</w:p>", "<w:br/>", "<w:br>", "<w:cr/>"} {
		content = strings.ReplaceAll(content, tag, "\n")
	}
	return docxTagRe.ReplaceAllString(content, ""), nil
}
