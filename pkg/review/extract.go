package review

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// MaxTextLength caps the text handed to the analysis provider. Anything
// past ~32k characters blows the provider's practical context window and
// only adds cost and latency.
const MaxTextLength = 32000

var pdfMagic = []byte("%PDF-")

// ExtractText detects the document type from content and reference
// extension, pulls the text out, and returns it normalized and bounded.
func ExtractText(data []byte, documentRef string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document")
	}

	var (
		text string
		err  error
	)
	switch {
	case isPDF(data, documentRef):
		text, err = extractPDFText(data)
		if err != nil {
			return "", err
		}
	case utf8.Valid(data):
		text = string(data)
	default:
		return "", fmt.Errorf("unsupported document format")
	}

	text = normalizeText(text)
	if text == "" {
		return "", fmt.Errorf("document contains no extractable text")
	}
	if len(text) > MaxTextLength {
		text = text[:MaxTextLength]
	}
	return text, nil
}

func isPDF(data []byte, documentRef string) bool {
	if bytes.HasPrefix(data, pdfMagic) {
		return true
	}
	ref := strings.ToLower(documentRef)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return strings.HasSuffix(ref, ".pdf")
}

// extractPDFText pulls the body text out of a PDF page by page.
func extractPDFText(data []byte) (string, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("read page count: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("extractor for page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		if text != "" {
			buf.WriteString(text)
			if i < numPages {
				buf.WriteString("\n\n")
			}
		}
	}
	return buf.String(), nil
}

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

func normalizeText(s string) string {
	s = lineEndings.Replace(s)
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
