// Package document handles ingested protocol PDFs: content hashing, on-disk
// storage, page inspection, and remote-file handles on the LLM provider.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const PDFMIMEType = "application/pdf"

var ErrNotPDF = errors.New("document is not a PDF")

// Hash returns the SHA-256 of the document bytes as 64 lowercase hex chars.
// It is the identity of a protocol: re-uploads of identical bytes dedupe on
// this value.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Info is what page-level inspection yields for an ingested PDF.
type Info struct {
	PageCount int
	// PageText holds extracted plain text per physical page, 1-based index
	// shifted down by one. Pages that fail extraction hold an empty string;
	// scanned pages commonly do.
	PageText []string
}

// Inspect parses the PDF and extracts page count plus per-page text. Text
// extraction failures on individual pages are tolerated because provenance
// verification degrades gracefully without them.
func Inspect(data []byte) (*Info, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	total := reader.NumPage()
	info := &Info{
		PageCount: total,
		PageText:  make([]string, total),
	}
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		info.PageText[n-1] = text
	}
	return info, nil
}

// Text returns the text of a 1-based physical page, or "" when out of range.
func (i *Info) Text(page int) string {
	if page < 1 || page > len(i.PageText) {
		return ""
	}
	return i.PageText[page-1]
}

// FindPage returns the first 1-based page whose text contains the snippet
// after whitespace normalization, or 0 when no page matches.
func (i *Info) FindPage(snippet string) int {
	needle := normalizeWhitespace(snippet)
	if needle == "" {
		return 0
	}
	for n := 1; n <= i.PageCount; n++ {
		if strings.Contains(normalizeWhitespace(i.Text(n)), needle) {
			return n
		}
	}
	return 0
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
