package services

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor handles PDF text extraction using ledongthuc/pdf (MIT license)
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// sanitizePDF truncates content after the last %%EOF marker. Uploaded PDFs
// sometimes carry HTML or other bytes appended after the trailer.
func sanitizePDF(content []byte) []byte {
	if len(content) == 0 {
		return content
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		// truncated; let the parser decide
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)
	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}

	if extraBytes := len(content) - pdfEnd; extraBytes > 10 {
		log.Printf("[Attachments] PDF sanitizer: removing %d bytes after %%EOF", extraBytes)
		return content[:pdfEnd]
	}

	return content
}

// ExtractText extracts text from PDF bytes, stopping once maxChars runes
// have been collected (0 = no limit)
func (p *PDFExtractor) ExtractText(content []byte, maxChars int) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}

	content = sanitizePDF(content)
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return "", fmt.Errorf("content is not a PDF")
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	var textBuilder strings.Builder
	collected := 0

	for i := 1; i <= numPages; i++ {
		if maxChars > 0 && collected >= maxChars {
			break
		}

		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			text, plainErr := page.GetPlainText(nil)
			if plainErr != nil {
				log.Printf("[Attachments] Warning: text extraction failed for PDF page %d: %v", i, plainErr)
				continue
			}
			textBuilder.WriteString(text)
			textBuilder.WriteString("\n")
			collected += len([]rune(text))
			continue
		}

		for _, row := range rows {
			var rowText strings.Builder
			for _, word := range row.Content {
				rowText.WriteString(word.S)
			}
			line := strings.TrimSpace(rowText.String())
			if line != "" {
				textBuilder.WriteString(line)
				textBuilder.WriteString("\n")
				collected += len([]rune(line)) + 1
			}
		}
		textBuilder.WriteString("\n")
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if extracted == "" {
		return "", fmt.Errorf("no text extracted from PDF; it may be image-based")
	}

	return extracted, nil
}
