package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"strings"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/objectstore"
	"golang.org/x/net/html"
)

// maxAttachmentBytes bounds the raw payload read for one attachment
const maxAttachmentBytes = 10 << 20

var errUnsupportedAttachment = errors.New("unsupported attachment type")

// Attachment is a file supplied with a turn. Exactly one of Text, DataBase64
// or ObjectKey carries the content.
type Attachment struct {
	Name        string `json:"name" validate:"required,max=255"`
	ContentType string `json:"content_type,omitempty" validate:"max=255"`
	Text        string `json:"text,omitempty"`
	DataBase64  string `json:"data_base64,omitempty"`
	ObjectKey   string `json:"object_key,omitempty" validate:"max=1024"`
}

// AttachmentSnippet is the extracted, size-capped text of an attachment
type AttachmentSnippet struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ObjectFetcher downloads attachment objects by key
type ObjectFetcher interface {
	Download(ctx context.Context, key string, maxBytes int64) (*objectstore.Object, error)
}

// AttachmentExtractor turns attachments into text snippets
type AttachmentExtractor struct {
	objects ObjectFetcher
	pdf     *PDFExtractor
	charCap int
}

// NewAttachmentExtractor creates an extractor. objects may be nil when no
// object store is configured.
func NewAttachmentExtractor(objects ObjectFetcher, charCap int) *AttachmentExtractor {
	return &AttachmentExtractor{
		objects: objects,
		pdf:     NewPDFExtractor(),
		charCap: charCap,
	}
}

// Extract resolves each attachment to text. Attachments that fail are
// dropped with a warning.
func (e *AttachmentExtractor) Extract(ctx context.Context, attachments []Attachment) []AttachmentSnippet {
	snippets := make([]AttachmentSnippet, 0, len(attachments))
	for _, a := range attachments {
		text, err := e.extractOne(ctx, a)
		if err != nil {
			log.Printf("[Attachments] Warning: skipping %q: %v", a.Name, err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		capped, truncated := truncateRunes(text, e.charCap)
		snippets = append(snippets, AttachmentSnippet{
			Name:      a.Name,
			Text:      capped,
			Truncated: truncated,
		})
	}
	return snippets
}

func (e *AttachmentExtractor) extractOne(ctx context.Context, a Attachment) (string, error) {
	contentType := normalizeContentType(a.ContentType)
	if contentType == "" {
		contentType = objectstore.ContentTypeFor(a.Name)
	}

	var data []byte
	switch {
	case a.Text != "":
		data = []byte(a.Text)
	case a.DataBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(a.DataBase64)
		if err != nil {
			return "", fmt.Errorf("invalid base64 payload: %w", err)
		}
		data = decoded
	case a.ObjectKey != "":
		if e.objects == nil {
			return "", fmt.Errorf("object store is not configured")
		}
		obj, err := e.objects.Download(ctx, a.ObjectKey, maxAttachmentBytes)
		if err != nil {
			return "", err
		}
		data = obj.Data
		if a.ContentType == "" {
			contentType = normalizeContentType(obj.ContentType)
		}
	default:
		return "", fmt.Errorf("attachment has no content")
	}

	if len(data) > maxAttachmentBytes {
		return "", fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}

	switch {
	case contentType == "text/html":
		return htmlToText(string(data))
	case contentType == "application/pdf":
		return e.pdf.ExtractText(data, e.charCap)
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json":
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedAttachment, contentType)
	}
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

// htmlToText returns the visible text of an HTML document
func htmlToText(doc string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(doc))

	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return "", fmt.Errorf("failed to parse HTML: %w", err)
			}
			return strings.Join(strings.Fields(b.String()), " "), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "head":
				skip++
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString(" ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "head":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteString(" ")
			}
		}
	}
}

// truncateRunes cuts s to at most limit runes and appends the ellipsis
// marker when anything was removed. limit <= 0 disables the cap.
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i] + EllipsisMarker, true
		}
		count++
	}
	return s, false
}
