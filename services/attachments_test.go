package services

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects map[string]*objectstore.Object

func (f fakeObjects) Download(ctx context.Context, key string, maxBytes int64) (*objectstore.Object, error) {
	obj, ok := f[key]
	if !ok {
		return nil, assert.AnError
	}
	return obj, nil
}

// one page, two lines of WinAnsi Helvetica text
const twoLinePDF = "JVBERi0xLjQKMSAwIG9iago8PCAvVHlwZSAvQ2F0YWxvZyAvUGFnZXMgMiAwIFIgPj4KZW5kb2Jq" +
	"CjIgMCBvYmoKPDwgL1R5cGUgL1BhZ2VzIC9LaWRzIFszIDAgUl0gL0NvdW50IDEgPj4KZW5kb2Jq" +
	"CjMgMCBvYmoKPDwgL1R5cGUgL1BhZ2UgL1BhcmVudCAyIDAgUiAvTWVkaWFCb3ggWzAgMCA2MTIg" +
	"NzkyXSAvUmVzb3VyY2VzIDw8IC9Gb250IDw8IC9GMSA1IDAgUiA+PiA+PiAvQ29udGVudHMgNCAw" +
	"IFIgPj4KZW5kb2JqCjQgMCBvYmoKPDwgL0xlbmd0aCAxMDAgPj4Kc3RyZWFtCkJUIC9GMSAxMiBU" +
	"ZiAxIDAgMCAxIDcyIDcyMCBUbSAoUXVhcnRlcmx5IHJlcG9ydCkgVGogMSAwIDAgMSA3MiA3MDAg" +
	"VG0gKFJldmVudWUgZ3JldyBzdHJvbmdseSkgVGogRVQKZW5kc3RyZWFtCmVuZG9iago1IDAgb2Jq" +
	"Cjw8IC9UeXBlIC9Gb250IC9TdWJ0eXBlIC9UeXBlMSAvQmFzZUZvbnQgL0hlbHZldGljYSAvRW5j" +
	"b2RpbmcgL1dpbkFuc2lFbmNvZGluZyA+PgplbmRvYmoKeHJlZgowIDYKMDAwMDAwMDAwMCA2NTUz" +
	"NSBmIAowMDAwMDAwMDA5IDAwMDAwIG4gCjAwMDAwMDAwNTggMDAwMDAgbiAKMDAwMDAwMDExNSAw" +
	"MDAwMCBuIAowMDAwMDAwMjQxIDAwMDAwIG4gCjAwMDAwMDAzOTIgMDAwMDAgbiAKdHJhaWxlcgo8" +
	"PCAvU2l6ZSA2IC9Sb290IDEgMCBSID4+CnN0YXJ0eHJlZgo0ODkKJSVFT0YK"

func TestExtractAttachments(t *testing.T) {
	objects := fakeObjects{
		"uploads/page.html": {Key: "uploads/page.html", ContentType: "text/html; charset=utf-8", Data: []byte("<p>From the bucket</p>")},
	}
	extractor := NewAttachmentExtractor(objects, 4000)

	snippets := extractor.Extract(context.Background(), []Attachment{
		{Name: "inline.txt", Text: "  plain text  "},
		{Name: "page.html", ContentType: "text/html", Text: "<html><head><title>x</title><style>p{}</style></head><body><h1>Title</h1><p>Body <b>bold</b></p><script>alert(1)</script></body></html>"},
		{Name: "data.json", DataBase64: base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))},
		{Name: "remote.html", ObjectKey: "uploads/page.html"},
		{Name: "photo.png", ContentType: "image/png", DataBase64: base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})},
		{Name: "broken.txt", DataBase64: "%%%"},
		{Name: "missing.txt", ObjectKey: "uploads/nope"},
		{Name: "empty.txt"},
		{Name: "fake.pdf", ContentType: "application/pdf", Text: "not a pdf"},
	})

	require.Len(t, snippets, 4)
	assert.Equal(t, AttachmentSnippet{Name: "inline.txt", Text: "plain text"}, snippets[0])
	assert.Equal(t, AttachmentSnippet{Name: "page.html", Text: "Title Body bold"}, snippets[1])
	assert.Equal(t, AttachmentSnippet{Name: "data.json", Text: `{"a":1}`}, snippets[2])
	assert.Equal(t, AttachmentSnippet{Name: "remote.html", Text: "From the bucket"}, snippets[3])
}

func TestExtractAttachmentsCap(t *testing.T) {
	extractor := NewAttachmentExtractor(nil, 10)
	snippets := extractor.Extract(context.Background(), []Attachment{
		{Name: "long.md", Text: strings.Repeat("a", 50)},
		{Name: "remote.txt", ObjectKey: "k"},
	})

	require.Len(t, snippets, 1)
	assert.True(t, snippets[0].Truncated)
	assert.Equal(t, strings.Repeat("a", 10)+EllipsisMarker, snippets[0].Text)
}

func TestExtractAttachmentsPDF(t *testing.T) {
	pdfAttachment := []Attachment{{Name: "report.pdf", DataBase64: twoLinePDF}}

	snippets := NewAttachmentExtractor(nil, 4000).Extract(context.Background(), pdfAttachment)
	require.Len(t, snippets, 1)
	assert.Equal(t, "report.pdf", snippets[0].Name)
	assert.Equal(t, "Quarterly report\nRevenue grew strongly", snippets[0].Text)
	assert.False(t, snippets[0].Truncated)

	capped := NewAttachmentExtractor(nil, 10).Extract(context.Background(), pdfAttachment)
	require.Len(t, capped, 1)
	assert.True(t, capped[0].Truncated)
	assert.Equal(t, "Quarterly "+EllipsisMarker, capped[0].Text)
}

func TestHTMLToText(t *testing.T) {
	text, err := htmlToText("<div>one</div><div>two<br>three</div><noscript>hidden</noscript>")
	require.NoError(t, err)
	assert.Equal(t, "one two three", text)
}
