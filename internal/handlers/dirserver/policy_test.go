package dirserver_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/handlers/dirserver"
)

func newPolicy(t *testing.T) *dirserver.ContentPolicy {
	t.Helper()
	r, err := dirserver.NewMimeRegistry(&config.DirServerConfig{})
	require.NoError(t, err)
	return dirserver.NewContentPolicy(r)
}

func TestContentPolicy_Classify(t *testing.T) {
	p := newPolicy(t)

	tests := []struct {
		name        string
		text        bool
		renderable  bool
		disposition dirserver.Disposition
	}{
		{"a.txt", true, false, dirserver.Inline},
		{"a.csv", true, false, dirserver.Inline},
		{"a.json", true, true, dirserver.Inline},
		{"a.pdf", false, true, dirserver.Inline},
		{"a.png", false, true, dirserver.Inline},
		{"a.webm", false, true, dirserver.Inline},
		{"a.zip", false, false, dirserver.Attachment},
		{"a.djvu", false, false, dirserver.Attachment},
		{"noext", false, false, dirserver.Attachment},
		{"a.mp3", false, false, dirserver.Attachment},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := p.Classify(tc.name)
			assert.Equal(t, tc.text, c.IsText, "IsText for %s (%s)", tc.name, c.MimeType)
			assert.Equal(t, tc.renderable, c.IsBrowserRenderable, "IsBrowserRenderable for %s (%s)", tc.name, c.MimeType)
			assert.Equal(t, tc.disposition, c.Disposition())
		})
	}
}

func TestContentPolicy_HeadersText(t *testing.T) {
	p := newPolicy(t)
	h := p.Headers(p.Classify("report.csv"), "windows-1251", "report.csv")
	assert.Equal(t, "text/plain; charset=windows-1251", h.Get("Content-Type"))
	assert.Empty(t, h.Get("Content-Disposition"))
	assert.Equal(t, []string{"Content-Type"}, h.Keys())
}

func TestContentPolicy_HeadersAttachment(t *testing.T) {
	p := newPolicy(t)
	h := p.Headers(p.Classify("my archive#1.zip"), "", "my archive#1.zip")
	assert.Equal(t, []string{"Content-Type", "Content-Description", "Content-Transfer-Encoding", "Content-Disposition"}, h.Keys())
	assert.Equal(t, "application/zip", h.Get("Content-Type"))
	assert.Equal(t, "File Transfer", h.Get("Content-Description"))
	assert.Equal(t, "binary", h.Get("Content-Transfer-Encoding"))
	assert.Equal(t, "attachment;filename=my%20archive%231.zip", h.Get("Content-Disposition"))
}

func TestContentPolicy_HeadersRenderable(t *testing.T) {
	p := newPolicy(t)
	h := p.Headers(p.Classify("photo.jpg"), "", "photo.jpg")
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "image/jpeg", h.Get("content-type"))
}

func TestHeaderList(t *testing.T) {
	h := &dirserver.HeaderList{}
	h.Set("content-type", "text/plain")
	h.Set("X-Extra", "1")
	h.Set("Content-Type", "text/html")
	h.SetInt("Content-Length", 42)

	assert.Equal(t, []string{"Content-Type", "X-Extra", "Content-Length"}, h.Keys(), "keys are unique and keep insertion order")
	assert.Equal(t, "text/html", h.Get("CONTENT-TYPE"))
	assert.Equal(t, "42", h.Get("Content-Length"))
	assert.Empty(t, h.Get("Missing"))

	dst := http.Header{}
	dst.Set("Content-Type", "old")
	h.Apply(dst)
	assert.Equal(t, "text/html", dst.Get("Content-Type"))
	assert.Equal(t, "1", dst.Get("X-Extra"))
}
