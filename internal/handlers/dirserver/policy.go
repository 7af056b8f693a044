package dirserver

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Disposition says whether a browser should render a file or save it.
type Disposition int

const (
	Inline Disposition = iota
	Attachment
)

func (d Disposition) String() string {
	if d == Attachment {
		return "attachment"
	}
	return "inline"
}

// Classification is the content decision for one file name.
type Classification struct {
	MimeType            string
	IsText              bool
	IsBrowserRenderable bool
}

// Disposition derives inline/attachment from the classification.
func (c Classification) Disposition() Disposition {
	if c.IsText || c.IsBrowserRenderable {
		return Inline
	}
	return Attachment
}

// ContentPolicy classifies files and builds their response headers.
type ContentPolicy struct {
	Registry *MimeRegistry
}

// NewContentPolicy returns a policy backed by registry.
func NewContentPolicy(registry *MimeRegistry) *ContentPolicy {
	return &ContentPolicy{Registry: registry}
}

// Classify resolves filename's type and decides how it is served.
func (p *ContentPolicy) Classify(filename string) Classification {
	mimeType := p.Registry.TypeOf(filename)
	return Classification{
		MimeType:            mimeType,
		IsText:              isTextType(mimeType),
		IsBrowserRenderable: isBrowserRenderable(mimeType),
	}
}

func isTextType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
}

func isBrowserRenderable(mimeType string) bool {
	switch {
	case mimeType == "application/json", mimeType == "application/pdf":
		return true
	case strings.HasPrefix(mimeType, "image/"), strings.HasPrefix(mimeType, "video/"):
		return true
	}
	return false
}

// Headers builds the content headers for a file. charset is only used for
// text classifications; basename is the file's own name.
func (p *ContentPolicy) Headers(c Classification, charset, basename string) *HeaderList {
	h := &HeaderList{}
	if c.IsText {
		h.Set("Content-Type", c.MimeType+"; charset="+charset)
		return h
	}
	h.Set("Content-Type", c.MimeType)
	if c.Disposition() == Attachment {
		h.Set("Content-Description", "File Transfer")
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-Disposition", "attachment;filename="+url.PathEscape(basename))
	}
	return h
}

type headerField struct {
	name  string
	value string
}

// HeaderList is an ordered header set with unique, case-insensitive keys.
// Setting an existing key replaces its value in place.
type HeaderList struct {
	fields []headerField
}

// Set adds or replaces name.
func (h *HeaderList) Set(name, value string) {
	name = http.CanonicalHeaderKey(name)
	for i := range h.fields {
		if h.fields[i].name == name {
			h.fields[i].value = value
			return
		}
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// SetInt is Set with a decimal value.
func (h *HeaderList) SetInt(name string, v int64) {
	h.Set(name, strconv.FormatInt(v, 10))
}

// Get returns the value for name, or "".
func (h *HeaderList) Get(name string) string {
	name = http.CanonicalHeaderKey(name)
	for _, f := range h.fields {
		if f.name == name {
			return f.value
		}
	}
	return ""
}

// Keys returns header names in insertion order.
func (h *HeaderList) Keys() []string {
	keys := make([]string, len(h.fields))
	for i, f := range h.fields {
		keys[i] = f.name
	}
	return keys
}

func (h *HeaderList) Len() int { return len(h.fields) }

// Apply copies the headers onto dst, replacing existing values.
func (h *HeaderList) Apply(dst http.Header) {
	for _, f := range h.fields {
		dst.Set(f.name, f.value)
	}
}
