// Package render turns listing and error data into HTML pages.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
)

const (
	listingTemplate = "listing.html"
	errorTemplate   = "error.html"
)

//go:embed templates/*.html
var embedded embed.FS

// ListingItem is one entry of a directory listing.
type ListingItem struct {
	Name string // display string, e.g. "DOCS/" or "a.txt"
	Href string // absolute, percent-escaped link target
}

// ListingPage is the data passed to listing.html.
type ListingPage struct {
	Title string
	Items []ListingItem
}

// ErrorPage is the data passed to error.html.
type ErrorPage struct {
	Title      string
	StatusCode string // e.g. "404 Not Found"
	Message    string
	Traceback  string
}

// Renderer executes the page templates. It is safe for concurrent use.
type Renderer struct {
	listing *template.Template
	errPage *template.Template
}

// New parses the page templates. When templateDir is non-empty, listing.html
// and error.html are read from it instead of the embedded copies.
func New(templateDir string) (*Renderer, error) {
	var fsys fs.FS
	if templateDir != "" {
		fsys = os.DirFS(templateDir)
	} else {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}

	listing, err := template.ParseFS(fsys, listingTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", listingTemplate, err)
	}
	errPage, err := template.ParseFS(fsys, errorTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", errorTemplate, err)
	}
	return &Renderer{listing: listing, errPage: errPage}, nil
}

// MustNew is New with the embedded templates, panicking on failure.
func MustNew() *Renderer {
	r, err := New("")
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Renderer) Listing(p ListingPage) ([]byte, error) {
	return execute(r.listing, p)
}

func (r *Renderer) Error(p ErrorPage) ([]byte, error) {
	return execute(r.errPage, p)
}

func execute(t *template.Template, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}
