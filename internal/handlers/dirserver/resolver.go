package dirserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"example.com/dirserve/internal/charset"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/render"
)

// Kind tags what a request path resolved to.
type Kind int

const (
	KindMissing Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "missing"
	}
}

// Target is the outcome of resolving a request path against the root.
type Target struct {
	Kind Kind
	// RequestPath is the percent-decoded request path (or the raw path when it
	// could not be decoded).
	RequestPath string
	// FSPath is the absolute, cleaned filesystem path; empty for KindMissing.
	FSPath string
}

// NotFoundError reports a request path with nothing behind it.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// IOError reports a filesystem failure on a path that does exist.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Response is a fully built reply for a resolved path.
type Response struct {
	Status int
	Header *HeaderList
	Body   []byte
}

// Resolver maps request paths onto the served root and builds responses.
type Resolver struct {
	root     string
	realRoot string
	cache    *ListingCache
	policy   *ContentPolicy
	detector *charset.Detector
	renderer *render.Renderer
	log      *logger.Logger
}

// NewResolver returns a Resolver serving root, which must be absolute.
func NewResolver(root string, cache *ListingCache, policy *ContentPolicy, detector *charset.Detector, renderer *render.Renderer, lg *logger.Logger) *Resolver {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	root = filepath.Clean(root)
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	return &Resolver{
		root:     root,
		realRoot: realRoot,
		cache:    cache,
		policy:   policy,
		detector: detector,
		renderer: renderer,
		log:      lg,
	}
}

// Root returns the served root.
func (r *Resolver) Root() string { return r.root }

// Resolve decodes rawPath and locates it under the root. Paths that cannot be
// decoded, escape the root (lexically or through a symlink), do not exist, or
// name something other than a directory or regular file resolve to
// KindMissing. Only unexpected stat
// failures are returned as errors.
func (r *Resolver) Resolve(rawPath string) (Target, error) {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil || strings.IndexByte(decoded, 0) >= 0 {
		return Target{Kind: KindMissing, RequestPath: rawPath}, nil
	}

	rel := strings.Trim(decoded, "/")
	if rel == "" {
		return Target{Kind: KindDirectory, RequestPath: decoded, FSPath: r.root}, nil
	}

	p := filepath.Join(r.root, filepath.FromSlash(rel))
	if !r.contains(p) {
		r.log.Warn("Request path escapes the served root", logger.LogFields{"path": decoded, "resolved": p})
		return Target{Kind: KindMissing, RequestPath: decoded}, nil
	}

	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return Target{Kind: KindMissing, RequestPath: decoded}, nil
		}
		return Target{}, &IOError{Op: "stat", Path: p, Err: err}
	}

	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return Target{}, &IOError{Op: "resolve", Path: p, Err: err}
	}
	if !within(r.realRoot, resolved) {
		r.log.Warn("Request path leaves the served root through a symlink", logger.LogFields{"path": decoded, "resolved": resolved})
		return Target{Kind: KindMissing, RequestPath: decoded}, nil
	}

	switch {
	case fi.IsDir():
		return Target{Kind: KindDirectory, RequestPath: decoded, FSPath: p}, nil
	case fi.Mode().IsRegular():
		return Target{Kind: KindFile, RequestPath: decoded, FSPath: p}, nil
	default:
		return Target{Kind: KindMissing, RequestPath: decoded}, nil
	}
}

func (r *Resolver) contains(p string) bool {
	return within(r.root, p)
}

// within reports whether p is root or lies below it. Both must be clean.
func within(root, p string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// Handle resolves rawPath and builds the listing or file response. A missing
// target yields *NotFoundError; filesystem failures yield *IOError.
func (r *Resolver) Handle(ctx context.Context, rawPath string) (*Response, error) {
	t, err := r.Resolve(rawPath)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case KindDirectory:
		return r.listing(ctx, t)
	case KindFile:
		return r.file(ctx, t)
	default:
		return nil, &NotFoundError{Path: t.RequestPath}
	}
}

func (r *Resolver) listing(ctx context.Context, t Target) (*Response, error) {
	entries, err := r.cache.Entries(ctx, t.FSPath)
	if err != nil {
		return nil, &IOError{Op: "list", Path: t.FSPath, Err: err}
	}

	title := t.RequestPath
	if title == "" {
		title = "/"
	}
	base := escapePath(t.RequestPath)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	items := make([]render.ListingItem, len(entries))
	for i, e := range entries {
		href := base + url.PathEscape(e.Name)
		if e.Dir {
			href += "/"
		}
		items[i] = render.ListingItem{Name: e.Display(), Href: href}
	}

	body, err := r.renderer.Listing(render.ListingPage{Title: title, Items: items})
	if err != nil {
		return nil, fmt.Errorf("render listing for %s: %w", t.RequestPath, err)
	}

	h := &HeaderList{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.SetInt("Content-Length", int64(len(body)))

	r.log.Debug("Serving directory listing", logger.LogFields{"path": t.RequestPath, "resolved": t.FSPath, "entries": len(entries)})
	return &Response{Status: http.StatusOK, Header: h, Body: body}, nil
}

func (r *Resolver) file(ctx context.Context, t Target) (*Response, error) {
	name := filepath.Base(t.FSPath)
	c := r.policy.Classify(name)

	var enc string
	if c.IsText {
		res := r.detector.Detect(ctx, t.FSPath)
		enc = res.Name
		if res.Fallback {
			r.log.Debug("Charset detection fell back to default", logger.LogFields{"path": t.FSPath, "charset": enc})
		}
	}

	data, err := os.ReadFile(t.FSPath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: t.FSPath, Err: err}
	}

	h := r.policy.Headers(c, enc, name)
	h.SetInt("Content-Length", int64(len(data)))

	r.log.Debug("Serving file", logger.LogFields{
		"path":        t.RequestPath,
		"resolved":    t.FSPath,
		"mime_type":   c.MimeType,
		"charset":     enc,
		"disposition": c.Disposition().String(),
		"size":        humanize.IBytes(uint64(len(data))),
	})
	return &Response{Status: http.StatusOK, Header: h, Body: data}, nil
}

// escapePath percent-escapes each segment of a decoded URL path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
