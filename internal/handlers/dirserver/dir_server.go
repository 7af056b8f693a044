// Package dirserver serves a directory tree: HTML listings for directories,
// file contents with MIME and charset negotiation for files.
package dirserver

import (
	"errors"
	"fmt"
	"net/http"

	"example.com/dirserve/internal/charset"
	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/render"
	"example.com/dirserve/internal/server"
)

const allowedMethods = "GET, HEAD"

// DirServer is the http.Handler for the served root.
type DirServer struct {
	resolver *Resolver
	cache    *ListingCache
	errors   *server.ErrorWriter
	log      *logger.Logger
}

// New builds the handler and its collaborators from a validated config.
func New(cfg *config.DirServerConfig, lg *logger.Logger, renderer *render.Renderer, errWriter *server.ErrorWriter) (*DirServer, error) {
	if cfg == nil {
		return nil, errors.New("dir_server configuration cannot be nil")
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	if errWriter == nil {
		errWriter = server.NewErrorWriter(nil, renderer, lg)
	}

	registry, err := NewMimeRegistry(cfg)
	if err != nil {
		lg.Error("Failed to initialise MIME registry", logger.LogFields{"error": err.Error()})
		return nil, fmt.Errorf("dirserver: %w", err)
	}

	cache := NewListingCache(lg)
	resolver := NewResolver(
		cfg.DocumentRoot,
		cache,
		NewContentPolicy(registry),
		charset.NewDetector(cfg.DefaultCharset, cfg.DetectionSampleBytes),
		renderer,
		lg,
	)
	return &DirServer{resolver: resolver, cache: cache, errors: errWriter, log: lg}, nil
}

// Cache exposes the listing cache.
func (d *DirServer) Cache() *ListingCache { return d.cache }

// Resolver exposes the path resolver.
func (d *DirServer) Resolver() *Resolver { return d.resolver }

func (d *DirServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.log.Debug("Request received", logger.LogFields{
		"method": r.Method,
		"path":   r.URL.Path,
		"proto":  r.Proto,
	})

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", allowedMethods)
		d.errors.WriteError(w, r, http.StatusMethodNotAllowed, "")
		return
	}

	resp, err := d.resolver.Handle(r.Context(), r.URL.EscapedPath())
	if err != nil {
		d.writeFailure(w, r, err)
		return
	}

	resp.Header.Apply(w.Header())
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		d.log.Debug("Failed to write response body", logger.LogFields{"path": r.URL.Path, "error": err.Error()})
	}
}

func (d *DirServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		d.log.Info("Path not found", logger.LogFields{"path": nf.Path})
		d.errors.WriteError(w, r, http.StatusNotFound, nf.Path)
		return
	}

	var ioErr *IOError
	if errors.As(err, &ioErr) {
		d.log.Error("Filesystem error while serving request", logger.LogFields{
			"op":    ioErr.Op,
			"path":  ioErr.Path,
			"error": ioErr.Err.Error(),
		})
	} else {
		d.log.Error("Failed to build response", logger.LogFields{"path": r.URL.Path, "error": err.Error()})
	}
	d.errors.WriteError(w, r, http.StatusInternalServerError, "")
}
