// Package app wires configuration, logging, the directory handler and the
// HTTP server into one runnable unit.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/handlers/dirserver"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/render"
	"example.com/dirserve/internal/server"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	DirServer *dirserver.DirServer
	Handler   http.Handler
	Server    *server.Server
}

// New builds the logger from cfg and wires the rest with it.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}
	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a, err := NewWithLogger(cfg, lg)
	if err != nil {
		_ = lg.CloseLogFiles()
		return nil, err
	}
	return a, nil
}

// NewWithLogger wires an App around an existing logger. cfg must be
// defaulted and validated.
func NewWithLogger(cfg *config.Config, lg *logger.Logger) (*App, error) {
	if cfg == nil || cfg.DirServer == nil {
		return nil, errors.New("configuration cannot be nil")
	}
	if lg == nil {
		return nil, errors.New("logger cannot be nil")
	}

	var templateDir string
	if cfg.DirServer.TemplateDir != nil {
		templateDir = *cfg.DirServer.TemplateDir
	}
	renderer, err := render.New(templateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load page templates: %w", err)
	}

	errWriter := server.NewErrorWriter(server.NewStatusCatalog(), renderer, lg)
	ds, err := dirserver.New(cfg.DirServer, lg, renderer, errWriter)
	if err != nil {
		return nil, err
	}

	handler := server.Wrap(ds, errWriter, lg)
	srv, err := server.NewServer(cfg, lg, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	lg.Debug("Application wired", logger.LogFields{
		"document_root":   cfg.DirServer.DocumentRoot,
		"default_charset": cfg.DirServer.DefaultCharset,
		"custom_mime":     len(cfg.DirServer.MimeTypes),
		"templates":       templateDir,
	})
	return &App{Config: cfg, Log: lg, DirServer: ds, Handler: handler, Server: srv}, nil
}

// Close releases log files.
func (a *App) Close() error {
	return a.Log.CloseLogFiles()
}
