package app_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dirserve/internal/app"
	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
)

func TestNewWithLogger_ServesRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))
	cfg := config.NewDefaultConfig(root)
	require.NoError(t, config.Validate(cfg))

	var access bytes.Buffer
	lg, err := logger.NewWithWriters(cfg.Logging, &access, io.Discard)
	require.NoError(t, err)

	a, err := app.NewWithLogger(cfg, lg)
	require.NoError(t, err)
	require.NotNil(t, a.Server)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
	assert.Contains(t, access.String(), `"uri":"/a.txt"`)
}

func TestNewWithLogger_CustomTemplates(t *testing.T) {
	root := t.TempDir()
	tmpl := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "listing.html"), []byte(`custom {{len .Items}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "error.html"), []byte(`oops {{.StatusCode}}`), 0o644))

	cfg := config.NewDefaultConfig(root)
	cfg.DirServer.TemplateDir = &tmpl

	a, err := app.NewWithLogger(cfg, logger.NewDiscardLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "custom 0", rec.Body.String())

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, "oops 404 Not Found", rec.Body.String())
}

func TestNewWithLogger_Errors(t *testing.T) {
	_, err := app.NewWithLogger(nil, logger.NewDiscardLogger())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig(t.TempDir())
	_, err = app.NewWithLogger(cfg, nil)
	assert.Error(t, err)

	missing := filepath.Join(t.TempDir(), "no-templates")
	cfg.DirServer.TemplateDir = &missing
	_, err = app.NewWithLogger(cfg, logger.NewDiscardLogger())
	assert.Error(t, err)
}

func TestNew_BuildsLogger(t *testing.T) {
	cfg := config.NewDefaultConfig(t.TempDir())
	logFile := filepath.Join(t.TempDir(), "error.log")
	cfg.Logging.ErrorLog.Target = &logFile
	cfg.Logging.LogLevel = config.LogLevelDebug

	a, err := app.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Application wired")
}
