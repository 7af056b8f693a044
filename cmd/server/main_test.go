package main

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags(newFlagSet(), []string{"-config", "c.toml", "-addr", ":9000"})
	require.NoError(t, err)
	assert.Equal(t, "c.toml", o.configPath)
	assert.Equal(t, ":9000", o.addr)

	_, err = parseFlags(newFlagSet(), nil)
	assert.Error(t, err)

	_, err = parseFlags(newFlagSet(), []string{"-root", ".", "stray"})
	assert.Error(t, err)

	_, err = parseFlags(newFlagSet(), []string{"-bogus"})
	assert.Error(t, err)
}

func TestLoadConfig_FromFileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "public"), 0o755))
	other := t.TempDir()
	path := filepath.Join(dir, "dirserve.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
address = "127.0.0.1:7000"

[dir_server]
document_root = "public"
`), 0o644))

	cfg, err := loadConfig(options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", *cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "public"), cfg.DirServer.DocumentRoot)

	cfg, err = loadConfig(options{configPath: path, addr: ":7001", root: other})
	require.NoError(t, err)
	assert.Equal(t, ":7001", *cfg.Server.Address)
	assert.Equal(t, filepath.Clean(other), cfg.DirServer.DocumentRoot)
}

func TestLoadConfig_RootOnly(t *testing.T) {
	root := t.TempDir()
	cfg, err := loadConfig(options{root: root})
	require.NoError(t, err)
	assert.Equal(t, "localhost:8888", *cfg.Server.Address)
	assert.Equal(t, filepath.Clean(root), cfg.DirServer.DocumentRoot)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = loadConfig(options{root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestPrintBanner(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	printBanner(&buf, "/srv/files", "http://localhost:8888/")
	assert.Equal(t, "dirserve\n  Serving /srv/files\n  Listening on http://localhost:8888/\n  Press Ctrl+C to stop\n", buf.String())
}
