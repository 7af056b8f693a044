package server_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/render"
	"example.com/dirserve/internal/server"
	"example.com/dirserve/internal/testutil"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig(t.TempDir())
	addr := "127.0.0.1:0"
	cfg.Server.Address = &addr
	cfg.Server.GracefulShutdownTimeout = config.NewDuration(2 * time.Second)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

var helloHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, r.Proto)
})

// startServer runs s in the background and returns a stop function that
// cancels it and reports Run's result.
func startServer(t *testing.T, s *server.Server) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited before becoming ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	stopped := false
	var runErr error
	stop := func() error {
		if stopped {
			return runErr
		}
		stopped = true
		cancel()
		select {
		case runErr = <-done:
		case <-time.After(5 * time.Second):
			runErr = errors.New("server did not stop")
		}
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestNewServer_NilArgs(t *testing.T) {
	cfg := newTestConfig(t)
	lg := logger.NewDiscardLogger()

	_, err := server.NewServer(nil, lg, helloHandler)
	assert.Error(t, err)
	_, err = server.NewServer(cfg, nil, helloHandler)
	assert.Error(t, err)
	_, err = server.NewServer(cfg, lg, nil)
	assert.Error(t, err)
}

func TestServer_AddrBeforeRun(t *testing.T) {
	s, err := server.NewServer(newTestConfig(t), logger.NewDiscardLogger(), helloHandler)
	require.NoError(t, err)
	assert.Nil(t, s.Addr())
	assert.Empty(t, s.URL())
}

func TestServer_HTTP1(t *testing.T) {
	s, err := server.NewServer(newTestConfig(t), logger.NewDiscardLogger(), helloHandler)
	require.NoError(t, err)
	stop := startServer(t, s)

	require.NotNil(t, s.Addr())
	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"))

	resp, err := http.Get(s.URL())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/1.1", string(body))

	assert.NoError(t, stop())
}

func TestServer_H2C(t *testing.T) {
	s, err := server.NewServer(newTestConfig(t), logger.NewDiscardLogger(), helloHandler)
	require.NoError(t, err)
	startServer(t, s)

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
	resp, err := client.Get(s.URL())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, "HTTP/2.0", string(body))
}

func TestServer_TLSNegotiatesHTTP2(t *testing.T) {
	pair := testutil.NewCertKeyPair(t)
	cfg := newTestConfig(t)
	cfg.Server.TLSCertFile = &pair.CertFile
	cfg.Server.TLSKeyFile = &pair.KeyFile
	require.NoError(t, config.Validate(cfg))

	s, err := server.NewServer(cfg, logger.NewDiscardLogger(), helloHandler)
	require.NoError(t, err)
	startServer(t, s)
	require.True(t, strings.HasPrefix(s.URL(), "https://"))

	resp, err := pair.Client().Get(s.URL())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/2.0", string(body))
}

func TestServer_AddressInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := newTestConfig(t)
	addr := occupied.Addr().String()
	cfg.Server.Address = &addr

	s, err := server.NewServer(cfg, logger.NewDiscardLogger(), helloHandler)
	require.NoError(t, err)
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
}

func TestServer_GracefulShutdownWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, "done")
	})

	s, err := server.NewServer(newTestConfig(t), logger.NewDiscardLogger(), slow)
	require.NoError(t, err)
	stop := startServer(t, s)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(s.URL())
		if err != nil {
			got <- result{err: err}
			return
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		got <- result{body: string(b)}
	}()

	<-entered
	stopErr := make(chan error, 1)
	go func() { stopErr <- stop() }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, "done", r.body)
	assert.NoError(t, <-stopErr)
}

func newJSONAccessLogger(t *testing.T, access *bytes.Buffer) *logger.Logger {
	t.Helper()
	cfg := config.NewDefaultConfig(t.TempDir()).Logging
	lg, err := logger.NewWithWriters(cfg, access, io.Discard)
	require.NoError(t, err)
	return lg
}

func TestAccessLog_RecordsStatusAndBytes(t *testing.T) {
	var access bytes.Buffer
	lg := newJSONAccessLogger(t, &access)

	h := server.AccessLog(lg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(access.Bytes()), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, float64(len("short and stout")), entry["resp_bytes"])
	assert.Equal(t, "/pot", entry["uri"])
	assert.Equal(t, "GET", entry["method"])
}

func TestAccessLog_ImplicitOK(t *testing.T) {
	var access bytes.Buffer
	lg := newJSONAccessLogger(t, &access)

	h := server.AccessLog(lg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(access.Bytes()), &entry))
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, float64(0), entry["resp_bytes"])
}

func TestRecover_PanicBecomes500(t *testing.T) {
	var access bytes.Buffer
	lg := newJSONAccessLogger(t, &access)
	ew := server.NewErrorWriter(nil, render.MustNew(), lg)

	h := server.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), ew, lg)

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "500 Internal Server Error")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(access.Bytes()), &entry))
	assert.Equal(t, float64(http.StatusInternalServerError), entry["status"])
}

func TestRecover_AfterHeadersAborts(t *testing.T) {
	ew := server.NewErrorWriter(nil, render.MustNew(), nil)
	h := server.Recover(ew, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
