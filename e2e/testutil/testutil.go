// Package testutil runs a fully wired dirserve instance on a loopback port
// and drives it with real HTTP/1.1 and h2c clients.
package testutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"example.com/dirserve/internal/app"
	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // raw request target, already percent-encoded
	Headers http.Header
}

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // Returns match status and a description of mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request. Header
// values are compared exactly; an empty expected value asserts the header is
// absent.
type ExpectedResponse struct {
	StatusCode   int
	Headers      map[string]string
	BodyMatcher  BodyMatcher
	ExpectNoBody bool
}

// ActualResponse stores the outcome of an HTTP request.
type ActualResponse struct {
	StatusCode int
	ProtoMajor int
	Headers    http.Header
	Body       []byte
}

// Verify reports every mismatch between actual and expected.
func Verify(t testing.TB, actual ActualResponse, expected ExpectedResponse) {
	t.Helper()
	if expected.StatusCode != 0 && actual.StatusCode != expected.StatusCode {
		t.Errorf("status: got %d, want %d (body %q)", actual.StatusCode, expected.StatusCode, actual.Body)
	}
	for name, want := range expected.Headers {
		got := actual.Headers.Get(name)
		if want == "" {
			if _, present := actual.Headers[http.CanonicalHeaderKey(name)]; present {
				t.Errorf("header %s: expected absent, got %q", name, got)
			}
			continue
		}
		if got != want {
			t.Errorf("header %s: got %q, want %q", name, got, want)
		}
	}
	if expected.ExpectNoBody {
		if len(actual.Body) != 0 {
			t.Errorf("expected empty body, got %d bytes", len(actual.Body))
		}
	} else if expected.BodyMatcher != nil {
		if ok, why := expected.BodyMatcher.Match(actual.Body); !ok {
			t.Error(why)
		}
	}
}

// ClientMode selects the protocol spoken by a Client.
type ClientMode string

const (
	HTTP1 ClientMode = "http1"
	H2C   ClientMode = "h2c"
)

// Client issues TestRequests over one protocol.
type Client struct {
	Mode ClientMode
	hc   *http.Client
}

// NewClient returns a client for mode.
func NewClient(mode ClientMode) *Client {
	var rt http.RoundTripper
	switch mode {
	case H2C:
		rt = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	default:
		rt = &http.Transport{DisableCompression: true}
	}
	return &Client{Mode: mode, hc: &http.Client{Transport: rt, Timeout: 10 * time.Second}}
}

// Do sends request to baseURL (e.g. "http://127.0.0.1:1234/").
func (c *Client) Do(baseURL string, request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	target := strings.TrimSuffix(baseURL, "/") + request.Path
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("build request %s %s: %w", method, target, err)
	}
	// Keep the path exactly as written, including encoded dot segments.
	req.URL.Opaque = "//" + req.URL.Host + request.Path
	for k, v := range request.Headers {
		req.Header[k] = v
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("read body: %w", err)
	}
	return ActualResponse{StatusCode: resp.StatusCode, ProtoMajor: resp.ProtoMajor, Headers: resp.Header, Body: body}, nil
}

// ServerInstance is a running in-process server.
type ServerInstance struct {
	App       *app.App
	URL       string
	ErrorLog  *SyncBuffer
	AccessLog *SyncBuffer

	cancel context.CancelFunc
	done   chan error
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// StartServer wires and runs cfg on 127.0.0.1 with a kernel-chosen port.
// Logs are captured in memory. The server is stopped when the test ends.
func StartServer(t testing.TB, cfg *config.Config) *ServerInstance {
	t.Helper()
	addr := "127.0.0.1:0"
	cfg.Server.Address = &addr
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("invalid configuration: %v", err)
	}

	si := &ServerInstance{ErrorLog: &SyncBuffer{}, AccessLog: &SyncBuffer{}, done: make(chan error, 1)}
	lg, err := logger.NewWithWriters(cfg.Logging, si.AccessLog, si.ErrorLog)
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	a, err := app.NewWithLogger(cfg, lg)
	if err != nil {
		t.Fatalf("wire app: %v", err)
	}
	si.App = a

	ctx, cancel := context.WithCancel(context.Background())
	si.cancel = cancel
	go func() { si.done <- a.Server.Run(ctx) }()

	select {
	case <-a.Server.Ready():
	case err := <-si.done:
		cancel()
		t.Fatalf("server exited during startup: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("timed out waiting for server to listen")
	}
	si.URL = a.Server.URL()
	t.Cleanup(func() {
		if err := si.Stop(); err != nil {
			t.Errorf("stop server: %v\nerror log:\n%s", err, si.ErrorLog.String())
		}
	})
	return si
}

// Stop cancels the server and waits for Run to return. Later calls are no-ops.
func (s *ServerInstance) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.done:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not stop within 10s")
	}
}

// WriteTree creates files under a fresh temporary root. Keys ending in "/"
// create directories; other keys create files with the given content.
func WriteTree(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", p, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return root
}

// WriteConfigFile writes content to name inside dir and returns its path.
func WriteConfigFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config %s: %v", p, err)
	}
	return p
}
