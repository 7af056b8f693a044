package logger

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"example.com/dirserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a log line.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessLogger writes one line per completed request.
type AccessLogger struct {
	zl            zerolog.Logger
	out           *reopenableWriter
	format        string
	realIPHeader  string
	parsedProxies parsedProxiesContainer
}

// ErrorLogger writes leveled diagnostic messages.
type ErrorLogger struct {
	zl  zerolog.Logger
	out *reopenableWriter
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog *AccessLogger
	errorLog  *ErrorLogger
}

// reopenableWriter serialises writes and lets file targets be reopened after rotation.
type reopenableWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	std  io.Writer
}

func openTarget(target string) (*reopenableWriter, error) {
	switch target {
	case "", "stderr":
		return &reopenableWriter{std: os.Stderr}, nil
	case "stdout":
		return &reopenableWriter{std: os.Stdout}, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	return &reopenableWriter{path: target, file: f}, nil
}

func (w *reopenableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Write(p)
	}
	if w.std != nil {
		return w.std.Write(p)
	}
	return len(p), nil
}

// isTerminal reports whether the writer is a standard stream attached to a TTY.
func (w *reopenableWriter) isTerminal() bool {
	f, ok := w.std.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (w *reopenableWriter) reopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path == "" {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Keep logging somewhere until the next reopen succeeds.
		w.std = os.Stderr
		return fmt.Errorf("failed to reopen log file %s: %w", w.path, err)
	}
	w.file = f
	return nil
}

func (w *reopenableWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// NewLogger creates and configures a new Logger instance from a defaulted config.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, errors.New("logging configuration cannot be nil")
	}

	errTarget := "stderr"
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errTarget = *cfg.ErrorLog.Target
	}
	errOut, err := openTarget(errTarget)
	if err != nil {
		return nil, err
	}

	var accessOut *reopenableWriter
	if accessEnabled(cfg) {
		accessTarget := "stdout"
		if cfg.AccessLog.Target != nil {
			accessTarget = *cfg.AccessLog.Target
		}
		if accessOut, err = openTarget(accessTarget); err != nil {
			_ = errOut.close()
			return nil, err
		}
	}

	l, err := build(cfg, accessOut, errOut)
	if err != nil {
		_ = errOut.close()
		if accessOut != nil {
			_ = accessOut.close()
		}
		return nil, err
	}
	return l, nil
}

// NewWithWriters builds a Logger writing to the given writers instead of the
// configured targets. A nil accessOut disables access logging.
func NewWithWriters(cfg *config.LoggingConfig, accessOut, errorOut io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, errors.New("logging configuration cannot be nil")
	}
	var aw *reopenableWriter
	if accessOut != nil && accessEnabled(cfg) {
		aw = &reopenableWriter{std: accessOut}
	}
	return build(cfg, aw, &reopenableWriter{std: errorOut})
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: &ErrorLogger{zl: zerolog.Nop(), out: &reopenableWriter{std: io.Discard}}}
}

func accessEnabled(cfg *config.LoggingConfig) bool {
	return cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled)
}

func build(cfg *config.LoggingConfig, accessOut, errOut *reopenableWriter) (*Logger, error) {
	errFormat := config.FormatJSON
	if cfg.ErrorLog != nil && cfg.ErrorLog.Format != "" {
		errFormat = cfg.ErrorLog.Format
	}
	l := &Logger{errorLog: &ErrorLogger{
		zl:  newErrorZerolog(errOut, errFormat).Level(zerologLevel(cfg.LogLevel)),
		out: errOut,
	}}

	if accessOut != nil {
		parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		al := &AccessLogger{
			zl:            zerolog.New(accessOut),
			out:           accessOut,
			format:        cfg.AccessLog.Format,
			parsedProxies: parsedProxies,
		}
		if cfg.AccessLog.RealIPHeader != nil {
			al.realIPHeader = *cfg.AccessLog.RealIPHeader
		}
		l.accessLog = al
	}
	return l, nil
}

func newErrorZerolog(out *reopenableWriter, format string) zerolog.Logger {
	console := format == config.FormatConsole || (format == config.FormatAuto && out.isTerminal())
	if console {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !out.isTerminal()}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	container := parsedProxiesContainer{
		cidrs: make([]*net.IPNet, 0),
		ips:   make([]net.IP, 0),
	}

	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
		} else {
			ip := net.ParseIP(pStr)
			if ip == nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
			}
			container.ips = append(container.ips, ip)
		}
	}
	return container, nil
}

// isIPTrusted checks if a given IP address is in the list of trusted proxies.
func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP walks realIPHeaderName right to left and returns the first
// address that is not a trusted proxy. The direct peer is used when the header
// is absent, malformed, or made entirely of trusted proxies.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return peer
}

// LogAccess writes an access log entry for a completed request.
func (al *AccessLogger) LogAccess(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}

	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	remote := getRealClientIP(req.RemoteAddr, req.Header, al.realIPHeader, al.parsedProxies)
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	if al.format == config.FormatText {
		fmt.Fprintf(al.out, "%s %s \"%s %s %s\" %d %s %dms\n",
			ts, remote, req.Method, req.RequestURI, req.Proto, status,
			humanize.IBytes(uint64(max(responseBytes, 0))), duration.Milliseconds())
		return
	}

	ev := al.zl.Log().
		Str("ts", ts).
		Str("remote_addr", remote).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes msg at level when the level passes the configured threshold.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields ...LogFields) {
	if el == nil {
		return
	}
	var ev *zerolog.Event
	switch level {
	case config.LogLevelDebug:
		ev = el.zl.Debug()
	case config.LogLevelWarning:
		ev = el.zl.Warn()
	case config.LogLevelError:
		ev = el.zl.Error()
	default:
		ev = el.zl.Info()
	}
	for _, f := range fields {
		ev = ev.Fields(map[string]interface{}(f))
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields...)
}

// Access records a completed request. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, status, responseBytes, duration)
}

// AccessEnabled reports whether access lines are written.
func (l *Logger) AccessEnabled() bool {
	return l.accessLog != nil
}

// CloseLogFiles closes any open log files. Standard streams are left alone.
func (l *Logger) CloseLogFiles() error {
	var errs []error
	if l.accessLog != nil {
		errs = append(errs, l.accessLog.out.close())
	}
	if l.errorLog != nil {
		errs = append(errs, l.errorLog.out.close())
	}
	return errors.Join(errs...)
}

// ReopenLogFiles closes and reopens file-based targets, typically on SIGHUP.
func (l *Logger) ReopenLogFiles() error {
	var errs []error
	if l.errorLog != nil {
		errs = append(errs, l.errorLog.out.reopen())
	}
	if l.accessLog != nil {
		errs = append(errs, l.accessLog.out.reopen())
	}
	return errors.Join(errs...)
}
