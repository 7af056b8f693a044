package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"example.com/dirserve/internal/logger"
)

// responseRecorder captures the status code and body size written by a
// handler.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	if rr, ok := w.(*responseRecorder); ok {
		return rr
	}
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.wroteHeader {
		return
	}
	rr.status = code
	rr.wroteHeader = true
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.bytes += int64(n)
	return n, err
}

func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// AccessLog records one access-log line per request once next returns.
func AccessLog(lg *logger.Logger, next http.Handler) http.Handler {
	if lg == nil || !lg.AccessEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := newResponseRecorder(w)
		defer func() {
			lg.Access(r, rr.status, rr.bytes, time.Since(start))
		}()
		next.ServeHTTP(rr, r)
	})
}

// Recover turns a handler panic into a 500 error response. If the handler had
// already started the response the connection is left to net/http.
func Recover(ew *ErrorWriter, lg *logger.Logger, next http.Handler) http.Handler {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := newResponseRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			lg.Error("Recovered from handler panic", logger.LogFields{
				"method": r.Method,
				"path":   r.URL.Path,
				"panic":  fmt.Sprint(v),
				"stack":  string(debug.Stack()),
			})
			if rr.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			ew.WriteError(rr, r, http.StatusInternalServerError, "")
		}()
		next.ServeHTTP(rr, r)
	})
}

// Wrap applies the standard middleware chain: access logging outermost, then
// panic recovery.
func Wrap(h http.Handler, ew *ErrorWriter, lg *logger.Logger) http.Handler {
	return AccessLog(lg, Recover(ew, lg, h))
}
