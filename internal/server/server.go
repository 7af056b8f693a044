package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/util"
)

// Server owns the listening socket and the http.Server serving the handler.
// Cleartext connections speak HTTP/1.1 and h2c; with TLS configured, HTTP/2
// is negotiated through ALPN.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	httpSrv *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a new Server instance. cfg must already be defaulted and
// validated.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, errors.New("server configuration cannot be nil")
	}
	if lg == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	h2s := &http2.Server{}
	httpSrv := &http.Server{
		ReadHeaderTimeout: durationOr(cfg.Server.ReadHeaderTimeout, 10*time.Second),
	}
	if cfg.Server.TLSEnabled() {
		httpSrv.Handler = handler
		if err := http2.ConfigureServer(httpSrv, h2s); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	} else {
		httpSrv.Handler = h2c.NewHandler(handler, h2s)
	}

	return &Server{
		cfg:     cfg,
		log:     lg,
		httpSrv: httpSrv,
		ready:   make(chan struct{}),
	}, nil
}

func durationOr(d *config.Duration, def time.Duration) time.Duration {
	if d == nil || d.Value() <= 0 {
		return def
	}
	return d.Value()
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the base URL of the bound listener, or "" before it is bound.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return util.DisplayURL(addr, s.cfg.Server.TLSEnabled())
}

func (s *Server) listen() (net.Listener, error) {
	address := *s.cfg.Server.Address
	l, err := util.CreateListener("tcp", address)
	if err != nil {
		if util.IsAddrInUse(err) {
			return nil, fmt.Errorf("address %s is already in use: %w", address, err)
		}
		return nil, err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	close(s.ready)
	return l, nil
}

// Run binds the configured address and serves until ctx is cancelled, then
// shuts down gracefully within the configured timeout. A Server runs once.
func (s *Server) Run(ctx context.Context) error {
	l, err := s.listen()
	if err != nil {
		s.log.Error("Failed to bind listener", logger.LogFields{"address": *s.cfg.Server.Address, "error": err.Error()})
		return err
	}

	tlsOn := s.cfg.Server.TLSEnabled()
	fields := logger.LogFields{
		"address": l.Addr().String(),
		"url":     util.DisplayURL(l.Addr(), tlsOn),
		"tls":     tlsOn,
	}
	if s.cfg.DirServer != nil {
		fields["document_root"] = s.cfg.DirServer.DocumentRoot
	}
	s.log.Info("Server listening", fields)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tlsOn {
			err = s.httpSrv.ServeTLS(l, *s.cfg.Server.TLSCertFile, *s.cfg.Server.TLSKeyFile)
		} else {
			err = s.httpSrv.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := durationOr(s.cfg.Server.GracefulShutdownTimeout, 30*time.Second)
		s.log.Info("Shutting down server", logger.LogFields{"timeout": timeout.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Graceful shutdown incomplete, closing connections", logger.LogFields{"error": err.Error()})
			_ = s.httpSrv.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		s.log.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
	} else {
		s.log.Info("Server stopped")
	}
	return err
}

// Start runs the server until SIGINT or SIGTERM. SIGHUP reopens log files.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for {
			select {
			case <-hup:
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				} else {
					s.log.Info("Reopened log files")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return s.Run(ctx)
}
