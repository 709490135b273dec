package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pewcms/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

// ServerConfig controls the listener.
//
// A non-loopback Addr requires a Token; the server refuses to start
// otherwise.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Token   string
	Pprof   bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Server runs the API listener and restarts it when its config changes.
type Server struct {
	api *API
	log logx.Logger

	mu   sync.Mutex
	cfg  ServerConfig
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func NewServer(api *API, cfg ServerConfig, log logx.Logger) *Server {
	return &Server{api: api, cfg: cfg, log: log.With(logx.String("comp", "httpapi"))}
}

// Addr is the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. It is a no-op when
// disabled or already running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}

	cfg := s.cfg
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("httpapi: refusing to listen on %s without a token", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}

	rht := cfg.ReadHeaderTimeout
	if rht <= 0 {
		rht = 10 * time.Second
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	srv := &http.Server{
		Handler:           s.api.Router(Options{Token: cfg.Token, Pprof: cfg.Pprof}),
		ReadHeaderTimeout: rht,
		IdleTimeout:       idle,
	}
	done := make(chan struct{})
	s.srv, s.ln, s.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http api listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests until ctx
// ends.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("http api stopped")
}

// Reconfigure applies cfg, restarting the listener only when something it
// depends on changed.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
		return nil
	case running && prev == cfg:
		return nil
	case running:
		s.Stop(ctx)
	}
	return s.Start()
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
