package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"copycat/internal/metrics"
	"copycat/internal/store"
)

type Config struct {
	Addr         string        // e.g. ":5000"
	MaxBodyBytes int64         // request body cap, uploads included
	FetchTimeout time.Duration // connect/header/idle timeout for URL uploads
	PublicURL    string        // external base URL, used for office viewer links
	LANURL       string        // address shown in the QR code
	RateLimit    bool
	Version      string
}

type Server struct {
	cfg        Config
	store      *store.Store
	hub        *Hub
	fetch      *fetcher
	audit      Auditor
	limiter    *endpointRateLimiter
	httpServer *http.Server

	checksMu sync.RWMutex
	checks   map[string]HealthCheck
}

// Option customises a Server.
type Option func(*Server)

// WithAuditor records every mutation through a.
func WithAuditor(a Auditor) Option {
	return func(s *Server) { s.audit = a }
}

// WithHealthCheck adds a named component to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func New(cfg Config, st *store.Store, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 30
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		store:  st,
		hub:    NewHub(),
		fetch:  newFetcher(cfg.FetchTimeout),
		audit:  nopAuditor{},
		checks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	st.Subscribe(func(c store.Change) {
		s.hub.Publish(string(c.Kind))
		switch c.Kind {
		case store.KindFiles:
			metrics.SetStoredFiles(len(st.Snapshot().Files))
		case store.KindClipboard:
			metrics.SetClipboardEntries(len(st.Snapshot().Clipboard))
		}
	})
	snap := st.Snapshot()
	metrics.SetStoredFiles(len(snap.Files))
	metrics.SetClipboardEntries(len(snap.Clipboard))

	// Wrap middleware: requestID -> logging -> security -> rate limit -> compression -> mux
	var handler http.Handler = s.routes()
	handler = compressionMiddleware(handler)
	if cfg.RateLimit {
		s.limiter = newEndpointRateLimiter(defaultEndpointRateLimitConfig())
		handler = s.limiter.middleware(handler)
	}
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", s.indexHandler())
	mux.Handle("POST /{$}", s.uploadHandler())
	mux.Handle("POST /upload-from-url", s.uploadFromURLHandler())

	mux.Handle("GET /uploads/{name}", s.downloadHandler(dispositionAttachment))
	mux.Handle("GET /inline/{name}", s.downloadHandler(dispositionInline))
	mux.Handle("GET /view/{name}", s.viewHandler())
	mux.Handle("POST /delete/{name}", s.deleteFileHandler())
	mux.Handle("POST /reset-files", s.resetFilesHandler())
	mux.Handle("GET /files", s.listFilesHandler())
	mux.Handle("GET /archive", s.archiveHandler())

	mux.Handle("GET /clipboard", s.getClipboardHandler())
	mux.Handle("POST /clipboard", s.addClipboardHandler())
	mux.Handle("POST /clipboard/delete", s.deleteClipboardHandler())
	mux.Handle("POST /reset-clipboard", s.resetClipboardHandler())

	mux.Handle("GET /qr.png", s.qrHandler())
	mux.Handle("GET /ws", s.hub)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ready", s.HandleReady)
	mux.HandleFunc("GET /live", s.HandleLive)

	return mux
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpServer.Shutdown(ctx)
}
