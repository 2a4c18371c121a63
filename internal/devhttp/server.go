package devhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/edgeconnect/internal/devserver"
	"github.com/psantana5/edgeconnect/internal/report"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

// Prefix namespaces the control endpoints so they never shadow app routes.
const Prefix = "/__edgeconnect"

// SessionSource lists the dev servers that can receive traffic.
type SessionSource interface {
	Sessions() []*devserver.Handle
}

// Status is the body of GET /__edgeconnect/status.
type Status struct {
	Sessions       []devserver.Info       `json:"sessions"`
	RecentFailures []report.FailureSample `json:"recent_failures"`
}

// Server is the local entry point: control endpoints plus a reverse proxy to
// the ready dev server.
type Server struct {
	sessions SessionSource
	metrics  *report.Metrics
	failures *report.FailureLog
	logger   *logging.Logger

	router *mux.Router
	srv    *http.Server
	addr   string

	mu      sync.Mutex
	proxies map[string]*httputil.ReverseProxy
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMetrics(m *report.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithFailureLog(f *report.FailureLog) Option {
	return func(s *Server) { s.failures = f }
}

// New creates a server that will listen on addr.
func New(addr string, sessions SessionSource, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		metrics:  report.Global(),
		failures: report.GlobalFailures(),
		logger:   logging.Discard(),
		addr:     addr,
		proxies:  make(map[string]*httputil.ReverseProxy),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("devhttp")

	s.router = mux.NewRouter()
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the control endpoints and the catch-all proxy.
func (s *Server) RegisterRoutes(r *mux.Router) {
	ctl := r.PathPrefix(Prefix).Subrouter()
	ctl.HandleFunc("/healthz", s.Health).Methods("GET")
	ctl.HandleFunc("/status", s.GetStatus).Methods("GET")
	ctl.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	r.PathPrefix("/").HandlerFunc(s.Proxy)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		s.logger.Info("Dev server entry point listening", map[string]interface{}{"addr": s.addr})
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Entry point stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Health handles GET /__edgeconnect/healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if len(s.sessions.Sessions()) == 0 {
		status, code = "starting", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// GetStatus handles GET /__edgeconnect/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Sessions:       []devserver.Info{},
		RecentFailures: s.failures.Recent(10),
	}
	for _, h := range s.sessions.Sessions() {
		st.Sessions = append(st.Sessions, h.Info())
	}
	if st.RecentFailures == nil {
		st.RecentFailures = []report.FailureSample{}
	}
	writeJSON(w, http.StatusOK, st)
}

// Proxy forwards the request to the oldest ready dev server.
func (s *Server) Proxy(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	if len(sessions) == 0 {
		http.Error(w, "dev server is not ready yet", http.StatusServiceUnavailable)
		return
	}
	proxy, err := s.proxyFor(sessions[0].Upstream())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	proxy.ServeHTTP(w, r)
}

func (s *Server) proxyFor(upstream string) (*httputil.ReverseProxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proxies[upstream]; ok {
		return p, nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", upstream, err)
	}
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("Upstream request failed", map[string]interface{}{
			"upstream": upstream,
			"path":     r.URL.Path,
			"error":    err.Error(),
		})
		http.Error(w, "dev server unavailable: "+err.Error(), http.StatusBadGateway)
	}
	s.proxies[upstream] = p
	return p, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
