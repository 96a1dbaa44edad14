// Package admin serves the gateway's HTTP side channel: liveness,
// readiness, Prometheus metrics and the enforced whitelist.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/metrics"
	"github.com/nextprism/swarmproxy/internal/version"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// ReadinessFunc reports whether the process is ready to take traffic.
type ReadinessFunc func() bool

// Server is the admin HTTP server.
type Server struct {
	addr        string
	ready       ReadinessFunc
	table       *whitelist.Table
	serviceType string
	started     time.Time

	router *gin.Engine

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithReadiness sets the readiness check behind /readyz. Without it the
// server always reports ready.
func WithReadiness(fn ReadinessFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// WithWhitelist exposes the rules enforced for serviceType at /v1/whitelist.
// An empty serviceType exposes every rule in table.
func WithWhitelist(table *whitelist.Table, serviceType string) Option {
	return func(s *Server) {
		s.table = table
		s.serviceType = serviceType
	}
}

// New creates a Server listening on addr once started.
func New(addr string, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:    addr,
		ready:   func() bool { return true },
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(requestMetrics())
	_ = r.SetTrustedProxies(nil)
	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

type ruleView struct {
	ServiceType string   `json:"service_type"`
	Prefix      []string `json:"prefix"`
	Verbs       []string `json:"verbs"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).Round(time.Second).String(),
			"version": version.Version,
		})
	})

	s.router.GET("/readyz", func(c *gin.Context) {
		if !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})

	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router.GET("/v1/whitelist", func(c *gin.Context) {
		if s.table == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no whitelist configured"})
			return
		}
		types := s.table.ServiceTypes()
		if s.serviceType != "" {
			types = []string{s.serviceType}
		}
		rules := make([]ruleView, 0, len(types))
		for _, st := range types {
			r, ok := s.table.Rule(st)
			if !ok {
				continue
			}
			rules = append(rules, ruleView{ServiceType: r.ServiceType, Prefix: r.Prefix, Verbs: r.Verbs})
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules, "forbidden_chars": whitelist.ForbiddenChars})
	})
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("admin server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(clog.Writer(clog.LevelWarn), "admin: ", 0),
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.Error("admin: serve: %v", err)
		}
	}(s.srv, s.done)

	clog.Info("admin: listening on %s", ln.Addr())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}
