// Package gateway is the single chokepoint for all outgoing provider
// traffic. Every request is format-detected, scanned into the tool metadata
// cache, redacted against the cross-session prunable union, and forwarded
// upstream. No error in this package may ever prevent a request from being
// sent: parsing failures fall back to forwarding the original body.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate/internal/config"
	"github.com/contextgate/contextgate/internal/logging"
	"github.com/contextgate/contextgate/internal/prunelist"
	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/strategy"
	"github.com/contextgate/contextgate/internal/tokens"
	"github.com/contextgate/contextgate/internal/toolcache"
)

// maxRequestBodyBytes caps inbound bodies before inspection.
const maxRequestBodyBytes = 256 << 20

// Server wires the interception pipeline to an HTTP listener.
type Server struct {
	cfg     func() *config.Config
	store   *session.Store
	cache   *toolcache.Cache
	engine  *strategy.Engine
	builder *prunelist.Builder
	est     *tokens.Estimator
	client  *http.Client

	mu       sync.Mutex
	lastBody map[string][]byte
}

// New assembles a gateway server from its collaborators.
func New(cfg func() *config.Config, store *session.Store, cache *toolcache.Cache, engine *strategy.Engine, builder *prunelist.Builder, est *tokens.Estimator) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		engine:  engine,
		builder: builder,
		est:     est,
		// No client timeout: provider responses stream for minutes.
		client:   &http.Client{},
		lastBody: make(map[string][]byte),
	}
}

// Router builds the gin engine with the full middleware chain.
func (s *Server) Router() *gin.Engine {
	SetMetricsEnabled(s.cfg().Metrics.IsEnabled())

	r := gin.New()
	r.Use(logging.GinRecovery())
	r.Use(logging.GinLogger())
	r.Use(RequestDecompressionMiddleware())
	r.Use(PrometheusMiddleware())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", MetricsHandler())
	r.POST("/gateway/prune", s.handlePrune)
	r.POST("/gateway/idle", s.handleIdle)
	r.NoRoute(s.handleProxy)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("context pruning gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// rememberBody stores the most recent outgoing body for a session so the
// idle-triggered analysis pass has a history to work over.
func (s *Server) rememberBody(sessionID string, body []byte) {
	if sessionID == "" || len(body) == 0 {
		return
	}
	snapshot := make([]byte, len(body))
	copy(snapshot, body)
	s.mu.Lock()
	s.lastBody[sessionID] = snapshot
	s.mu.Unlock()
}

func (s *Server) recallBody(sessionID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody[sessionID]
}
