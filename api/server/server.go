package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"alerthub/api/middleware"
	"alerthub/internal/config"
	"alerthub/internal/elasticsearch"
	"alerthub/internal/ingest"
	"alerthub/internal/logger"
	"alerthub/internal/sources"
	"alerthub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options carries the collaborators of the HTTP server. Gatherer and ES
// are optional.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Sources  *sources.Registry
	ES       *elasticsearch.Client
	Gatherer prometheus.Gatherer
}

type Server struct {
	router   *gin.Engine
	pipeline *ingest.Pipeline
	sources  *sources.Registry
	store    *store.Store
	es       *elasticsearch.Client
	limiter  *middleware.SenderLimiter
	config   *config.Config
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func NewServer(opts Options) *Server {
	router := gin.New()
	log := logger.Named("http")

	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(log))
	// 请求处理超时
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	server := &Server{
		router:   router,
		pipeline: opts.Pipeline,
		sources:  opts.Sources,
		store:    opts.Store,
		es:       opts.ES,
		limiter:  middleware.NewSenderLimiter(middleware.FromConfig(opts.Config.RateLimit)),
		config:   opts.Config,
		gatherer: opts.Gatherer,
		log:      log,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// Webhook receivers: unknown sources are rejected before a rate limit
	// bucket is created for them
	api.POST("/webhooks/:source", s.resolveSource, s.limiter.Middleware(), s.receiveWebhook)

	{
		api.GET("/sources", s.listSources)

		// Events and groups
		api.POST("/alerts/list", s.listEvents)
		api.POST("/alerts/search", s.searchEvents)
		api.POST("/groups/list", s.listGroups)
		api.POST("/groups/get", s.getGroup)
		api.POST("/groups/ack", s.ackGroup)

		// Rules
		api.POST("/rules/add", s.addRule)
		api.POST("/rules/list", s.listRules)
		api.POST("/rules/get", s.getRule)
		api.POST("/rules/update", s.updateRule)
		api.POST("/rules/remove", s.removeRule)

		// Knowledge base
		api.POST("/kb/add", s.addArticle)
		api.POST("/kb/list", s.listArticles)
		api.POST("/kb/remove", s.removeArticle)

		// Dispatch audit log
		api.POST("/dispatch/logs", s.queryDispatchLogs)

		// System Configuration
		api.GET("/config", s.getConfig)
	}

	s.router.GET("/health", s.healthCheck)

	if s.config.Metrics.Enabled && s.gatherer != nil {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.limiter.Stop()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases background resources when Run was never called.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) healthCheck(c *gin.Context) {
	db, err := s.store.DB().DB()
	if err == nil {
		err = db.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": s.sources.Names()})
}
