package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"octo/internal/config"
	"octo/internal/domain"
	"octo/internal/infra/metrics"
	"octo/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *zap.Logger

	self      domain.Node
	dbMode    string
	peer      *usecase.PeerService
	handshake *usecase.Handshaker
	publisher *usecase.Publisher
	edges     *usecase.EdgeRegistry
	nodes     *usecase.NodeRegistry
	ledger    *usecase.ShareLedger
	intake    *usecase.IntakeService
	xrefs     *usecase.CrossReferenceService
	metrics   *metrics.Collector

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	httpServer *http.Server
}

type ServerDeps struct {
	Self        domain.Node
	DBMode      string
	Peer        *usecase.PeerService
	Handshake   *usecase.Handshaker
	Publisher   *usecase.Publisher
	Edges       *usecase.EdgeRegistry
	Nodes       *usecase.NodeRegistry
	Ledger      *usecase.ShareLedger
	Intake      *usecase.IntakeService
	XRefs       *usecase.CrossReferenceService
	Metrics     *metrics.Collector
	RateLimiter domain.RateLimiter
	Logger      *zap.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		logger:      logger.With(zap.String("component", "http")),
		self:        deps.Self,
		dbMode:      deps.DBMode,
		peer:        deps.Peer,
		handshake:   deps.Handshake,
		publisher:   deps.Publisher,
		edges:       deps.Edges,
		nodes:       deps.Nodes,
		ledger:      deps.Ledger,
		intake:      deps.Intake,
		xrefs:       deps.XRefs,
		metrics:     deps.Metrics,
		adminAPIKey: cfg.AdminAPIKey,
	}
	s.initRateLimit(deps.RateLimiter)
	if s.metrics != nil {
		r.Use(s.recordRequest)
	}
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = time.Minute
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := s.dbMode
		if mode == "" {
			mode = "no-db"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"mode":       mode,
			"federation": s.cfg.FederationEnabled,
			"node_rid":   s.self.RID,
		})
	})
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	koi := s.r.Group("/koi-net", s.requireFederation)
	{
		koi.GET("/identity", s.handleIdentity)
		koi.POST("/handshake", s.handleHandshake)
		koi.POST("/events/poll", s.handlePoll)
		koi.POST("/events/confirm", s.handleConfirm)
		koi.POST("/events/broadcast", s.handleBroadcast)
	}

	v1 := s.r.Group("/v1", s.requireAdmin)
	{
		v1.POST("/publish", s.handlePublish)
		v1.POST("/edges", s.handleProposeEdge)
		v1.POST("/edges/:edge_rid/approve", s.handleApproveEdge)
		v1.POST("/edges/:edge_rid/filter", s.handleUpdateEdgeFilter)
		v1.GET("/peers", s.handleListPeers)
		v1.POST("/peers/discover", s.handleDiscover)
		v1.POST("/peers/:node/alias", s.handleSetAlias)
		v1.POST("/peers/:node/offboard", s.handleOffboard)
		v1.GET("/shares/:node", s.handleListShares)
		v1.POST("/documents/retract", s.handleRetractDocument)
		v1.GET("/intake", s.handleListIntake)
		v1.POST("/intake/review", s.handleReview)
		v1.POST("/xrefs", s.handleLinkXRef)
		v1.GET("/xrefs", s.handleListXRefs)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) requireFederation(c *gin.Context) {
	if !s.cfg.FederationEnabled || s.peer == nil {
		writeError(c, domain.ErrFederationDisabled)
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) recordRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
}
