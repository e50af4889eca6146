package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"alpaca-smart-trade/config"
	"alpaca-smart-trade/internal/alpaca"
	"alpaca-smart-trade/internal/engine"
	"alpaca-smart-trade/internal/notification"
	"alpaca-smart-trade/internal/risk"
)

// RateLimiter is a simple in-memory sliding-window limiter keyed by endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter builds a limiter allowing limit requests per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether another request fits inside the window for key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Broker is the slice of the Alpaca client the API needs.
type Broker interface {
	IsPaper() bool
	AccountSnapshot(ctx context.Context) (risk.AccountSnapshot, error)
	Positions() ([]alpaca.PositionInfo, error)
	LatestQuote(symbol string) (alpaca.Quote, error)
	PlaceOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.OrderInfo, error)
	Orders(status string) ([]alpaca.OrderInfo, error)
	CancelOrder(orderID string) error
	ClosePosition(symbol string, qty int) (alpaca.OrderInfo, error)
}

// Analyzer runs a batch analysis against an account snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, symbols []string, account risk.AccountSnapshot, lookbackDays int) (*engine.BatchResult, error)
}

// Server is the HTTP surface over the analysis engine and broker
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	broker      Broker
	analyzer    Analyzer
	riskMgr     *risk.Manager
	notifier    *notification.Manager
	cfg         *config.Config
	rateLimiter *RateLimiter // protects the Alpaca API budget
	log         zerolog.Logger

	// Last completed analysis, kept for the send-telegram endpoint
	mu          sync.RWMutex
	lastBatch   *engine.BatchResult
	lastSummary risk.Summary
}

// NewServer wires the router, middleware and routes
func NewServer(cfg *config.Config, broker Broker, analyzer Analyzer, riskMgr *risk.Manager, notifier *notification.Manager, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.ServerConfig.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.ServerConfig.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		broker:      broker,
		analyzer:    analyzer,
		riskMgr:     riskMgr,
		notifier:    notifier,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(30, time.Minute),
		log:         log.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/account", s.handleAccount)
		api.GET("/positions", s.handlePositions)
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/send-telegram", s.handleSendTelegram)
		api.POST("/execute-trade", s.handleExecuteTrade)
		api.GET("/orders", s.handleOrders)
		api.DELETE("/cancel-order/:id", s.handleCancelOrder)
		api.POST("/close-position/:symbol", s.handleClosePosition)
		api.GET("/config", s.handleConfig)
	}
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// errorResponse writes the standard error envelope
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse writes the standard success envelope
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
