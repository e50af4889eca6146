package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"alpaca-smart-trade/internal/alpaca"
	"alpaca-smart-trade/internal/risk"
)

// ============================================================================
// STATUS HANDLERS
// ============================================================================

// handleHealth reports service status and which integrations are live
func (s *Server) handleHealth(c *gin.Context) {
	successResponse(c, gin.H{
		"status":              "ok",
		"paper_trading":       s.broker.IsPaper(),
		"telegram_configured": s.notifier.Enabled(),
	})
}

// handleConfig returns the configuration with credentials masked
func (s *Server) handleConfig(c *gin.Context) {
	successResponse(c, s.cfg.Safe())
}

// ============================================================================
// ACCOUNT HANDLERS
// ============================================================================

// handleAccount returns the account snapshot with its risk summary
func (s *Server) handleAccount(c *gin.Context) {
	account, err := s.broker.AccountSnapshot(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	successResponse(c, gin.H{
		"account":      account,
		"risk_summary": s.riskMgr.Summarize(account),
		"paper":        s.broker.IsPaper(),
	})
}

// handlePositions returns all open positions
func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.broker.Positions()
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, positions)
}

// ============================================================================
// ANALYSIS HANDLERS
// ============================================================================

type analyzeRequest struct {
	Symbols      []string `json:"symbols"`
	LookbackDays int      `json:"lookback_days"`
}

// handleAnalyze runs the full batch analysis for the requested symbols
// (or the configured defaults) against a fresh account snapshot.
func (s *Server) handleAnalyze(c *gin.Context) {
	if !s.rateLimiter.Allow("analyze") {
		errorResponse(c, http.StatusTooManyRequests, "analysis rate limit exceeded, try again later")
		return
	}

	var req analyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.LookbackDays < 0 {
		errorResponse(c, http.StatusBadRequest, "lookback_days must be positive")
		return
	}

	// Copy before normalizing in place; the defaults are shared across
	// concurrent requests.
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.cfg.AnalysisConfig.DefaultSymbols
	}
	symbols = append([]string(nil), symbols...)
	for i, symbol := range symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(symbol))
	}

	account, err := s.broker.AccountSnapshot(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	batch, err := s.analyzer.Analyze(c.Request.Context(), symbols, account, req.LookbackDays)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	summary := s.riskMgr.Summarize(account)

	s.mu.Lock()
	s.lastBatch = batch
	s.lastSummary = summary
	s.mu.Unlock()

	successResponse(c, gin.H{
		"analysis":     batch,
		"account":      account,
		"risk_summary": summary,
		"paper":        s.broker.IsPaper(),
	})
}

// handleSendTelegram forwards the most recent analysis to the
// configured notification channels.
func (s *Server) handleSendTelegram(c *gin.Context) {
	if !s.notifier.Enabled() {
		errorResponse(c, http.StatusBadRequest, "no notification channel configured")
		return
	}

	s.mu.RLock()
	batch := s.lastBatch
	summary := s.lastSummary
	s.mu.RUnlock()

	if batch == nil {
		errorResponse(c, http.StatusBadRequest, "no analysis available, run /api/analyze first")
		return
	}

	if err := s.notifier.SendAnalysisReport(batch, summary, s.broker.IsPaper()); err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	successResponse(c, gin.H{"sent": true, "run_id": batch.RunID})
}

// ============================================================================
// TRADING HANDLERS
// ============================================================================

type executeTradeRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Action     string  `json:"action" binding:"required"`
	Quantity   int     `json:"quantity"`
	OrderType  string  `json:"order_type"`
	LimitPrice float64 `json:"limit_price"`
}

// handleExecuteTrade places a manually confirmed order. Risk checks run
// again here against a fresh snapshot; an analysis result alone is
// never executable.
func (s *Server) handleExecuteTrade(c *gin.Context) {
	if !s.rateLimiter.Allow("execute-trade") {
		errorResponse(c, http.StatusTooManyRequests, "trade rate limit exceeded")
		return
	}

	var req executeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	action := risk.Action(strings.ToUpper(req.Action))
	if action != risk.Buy && action != risk.Sell {
		errorResponse(c, http.StatusBadRequest, "action must be BUY or SELL")
		return
	}
	if req.OrderType == "" {
		req.OrderType = "market"
	}
	if req.OrderType != "market" && req.OrderType != "limit" {
		errorResponse(c, http.StatusBadRequest, "order_type must be market or limit")
		return
	}
	if req.OrderType == "limit" && req.LimitPrice <= 0 {
		errorResponse(c, http.StatusBadRequest, "limit orders need a positive limit_price")
		return
	}

	account, err := s.broker.AccountSnapshot(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	price := req.LimitPrice
	if req.OrderType == "market" {
		quote, err := s.broker.LatestQuote(symbol)
		if err != nil {
			errorResponse(c, http.StatusBadGateway, err.Error())
			return
		}
		if action == risk.Buy {
			price = quote.AskPrice
		} else {
			price = quote.BidPrice
		}
	}

	assessment := s.riskMgr.Assess(account, symbol, action, req.Quantity, price)
	if assessment.Blocked {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      true,
			"message":    "trade blocked by risk checks",
			"assessment": assessment,
		})
		return
	}

	order, err := s.broker.PlaceOrder(c.Request.Context(), alpaca.OrderRequest{
		Symbol:     symbol,
		Quantity:   assessment.PositionSize,
		Side:       action,
		OrderType:  req.OrderType,
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.notifier.SendTradeNotification(symbol, string(action), assessment.PositionSize, price, order.Status); err != nil {
		s.log.Warn().Err(err).Msg("trade notification failed")
	}

	successResponse(c, gin.H{
		"order":      order,
		"assessment": assessment,
	})
}

// handleOrders lists orders, defaulting to open ones
func (s *Server) handleOrders(c *gin.Context) {
	status := c.DefaultQuery("status", "open")
	if status != "open" && status != "closed" && status != "all" {
		errorResponse(c, http.StatusBadRequest, "status must be open, closed or all")
		return
	}

	orders, err := s.broker.Orders(status)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, orders)
}

// handleCancelOrder cancels an order by ID
func (s *Server) handleCancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	if err := s.broker.CancelOrder(orderID); err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, gin.H{"cancelled": orderID})
}

type closePositionRequest struct {
	Quantity int `json:"qty"`
}

// handleClosePosition liquidates a position, fully unless qty says less
func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var req closePositionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Quantity < 0 {
		errorResponse(c, http.StatusBadRequest, "qty must not be negative")
		return
	}

	order, err := s.broker.ClosePosition(symbol, req.Quantity)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	successResponse(c, gin.H{"order": order})
}
