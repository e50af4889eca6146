package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpaca-smart-trade/config"
	"alpaca-smart-trade/internal/alpaca"
	"alpaca-smart-trade/internal/engine"
	"alpaca-smart-trade/internal/notification"
	"alpaca-smart-trade/internal/risk"
)

type stubBroker struct {
	account    risk.AccountSnapshot
	accountErr error
	quote      alpaca.Quote
	placed     []alpaca.OrderRequest
	orders     []alpaca.OrderInfo
	cancelled  []string
}

func (b *stubBroker) IsPaper() bool { return true }

func (b *stubBroker) AccountSnapshot(ctx context.Context) (risk.AccountSnapshot, error) {
	return b.account, b.accountErr
}

func (b *stubBroker) Positions() ([]alpaca.PositionInfo, error) {
	return []alpaca.PositionInfo{}, nil
}

func (b *stubBroker) LatestQuote(symbol string) (alpaca.Quote, error) {
	return b.quote, nil
}

func (b *stubBroker) PlaceOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.OrderInfo, error) {
	b.placed = append(b.placed, req)
	return alpaca.OrderInfo{ID: "order-1", Symbol: req.Symbol, Status: "accepted"}, nil
}

func (b *stubBroker) Orders(status string) ([]alpaca.OrderInfo, error) {
	return b.orders, nil
}

func (b *stubBroker) CancelOrder(orderID string) error {
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *stubBroker) ClosePosition(symbol string, qty int) (alpaca.OrderInfo, error) {
	return alpaca.OrderInfo{ID: "order-2", Symbol: symbol, Status: "accepted"}, nil
}

type stubAnalyzer struct {
	batch    *engine.BatchResult
	err      error
	symbols  []string
	lookback int
}

func (a *stubAnalyzer) Analyze(ctx context.Context, symbols []string, account risk.AccountSnapshot, lookbackDays int) (*engine.BatchResult, error) {
	a.symbols = symbols
	a.lookback = lookbackDays
	return a.batch, a.err
}

func testServer(broker *stubBroker, analyzer *stubAnalyzer) *Server {
	cfg := &config.Config{
		AnalysisConfig: config.AnalysisConfig{
			DefaultSymbols: []string{"AAPL", "MSFT"},
		},
		ServerConfig: config.ServerConfig{
			Port:           5000,
			AllowedOrigins: "*",
		},
	}
	log := zerolog.Nop()
	riskMgr := risk.NewManager(risk.Params{
		MaxPositionFraction: 0.10,
		MinAccountBalance:   1000,
		EnablePDTProtection: true,
	}, log)

	return NewServer(cfg, broker, analyzer, riskMgr, notification.NewManager(log), log)
}

func healthyBroker() *stubBroker {
	return &stubBroker{
		account: risk.AccountSnapshot{
			Equity:      10000,
			Cash:        10000,
			BuyingPower: 10000,
			Positions:   map[string]risk.Position{},
		},
		quote: alpaca.Quote{Symbol: "AAPL", BidPrice: 99.5, AskPrice: 100},
	}
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s := testServer(healthyBroker(), &stubAnalyzer{})

	w := doRequest(s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Status       string `json:"status"`
			PaperTrading bool   `json:"paper_trading"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.Data.Status != "ok" || !resp.Data.PaperTrading {
		t.Errorf("unexpected health payload: %s", w.Body.String())
	}
}

func TestHandleAnalyze(t *testing.T) {
	analyzer := &stubAnalyzer{
		batch: &engine.BatchResult{
			RunID:           "run-1",
			Timestamp:       time.Now(),
			Recommendations: map[string]engine.Recommendation{},
			Failures:        map[string]string{},
		},
	}
	s := testServer(healthyBroker(), analyzer)

	w := doRequest(s, http.MethodPost, "/api/analyze", map[string]interface{}{
		"symbols":       []string{"tsla", " nvda "},
		"lookback_days": 90,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(analyzer.symbols) != 2 || analyzer.symbols[0] != "TSLA" || analyzer.symbols[1] != "NVDA" {
		t.Errorf("analyzer got symbols %v, want normalized [TSLA NVDA]", analyzer.symbols)
	}
	if analyzer.lookback != 90 {
		t.Errorf("analyzer got lookback %d, want 90", analyzer.lookback)
	}

	// Empty body falls back to configured defaults
	w = doRequest(s, http.MethodPost, "/api/analyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(analyzer.symbols) != 2 || analyzer.symbols[0] != "AAPL" {
		t.Errorf("analyzer got symbols %v, want configured defaults", analyzer.symbols)
	}
	if analyzer.lookback != 0 {
		t.Errorf("analyzer got lookback %d, want 0 for the configured default", analyzer.lookback)
	}

	// Negative override is rejected
	w = doRequest(s, http.MethodPost, "/api/analyze", map[string]interface{}{
		"lookback_days": -5,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for negative lookback", w.Code)
	}
}

func TestHandleAnalyzeDoesNotMutateDefaults(t *testing.T) {
	analyzer := &stubAnalyzer{
		batch: &engine.BatchResult{
			Recommendations: map[string]engine.Recommendation{},
			Failures:        map[string]string{},
		},
	}
	s := testServer(healthyBroker(), analyzer)
	s.cfg.AnalysisConfig.DefaultSymbols = []string{" aapl", "msft "}

	w := doRequest(s, http.MethodPost, "/api/analyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Normalization works on a copy; the shared config slice stays as
	// configured so concurrent requests never race on its elements.
	if got := s.cfg.AnalysisConfig.DefaultSymbols; got[0] != " aapl" || got[1] != "msft " {
		t.Errorf("configured defaults mutated to %v", got)
	}
	if len(analyzer.symbols) != 2 || analyzer.symbols[0] != "AAPL" || analyzer.symbols[1] != "MSFT" {
		t.Errorf("analyzer got symbols %v, want normalized [AAPL MSFT]", analyzer.symbols)
	}
}

func TestHandleAnalyzeBrokerDown(t *testing.T) {
	broker := healthyBroker()
	broker.accountErr = errors.New("alpaca unreachable")
	s := testServer(broker, &stubAnalyzer{})

	w := doRequest(s, http.MethodPost, "/api/analyze", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestHandleExecuteTrade(t *testing.T) {
	broker := healthyBroker()
	s := testServer(broker, &stubAnalyzer{})

	w := doRequest(s, http.MethodPost, "/api/execute-trade", map[string]interface{}{
		"symbol": "aapl",
		"action": "buy",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(broker.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(broker.placed))
	}
	// 10% of $10k at the $100 ask is 10 shares
	if got := broker.placed[0]; got.Symbol != "AAPL" || got.Quantity != 10 || got.Side != risk.Buy {
		t.Errorf("placed order = %+v", got)
	}
}

func TestHandleExecuteTradeBlocked(t *testing.T) {
	broker := healthyBroker()
	broker.account.Equity = 500 // below minimum balance
	s := testServer(broker, &stubAnalyzer{})

	w := doRequest(s, http.MethodPost, "/api/execute-trade", map[string]interface{}{
		"symbol": "AAPL",
		"action": "BUY",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(broker.placed) != 0 {
		t.Error("blocked trade still reached the broker")
	}

	var resp struct {
		Assessment risk.Assessment `json:"assessment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Assessment.Blocked || len(resp.Assessment.Warnings) == 0 {
		t.Errorf("response missing the blocking assessment: %s", w.Body.String())
	}
}

func TestHandleExecuteTradeValidation(t *testing.T) {
	s := testServer(healthyBroker(), &stubAnalyzer{})

	cases := []map[string]interface{}{
		{"action": "BUY"},                            // missing symbol
		{"symbol": "AAPL"},                           // missing action
		{"symbol": "AAPL", "action": "HOLD"},         // not tradeable
		{"symbol": "AAPL", "action": "BUY", "order_type": "stop"},  // unsupported type
		{"symbol": "AAPL", "action": "BUY", "order_type": "limit"}, // limit without price
	}
	for _, body := range cases {
		if w := doRequest(s, http.MethodPost, "/api/execute-trade", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, w.Code)
		}
	}
}

func TestHandleSendTelegramWithoutAnalysis(t *testing.T) {
	s := testServer(healthyBroker(), &stubAnalyzer{})

	w := doRequest(s, http.MethodPost, "/api/send-telegram", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 with nothing configured", w.Code)
	}
}

func TestHandleOrders(t *testing.T) {
	broker := healthyBroker()
	broker.orders = []alpaca.OrderInfo{{ID: "o1", Symbol: "AAPL", Status: "open"}}
	s := testServer(broker, &stubAnalyzer{})

	if w := doRequest(s, http.MethodGet, "/api/orders", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/orders?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status: got %d, want 400", w.Code)
	}
}

func TestHandleCancelOrder(t *testing.T) {
	broker := healthyBroker()
	s := testServer(broker, &stubAnalyzer{})

	w := doRequest(s, http.MethodDelete, "/api/cancel-order/abc-123", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(broker.cancelled) != 1 || broker.cancelled[0] != "abc-123" {
		t.Errorf("cancelled = %v", broker.cancelled)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("k") {
		t.Error("third request within the window should be limited")
	}
	if !rl.Allow("other") {
		t.Error("limits should be per key")
	}
}
