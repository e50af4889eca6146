package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpaca-smart-trade/internal/market"
	"alpaca-smart-trade/internal/regime"
	"alpaca-smart-trade/internal/risk"
	"alpaca-smart-trade/internal/walkforward"
)

type stubData struct {
	series    map[string]market.Series
	errs      map[string]error
	delay     time.Duration
	ignoreCtx bool
	lastDays  int
}

func (s *stubData) Bars(ctx context.Context, symbol string, days int) (market.Series, error) {
	s.lastDays = days
	if s.delay > 0 {
		if s.ignoreCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return market.Series{}, ctx.Err()
			}
		}
	}
	if err, ok := s.errs[symbol]; ok {
		return market.Series{}, err
	}
	return s.series[symbol], nil
}

func waveSeries(symbol string, n int) market.Series {
	first := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		c := 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.3
		bars[i] = market.Bar{
			Timestamp: first.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return market.Series{Symbol: symbol, Bars: bars}
}

func healthyAccount() risk.AccountSnapshot {
	return risk.AccountSnapshot{
		Equity:      10000,
		Cash:        10000,
		BuyingPower: 10000,
		Positions:   map[string]risk.Position{},
	}
}

func testEngine(data DataSource) *Engine {
	log := zerolog.Nop()
	return New(
		regime.NewClassifier([]int{20, 50}, log),
		walkforward.NewOptimizer(30, 5, log),
		risk.NewManager(risk.Params{
			MaxPositionFraction: 0.10,
			MinAccountBalance:   1000,
			EnablePDTProtection: true,
		}, log),
		data,
		Config{LookbackDays: 150, Workers: 3, SymbolTimeout: 5 * time.Second},
		log,
	)
}

func TestAnalyzeBatchIsolation(t *testing.T) {
	data := &stubData{
		series: map[string]market.Series{
			"AAPL": waveSeries("AAPL", 150),
			"MSFT": waveSeries("MSFT", 150),
		},
		errs: map[string]error{
			"FAIL": errors.New("market data unavailable"),
		},
	}
	e := testEngine(data)

	batch, err := e.Analyze(context.Background(), []string{"AAPL", "FAIL", "MSFT"}, healthyAccount(), 0)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if batch.RunID == "" {
		t.Error("batch has no run ID")
	}
	if len(batch.Recommendations) != 2 {
		t.Errorf("got %d recommendations, want 2", len(batch.Recommendations))
	}
	if len(batch.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(batch.Failures))
	}
	if reason := batch.Failures["FAIL"]; !strings.Contains(reason, "market data unavailable") {
		t.Errorf("failure reason = %q", reason)
	}
	if batch.Summary.Analyzed != 2 || batch.Summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 analyzed / 1 failed", batch.Summary)
	}
	if got := batch.Summary.BuyCount + batch.Summary.SellCount + batch.Summary.HoldCount; got != 2 {
		t.Errorf("action counts sum to %d, want 2", got)
	}

	// Every requested symbol appears in exactly one of the two maps
	for _, symbol := range []string{"AAPL", "FAIL", "MSFT"} {
		_, recommended := batch.Recommendations[symbol]
		_, failed := batch.Failures[symbol]
		if recommended == failed {
			t.Errorf("%s: recommended=%v failed=%v, want exactly one", symbol, recommended, failed)
		}
	}
}

func TestAnalyzeRecommendationInvariants(t *testing.T) {
	data := &stubData{series: map[string]market.Series{"AAPL": waveSeries("AAPL", 150)}}
	e := testEngine(data)

	batch, err := e.Analyze(context.Background(), []string{"AAPL"}, healthyAccount(), 0)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	rec, ok := batch.Recommendations["AAPL"]
	if !ok {
		t.Fatalf("no recommendation for AAPL: failures=%v", batch.Failures)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		t.Errorf("confidence = %v, out of [0,1]", rec.Confidence)
	}
	if rec.Action == risk.Hold && rec.PositionSize != 0 {
		t.Errorf("hold with position size %d", rec.PositionSize)
	}
	if rec.Action == risk.Buy {
		want := float64(rec.PositionSize) * rec.LastPrice
		if math.Abs(rec.PositionValue-want) > 1e-6 {
			t.Errorf("position value %v != size*price %v", rec.PositionValue, want)
		}
	}
	if len(rec.Reasoning) == 0 {
		t.Error("recommendation has no reasoning")
	}
}

func TestAnalyzeShortSeriesDegradesToHold(t *testing.T) {
	data := &stubData{series: map[string]market.Series{"AAPL": waveSeries("AAPL", 30)}}
	e := testEngine(data)

	batch, err := e.Analyze(context.Background(), []string{"AAPL"}, healthyAccount(), 0)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	rec, ok := batch.Recommendations["AAPL"]
	if !ok {
		t.Fatalf("short series treated as failure: %v", batch.Failures)
	}
	if rec.Action != risk.Hold || rec.Confidence != 0 {
		t.Errorf("short series rec = %s/%v, want HOLD/0", rec.Action, rec.Confidence)
	}
	if len(rec.Warnings) < 2 {
		t.Errorf("warnings = %v, want both insufficient-history warnings", rec.Warnings)
	}
}

func TestAnalyzeSymbolTimeout(t *testing.T) {
	data := &stubData{
		series: map[string]market.Series{"SLOW": waveSeries("SLOW", 150)},
		delay:  200 * time.Millisecond,
	}
	e := testEngine(data)
	e.cfg.SymbolTimeout = 10 * time.Millisecond

	batch, err := e.Analyze(context.Background(), []string{"SLOW"}, healthyAccount(), 0)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if _, ok := batch.Failures["SLOW"]; !ok {
		t.Errorf("slow symbol not failed, recommendations=%v", batch.Recommendations)
	}
}

// An expired deadline stops the pipeline even when the data source
// ignores cancellation and returns a full series.
func TestAnalyzeDeadlineCheckedBetweenStages(t *testing.T) {
	data := &stubData{
		series:    map[string]market.Series{"SLOW": waveSeries("SLOW", 150)},
		delay:     50 * time.Millisecond,
		ignoreCtx: true,
	}
	e := testEngine(data)
	e.cfg.SymbolTimeout = 10 * time.Millisecond

	batch, err := e.Analyze(context.Background(), []string{"SLOW"}, healthyAccount(), 0)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if reason, ok := batch.Failures["SLOW"]; !ok {
		t.Errorf("expired symbol not failed, recommendations=%v", batch.Recommendations)
	} else if !strings.Contains(reason, "deadline") {
		t.Errorf("failure reason = %q, want deadline exceeded", reason)
	}
}

func TestAnalyzeLookbackOverride(t *testing.T) {
	data := &stubData{
		series: map[string]market.Series{"AAPL": waveSeries("AAPL", 150)},
	}
	e := testEngine(data)

	if _, err := e.Analyze(context.Background(), []string{"AAPL"}, healthyAccount(), 90); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if data.lastDays != 90 {
		t.Errorf("data source asked for %d days, want the 90-day override", data.lastDays)
	}

	if _, err := e.Analyze(context.Background(), []string{"AAPL"}, healthyAccount(), 0); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if data.lastDays != 150 {
		t.Errorf("data source asked for %d days, want the configured 150", data.lastDays)
	}
}

func TestFuse(t *testing.T) {
	e := testEngine(&stubData{})

	bullish := regime.State{Regime: regime.Bullish, Confidence: 0.8}
	bearish := regime.State{Regime: regime.Bearish, Confidence: 0.8}
	sideways := regime.State{Regime: regime.Sideways, Confidence: 0.6}
	goodWF := walkforward.Result{SharpeRatio: 2, WinRate: 0.7, ExpectedReturn: 0.01}
	badWF := walkforward.Result{SharpeRatio: -1, WinRate: 0.3, ExpectedReturn: -0.01}
	flatWF := walkforward.Result{SharpeRatio: 0.1, WinRate: 0.5, ExpectedReturn: 0.0005}

	t.Run("agreement buys", func(t *testing.T) {
		rec := e.fuse("AAPL", 100, bullish, goodWF, healthyAccount())
		if rec.Action != risk.Buy {
			t.Fatalf("action = %s, want BUY", rec.Action)
		}
		// wf score = (clip(2/2) + 0.7)/2 = 0.85; fused = (0.8+0.85)/2
		if want := 0.825; math.Abs(rec.Confidence-want) > 1e-9 {
			t.Errorf("confidence = %v, want %v", rec.Confidence, want)
		}
		if rec.PositionSize != 10 {
			t.Errorf("position size = %d, want 10", rec.PositionSize)
		}
	})

	t.Run("disagreement holds with min confidence", func(t *testing.T) {
		rec := e.fuse("AAPL", 100, bullish, badWF, healthyAccount())
		if rec.Action != risk.Hold || rec.PositionSize != 0 {
			t.Fatalf("rec = %s/%d, want HOLD/0", rec.Action, rec.PositionSize)
		}
		// wf score = (0 + 0.3)/2 = 0.15 = min(0.8, 0.15)
		if want := 0.15; math.Abs(rec.Confidence-want) > 1e-9 {
			t.Errorf("confidence = %v, want %v", rec.Confidence, want)
		}
	})

	t.Run("immaterial return holds", func(t *testing.T) {
		rec := e.fuse("AAPL", 100, bullish, flatWF, healthyAccount())
		if rec.Action != risk.Hold {
			t.Errorf("action = %s, want HOLD on sub-threshold return", rec.Action)
		}
	})

	t.Run("sideways holds", func(t *testing.T) {
		rec := e.fuse("AAPL", 100, sideways, goodWF, healthyAccount())
		if rec.Action != risk.Hold {
			t.Errorf("action = %s, want HOLD in sideways regime", rec.Action)
		}
	})

	t.Run("bearish agreement sells held position", func(t *testing.T) {
		acct := healthyAccount()
		acct.Positions["AAPL"] = risk.Position{Quantity: 7, MarketValue: 700}
		rec := e.fuse("AAPL", 100, bearish, badWF, acct)
		if rec.Action != risk.Sell || rec.PositionSize != 7 {
			t.Errorf("rec = %s/%d, want SELL/7", rec.Action, rec.PositionSize)
		}
	})

	t.Run("bearish agreement without position holds", func(t *testing.T) {
		rec := e.fuse("AAPL", 100, bearish, badWF, healthyAccount())
		if rec.Action != risk.Hold {
			t.Errorf("action = %s, want HOLD with nothing to sell", rec.Action)
		}
		// A downgraded sell is a hold; min(0.8, wf score 0.15), not the mean
		if want := 0.15; math.Abs(rec.Confidence-want) > 1e-9 {
			t.Errorf("confidence = %v, want %v", rec.Confidence, want)
		}
	})

	t.Run("blocked risk downgrades preserving breakdown", func(t *testing.T) {
		acct := healthyAccount()
		acct.Equity = 500 // below minimum balance
		rec := e.fuse("AAPL", 100, bullish, goodWF, acct)
		if rec.Action != risk.Hold || rec.PositionSize != 0 {
			t.Fatalf("rec = %s/%d, want HOLD/0", rec.Action, rec.PositionSize)
		}
		if len(rec.Warnings) == 0 {
			t.Error("blocked downgrade carried no warning")
		}
		if rec.Breakdown.Regime.Regime != regime.Bullish {
			t.Error("breakdown lost the regime state")
		}
		if rec.Breakdown.WalkForward.SharpeRatio != 2 {
			t.Error("breakdown lost the walk-forward result")
		}
	})

	t.Run("confidence bounded across input grid", func(t *testing.T) {
		for _, conf := range []float64{0, 0.25, 0.5, 0.75, 1} {
			for _, sharpe := range []float64{-3, 0, 1, 5} {
				for _, wr := range []float64{0, 0.5, 1} {
					state := regime.State{Regime: regime.Bullish, Confidence: conf}
					wf := walkforward.Result{SharpeRatio: sharpe, WinRate: wr, ExpectedReturn: 0.01}
					rec := e.fuse("AAPL", 100, state, wf, healthyAccount())
					if rec.Confidence < 0 || rec.Confidence > 1 {
						t.Fatalf("confidence %v out of [0,1] for conf=%v sharpe=%v wr=%v",
							rec.Confidence, conf, sharpe, wr)
					}
				}
			}
		}
	})
}
