package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alpaca-smart-trade/internal/market"
	"alpaca-smart-trade/internal/regime"
	"alpaca-smart-trade/internal/risk"
	"alpaca-smart-trade/internal/walkforward"
)

// returnThreshold is the per-window expected return below which the
// walk-forward result is considered directionless.
const returnThreshold = 0.002

// DataSource supplies daily price history for a symbol.
type DataSource interface {
	Bars(ctx context.Context, symbol string, days int) (market.Series, error)
}

// Breakdown carries the per-factor results behind a recommendation.
type Breakdown struct {
	Regime      regime.State       `json:"regime"`
	WalkForward walkforward.Result `json:"walk_forward"`
}

// Recommendation is the final risk-gated verdict for one symbol. It is
// assembled once and never mutated afterwards.
type Recommendation struct {
	Symbol        string      `json:"symbol"`
	Action        risk.Action `json:"action"`
	Confidence    float64     `json:"confidence"`
	PositionSize  int         `json:"position_size"`
	PositionValue float64     `json:"position_value"`
	LastPrice     float64     `json:"last_price"`
	Breakdown     Breakdown   `json:"breakdown"`
	Reasoning     []string    `json:"reasoning"`
	Warnings      []string    `json:"warnings"`
}

// BatchSummary counts the outcomes of one analysis run.
type BatchSummary struct {
	Analyzed  int `json:"analyzed"`
	Failed    int `json:"failed"`
	BuyCount  int `json:"buy_count"`
	SellCount int `json:"sell_count"`
	HoldCount int `json:"hold_count"`
}

// BatchResult is the outcome of analyzing a set of symbols against one
// account snapshot. Every requested symbol lands in exactly one of
// Recommendations or Failures.
type BatchResult struct {
	RunID           string                    `json:"run_id"`
	Timestamp       time.Time                 `json:"timestamp"`
	Recommendations map[string]Recommendation `json:"recommendations"`
	Failures        map[string]string         `json:"failures"`
	Summary         BatchSummary              `json:"summary"`
}

// Config sizes the batch run.
type Config struct {
	LookbackDays  int
	Workers       int
	SymbolTimeout time.Duration
}

// Engine runs the per-symbol analysis pipeline and fuses the factor
// outputs into recommendations.
type Engine struct {
	classifier *regime.Classifier
	optimizer  *walkforward.Optimizer
	riskMgr    *risk.Manager
	data       DataSource
	cfg        Config
	log        zerolog.Logger
}

// New wires an engine from its collaborators.
func New(classifier *regime.Classifier, optimizer *walkforward.Optimizer, riskMgr *risk.Manager, data DataSource, cfg Config, log zerolog.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		classifier: classifier,
		optimizer:  optimizer,
		riskMgr:    riskMgr,
		data:       data,
		cfg:        cfg,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

type symbolOutcome struct {
	symbol string
	rec    Recommendation
	err    error
}

// Analyze runs the pipeline for every symbol against the given account
// snapshot using a bounded worker pool. lookbackDays overrides the
// configured history depth when positive. A failing symbol never aborts
// the batch; it lands in Failures with its reason.
func (e *Engine) Analyze(ctx context.Context, symbols []string, account risk.AccountSnapshot, lookbackDays int) (*BatchResult, error) {
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to analyze")
	}
	if lookbackDays <= 0 {
		lookbackDays = e.cfg.LookbackDays
	}

	runID := uuid.New().String()
	e.log.Info().
		Str("run_id", runID).
		Int("symbols", len(symbols)).
		Int("workers", e.cfg.Workers).
		Msg("starting analysis batch")

	jobs := make(chan string, len(symbols))
	outcomes := make(chan symbolOutcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				rec, err := e.analyzeSymbol(ctx, symbol, account, lookbackDays)
				outcomes <- symbolOutcome{symbol: symbol, rec: rec, err: err}
			}
		}()
	}

	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	result := &BatchResult{
		RunID:           runID,
		Timestamp:       time.Now().UTC(),
		Recommendations: make(map[string]Recommendation, len(symbols)),
		Failures:        make(map[string]string),
	}

	for outcome := range outcomes {
		if outcome.err != nil {
			result.Failures[outcome.symbol] = outcome.err.Error()
			result.Summary.Failed++
			continue
		}

		result.Recommendations[outcome.symbol] = outcome.rec
		result.Summary.Analyzed++
		switch outcome.rec.Action {
		case risk.Buy:
			result.Summary.BuyCount++
		case risk.Sell:
			result.Summary.SellCount++
		default:
			result.Summary.HoldCount++
		}
	}

	e.log.Info().
		Str("run_id", runID).
		Int("analyzed", result.Summary.Analyzed).
		Int("failed", result.Summary.Failed).
		Msg("analysis batch finished")

	return result, nil
}

// analyzeSymbol runs fetch, classify, evaluate, fuse and the risk gate
// for one symbol under the per-symbol timeout. The deadline is checked
// between stages so an expired symbol stops before the next computation.
func (e *Engine) analyzeSymbol(ctx context.Context, symbol string, account risk.AccountSnapshot, lookbackDays int) (Recommendation, error) {
	symbolCtx := ctx
	if e.cfg.SymbolTimeout > 0 {
		var cancel context.CancelFunc
		symbolCtx, cancel = context.WithTimeout(ctx, e.cfg.SymbolTimeout)
		defer cancel()
	}

	series, err := e.data.Bars(symbolCtx, symbol, lookbackDays)
	if err != nil {
		return Recommendation{}, fmt.Errorf("fetching bars: %w", err)
	}
	if err := series.Validate(); err != nil {
		return Recommendation{}, fmt.Errorf("validating bars: %w", err)
	}
	if err := symbolCtx.Err(); err != nil {
		return Recommendation{}, err
	}

	var warnings []string

	state, err := e.classifier.Classify(series)
	if err != nil {
		if !errors.Is(err, regime.ErrInsufficientData) {
			return Recommendation{}, fmt.Errorf("classifying regime: %w", err)
		}
		state = regime.State{Regime: regime.Sideways, Confidence: 0}
		warnings = append(warnings, fmt.Sprintf("not enough history for regime classification (%d bars)", series.Len()))
	}
	if err := symbolCtx.Err(); err != nil {
		return Recommendation{}, err
	}

	wf, err := e.optimizer.Evaluate(series)
	if err != nil {
		if !errors.Is(err, walkforward.ErrInsufficientWindows) {
			return Recommendation{}, fmt.Errorf("walk-forward evaluation: %w", err)
		}
		wf = walkforward.Result{}
		warnings = append(warnings, fmt.Sprintf("not enough history for walk-forward windows (%d bars)", series.Len()))
	}
	if err := symbolCtx.Err(); err != nil {
		return Recommendation{}, err
	}

	rec := e.fuse(symbol, series.LastClose(), state, wf, account)
	rec.Warnings = append(warnings, rec.Warnings...)
	return rec, nil
}

// fuse combines the regime and walk-forward factors into an action and
// confidence, then applies the risk gate to any non-hold outcome.
func (e *Engine) fuse(symbol string, lastPrice float64, state regime.State, wf walkforward.Result, account risk.AccountSnapshot) Recommendation {
	rec := Recommendation{
		Symbol:    symbol,
		Action:    risk.Hold,
		LastPrice: lastPrice,
		Breakdown: Breakdown{Regime: state, WalkForward: wf},
	}

	regimeDir := regime.DirectionOf(state.Regime)
	wfDir := 0
	switch {
	case wf.ExpectedReturn > returnThreshold:
		wfDir = 1
	case wf.ExpectedReturn < -returnThreshold:
		wfDir = -1
	}
	wfScore := (clip01(wf.SharpeRatio/2) + clip01(wf.WinRate)) / 2

	rec.Reasoning = append(rec.Reasoning,
		fmt.Sprintf("regime %s with %.0f%% indicator agreement", state.Regime, 100*state.Confidence),
		fmt.Sprintf("walk-forward expected return %+.2f%% per window, sharpe %.2f, win rate %.0f%%",
			100*wf.ExpectedReturn, wf.SharpeRatio, 100*wf.WinRate))

	if regimeDir == 0 || wfDir == 0 || regimeDir != wfDir {
		rec.Confidence = math.Min(state.Confidence, wfScore)
		rec.Reasoning = append(rec.Reasoning, "signals do not agree on a direction, holding")
		return rec
	}

	action := risk.Buy
	if regimeDir < 0 {
		action = risk.Sell
	}
	confidence := (state.Confidence + wfScore) / 2

	if action == risk.Sell && account.Positions[symbol].Quantity <= 0 {
		// Downgraded to a hold, so confidence follows the hold rule.
		rec.Confidence = math.Min(state.Confidence, wfScore)
		rec.Reasoning = append(rec.Reasoning, "bearish signals but no position held, holding")
		return rec
	}

	assessment := e.riskMgr.Assess(account, symbol, action, 0, lastPrice)
	if assessment.Blocked {
		rec.Confidence = confidence
		rec.Warnings = append(rec.Warnings, assessment.Warnings...)
		rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("%s signal blocked by risk checks", action))
		return rec
	}

	rec.Action = action
	rec.Confidence = confidence
	rec.PositionSize = assessment.PositionSize
	rec.PositionValue = assessment.PositionValue
	rec.Warnings = append(rec.Warnings, assessment.Warnings...)
	rec.Reasoning = append(rec.Reasoning,
		fmt.Sprintf("signals agree, recommending %s of %d shares", action, assessment.PositionSize))
	return rec
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
