package walkforward

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"alpaca-smart-trade/internal/indicators"
	"alpaca-smart-trade/internal/market"
)

// ErrInsufficientWindows is returned when the series cannot be split into
// at least two full train/test windows.
var ErrInsufficientWindows = errors.New("insufficient data for walk-forward windows")

const (
	tradingDaysPerYear = 252
	rsiOverbought      = 70.0
)

// Params is one strategy parameterization evaluated by the grid search.
type Params struct {
	FastPeriod int `json:"fast_period"`
	SlowPeriod int `json:"slow_period"`
	RSIPeriod  int `json:"rsi_period"`
}

// paramGrid is the fixed search space. Iteration order is part of the
// contract: ties resolve to the earliest candidate.
var paramGrid = buildGrid()

func buildGrid() []Params {
	var grid []Params
	for _, fast := range []int{5, 10, 15} {
		for _, slow := range []int{20, 25, 30} {
			if fast >= slow {
				continue
			}
			for _, rsi := range []int{7, 14} {
				grid = append(grid, Params{FastPeriod: fast, SlowPeriod: slow, RSIPeriod: rsi})
			}
		}
	}
	return grid
}

// WindowResult is the out-of-sample outcome of a single train/test window.
type WindowResult struct {
	TrainStart     time.Time `json:"train_start"`
	TrainEnd       time.Time `json:"train_end"`
	TestStart      time.Time `json:"test_start"`
	TestEnd        time.Time `json:"test_end"`
	Params         Params    `json:"params"`
	RealizedReturn float64   `json:"realized_return"`
	TradeCount     int       `json:"trade_count"`
}

// Result aggregates the out-of-sample window returns.
type Result struct {
	SharpeRatio    float64        `json:"sharpe_ratio"`
	WinRate        float64        `json:"win_rate"`
	ExpectedReturn float64        `json:"expected_return"`
	MaxDrawdown    float64        `json:"max_drawdown"`
	Windows        []WindowResult `json:"windows"`
}

// window is an immutable index partition of the series: train covers
// [trainFrom, trainTo), test covers [testFrom, testTo).
type window struct {
	trainFrom, trainTo int
	testFrom, testTo   int
}

// Optimizer evaluates a symbol with rolling train/test windows, fitting
// strategy parameters in-sample and scoring them strictly out-of-sample.
type Optimizer struct {
	trainDays int
	testDays  int
	log       zerolog.Logger
}

// NewOptimizer builds an optimizer with the given window sizes in bars.
func NewOptimizer(trainDays, testDays int, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		trainDays: trainDays,
		testDays:  testDays,
		log:       log.With().Str("component", "walkforward").Logger(),
	}
}

// MinBars reports the series length needed for the minimum two windows.
func (o *Optimizer) MinBars() int {
	return o.trainDays + 2*o.testDays
}

// partition splits n bars into consecutive windows whose test segments
// tile the series without overlap. A partial tail window is dropped.
func (o *Optimizer) partition(n int) []window {
	var windows []window
	for start := 0; start+o.trainDays+o.testDays <= n; start += o.testDays {
		windows = append(windows, window{
			trainFrom: start,
			trainTo:   start + o.trainDays,
			testFrom:  start + o.trainDays,
			testTo:    start + o.trainDays + o.testDays,
		})
	}
	return windows
}

// Evaluate runs the full walk-forward procedure over the series.
func (o *Optimizer) Evaluate(series market.Series) (Result, error) {
	windows := o.partition(series.Len())
	if len(windows) < 2 {
		return Result{}, fmt.Errorf("%w: %s has %d bars, need %d",
			ErrInsufficientWindows, series.Symbol, series.Len(), o.MinBars())
	}

	bars := series.Bars
	results := make([]WindowResult, 0, len(windows))

	for _, w := range windows {
		params := o.selectParams(bars, w)

		// Replay the frozen parameters over the unseen test range. The
		// indicator lookback may reach into train history, which ends
		// strictly before the first test bar.
		ret, trades := runStrategy(bars[:w.testTo], w.testFrom, w.testTo, params)

		results = append(results, WindowResult{
			TrainStart:     bars[w.trainFrom].Timestamp,
			TrainEnd:       bars[w.trainTo-1].Timestamp,
			TestStart:      bars[w.testFrom].Timestamp,
			TestEnd:        bars[w.testTo-1].Timestamp,
			Params:         params,
			RealizedReturn: ret,
			TradeCount:     trades,
		})
	}

	agg := o.aggregate(results)

	o.log.Debug().
		Str("symbol", series.Symbol).
		Int("windows", len(results)).
		Float64("sharpe", agg.SharpeRatio).
		Float64("win_rate", agg.WinRate).
		Msg("walk-forward evaluated")

	return agg, nil
}

// selectParams grid-searches the training range only. The slice is
// truncated at trainTo so the search cannot observe test bars.
func (o *Optimizer) selectParams(bars []market.Bar, w window) Params {
	trainBars := bars[:w.trainTo]

	best := paramGrid[0]
	bestScore := math.Inf(-1)

	for _, p := range paramGrid {
		score, _ := runStrategy(trainBars, w.trainFrom, w.trainTo, p)
		if score > bestScore {
			best = p
			bestScore = score
		}
	}

	return best
}

// runStrategy replays the SMA-crossover strategy with an RSI overbought
// filter over bars[from:to]. Signals at bar i see bars[:i+1] only. An
// open position is marked to the final close in the range.
func runStrategy(bars []market.Bar, from, to int, p Params) (float64, int) {
	compound := 1.0
	trades := 0
	entry := 0.0
	long := false

	for i := from; i < to; i++ {
		history := bars[:i+1]
		if len(history) < p.SlowPeriod {
			continue
		}

		fast := indicators.CalculateSMA(history, p.FastPeriod)
		slow := indicators.CalculateSMA(history, p.SlowPeriod)
		rsi := indicators.CalculateRSI(history, p.RSIPeriod)
		price := bars[i].Close

		switch {
		case !long && fast > slow && rsi < rsiOverbought:
			long = true
			entry = price
		case long && (fast < slow || rsi > rsiOverbought):
			long = false
			compound *= price / entry
			trades++
		}
	}

	if long {
		compound *= bars[to-1].Close / entry
		trades++
	}

	return compound - 1, trades
}

// aggregate derives the summary statistics from chained window returns.
func (o *Optimizer) aggregate(windows []WindowResult) Result {
	n := float64(len(windows))

	mean := 0.0
	wins := 0
	for _, w := range windows {
		mean += w.RealizedReturn
		if w.RealizedReturn > 0 {
			wins++
		}
	}
	mean /= n

	variance := 0.0
	for _, w := range windows {
		diff := w.RealizedReturn - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / n)

	sharpe := 0.0
	if stdDev > 0 {
		sharpe = mean / stdDev * math.Sqrt(tradingDaysPerYear/float64(o.testDays))
	}

	// Peak-relative drawdown over the chained equity curve
	equity := 1.0
	peak := 1.0
	maxDrawdown := 0.0
	for _, w := range windows {
		equity *= 1 + w.RealizedReturn
		if equity > peak {
			peak = equity
		}
		if dd := equity/peak - 1; dd < maxDrawdown {
			maxDrawdown = dd
		}
	}

	return Result{
		SharpeRatio:    sharpe,
		WinRate:        float64(wins) / n,
		ExpectedReturn: mean,
		MaxDrawdown:    maxDrawdown,
		Windows:        windows,
	}
}
