package regime

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"alpaca-smart-trade/internal/indicators"
	"alpaca-smart-trade/internal/market"
)

// ErrInsufficientData is returned when a series is too short to cover the
// longest moving-average period plus indicator warmup.
var ErrInsufficientData = errors.New("insufficient data for regime classification")

// Regime labels the prevailing market condition for a symbol.
type Regime string

const (
	Bullish  Regime = "bullish"
	Bearish  Regime = "bearish"
	Sideways Regime = "sideways"
)

// Direction is a single indicator's lean.
type Direction int

const (
	Down Direction = -1
	Flat Direction = 0
	Up   Direction = 1
)

// Vote is one indicator's contribution to the classification.
type Vote struct {
	Indicator string
	Direction Direction
}

// State is the classification result for one symbol at one point in time.
type State struct {
	Regime     Regime             `json:"regime"`
	Confidence float64            `json:"confidence"`
	Votes      []Vote             `json:"-"`
	Indicators map[string]float64 `json:"indicators"`
}

// warmupBars covers the slowest indicator chain (MACD 26-period EMA plus
// its 9-period signal) so every voter has settled values.
const warmupBars = 35

// adxTrendFloor and adxNoTrend bound the ADX vote: at or above the floor
// the directional indices pick a side, below adxNoTrend the market is
// considered trendless regardless of the other voters.
const (
	adxTrendFloor = 25.0
	adxNoTrend    = 20.0
)

// macdFlatEpsilon is the relative gap below which the MACD and signal
// lines are considered converged rather than crossed.
const macdFlatEpsilon = 1e-9

// Classifier determines the market regime from an indicator vote table.
type Classifier struct {
	periods []int
	log     zerolog.Logger
}

// NewClassifier builds a classifier voting over the given SMA periods
// (typically 20, 50, 200) alongside the fixed oscillator set.
func NewClassifier(smaPeriods []int, log zerolog.Logger) *Classifier {
	periods := make([]int, len(smaPeriods))
	copy(periods, smaPeriods)

	return &Classifier{
		periods: periods,
		log:     log.With().Str("component", "regime").Logger(),
	}
}

// MinBars reports the number of bars Classify needs.
func (c *Classifier) MinBars() int {
	maxPeriod := 0
	for _, p := range c.periods {
		if p > maxPeriod {
			maxPeriod = p
		}
	}
	return maxPeriod + warmupBars
}

// Classify inspects the series and returns the prevailing regime with a
// confidence equal to the share of indicator votes agreeing with it.
func (c *Classifier) Classify(series market.Series) (State, error) {
	if series.Len() < c.MinBars() {
		return State{}, fmt.Errorf("%w: %s has %d bars, need %d",
			ErrInsufficientData, series.Symbol, series.Len(), c.MinBars())
	}

	bars := series.Bars
	price := series.LastClose()
	snapshot := map[string]float64{"price": price}

	votes := make([]Vote, 0, 6)

	// Trend: price relative to the full moving-average stack
	aboveAll, belowAll := true, true
	for _, period := range c.periods {
		sma := indicators.CalculateSMA(bars, period)
		snapshot[fmt.Sprintf("sma_%d", period)] = sma
		if price <= sma {
			aboveAll = false
		}
		if price >= sma {
			belowAll = false
		}
	}
	switch {
	case aboveAll:
		votes = append(votes, Vote{"sma_stack", Up})
	case belowAll:
		votes = append(votes, Vote{"sma_stack", Down})
	default:
		votes = append(votes, Vote{"sma_stack", Flat})
	}

	// Momentum: RSI extremes read as exhaustion, the middle as a lean
	rsi := indicators.CalculateRSI(bars, 14)
	snapshot["rsi"] = rsi
	switch {
	case rsi > 70:
		votes = append(votes, Vote{"rsi", Down})
	case rsi < 30:
		votes = append(votes, Vote{"rsi", Up})
	case rsi > 60:
		votes = append(votes, Vote{"rsi", Up})
	case rsi < 40:
		votes = append(votes, Vote{"rsi", Down})
	default:
		votes = append(votes, Vote{"rsi", Flat})
	}

	// MACD line vs signal line. A converged pair differs only by float
	// rounding; treat anything inside the epsilon as flat.
	macd := indicators.CalculateMACD(bars, 12, 26, 9)
	snapshot["macd"] = macd.MACD
	snapshot["macd_signal"] = macd.Signal
	macdGap := macd.MACD - macd.Signal
	macdEps := macdFlatEpsilon * math.Max(1, math.Abs(macd.Signal))
	switch {
	case macdGap > macdEps:
		votes = append(votes, Vote{"macd", Up})
	case macdGap < -macdEps:
		votes = append(votes, Vote{"macd", Down})
	default:
		votes = append(votes, Vote{"macd", Flat})
	}

	// Trend strength: directional movement
	dmi := indicators.CalculateDMI(bars, 14)
	snapshot["adx"] = dmi.ADX
	snapshot["plus_di"] = dmi.PlusDI
	snapshot["minus_di"] = dmi.MinusDI
	noTrend := dmi.ADX < adxNoTrend
	switch {
	case noTrend:
		votes = append(votes, Vote{"adx", Flat})
	case dmi.ADX >= adxTrendFloor && dmi.PlusDI > dmi.MinusDI:
		votes = append(votes, Vote{"adx", Up})
	case dmi.ADX >= adxTrendFloor && dmi.MinusDI > dmi.PlusDI:
		votes = append(votes, Vote{"adx", Down})
	default:
		votes = append(votes, Vote{"adx", Flat})
	}

	// Position within the Bollinger channel
	bb := indicators.CalculateBollingerBands(bars, 20, 2)
	percentB := 0.5
	if bb.Upper > bb.Lower {
		percentB = (price - bb.Lower) / (bb.Upper - bb.Lower)
	}
	snapshot["percent_b"] = percentB
	switch {
	case percentB > 0.8:
		votes = append(votes, Vote{"bollinger", Up})
	case percentB < 0.2:
		votes = append(votes, Vote{"bollinger", Down})
	default:
		votes = append(votes, Vote{"bollinger", Flat})
	}

	// Stochastic overbought/oversold
	stoch := indicators.CalculateStochastic(bars, 14, 3)
	snapshot["stoch_k"] = stoch.K
	switch {
	case stoch.K > 80:
		votes = append(votes, Vote{"stochastic", Down})
	case stoch.K < 20:
		votes = append(votes, Vote{"stochastic", Up})
	default:
		votes = append(votes, Vote{"stochastic", Flat})
	}

	regime, confidence := tally(votes)

	// A trendless ADX overrides the directional majority
	if noTrend && regime != Sideways {
		regime = Sideways
		confidence = agreement(votes, Flat)
	}

	c.log.Debug().
		Str("symbol", series.Symbol).
		Str("regime", string(regime)).
		Float64("confidence", confidence).
		Float64("adx", dmi.ADX).
		Msg("regime classified")

	return State{
		Regime:     regime,
		Confidence: confidence,
		Votes:      votes,
		Indicators: snapshot,
	}, nil
}

// tally reduces the vote slice to a regime and its agreement share.
// Ties resolve to Sideways.
func tally(votes []Vote) (Regime, float64) {
	if len(votes) == 0 {
		return Sideways, 0
	}

	counts := map[Direction]int{}
	for _, v := range votes {
		counts[v.Direction]++
	}

	switch {
	case counts[Up] > counts[Down] && counts[Up] > counts[Flat]:
		return Bullish, agreement(votes, Up)
	case counts[Down] > counts[Up] && counts[Down] > counts[Flat]:
		return Bearish, agreement(votes, Down)
	default:
		return Sideways, agreement(votes, Flat)
	}
}

func agreement(votes []Vote, dir Direction) float64 {
	if len(votes) == 0 {
		return 0
	}

	agreeing := 0
	for _, v := range votes {
		if v.Direction == dir {
			agreeing++
		}
	}
	return float64(agreeing) / float64(len(votes))
}

// DirectionOf maps a regime to its trade-direction sign.
func DirectionOf(r Regime) int {
	switch r {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}
