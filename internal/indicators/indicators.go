package indicators

import (
	"math"

	"alpaca-smart-trade/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average over the last period bars
func CalculateSMA(bars []market.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(bars) - period

	for i := startIdx; i < len(bars); i++ {
		sum += bars[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average
func CalculateEMA(bars []market.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	series := emaSeries(closes, period)
	return series[len(series)-1]
}

// emaSeries produces the EMA value for every index from period-1 onward.
// The first value is seeded with the SMA of the first period values.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}

	out := make([]float64, 0, len(values)-period+1)
	ema := sum / float64(period)
	out = append(out, ema)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out = append(out, ema)
	}

	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index with Wilder smoothing
func CalculateRSI(bars []market.Bar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 50.0 // Neutral RSI
	}

	// Seed averages from the first period of changes
	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// Wilder smoothing over the rest of the series
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD calculates the MACD line, signal line, and histogram.
// The signal line is a true EMA over the MACD series, which needs at
// least slowPeriod+signalPeriod-1 bars.
func CalculateMACD(bars []market.Bar, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(bars) < slowPeriod+signalPeriod-1 || fastPeriod >= slowPeriod {
		return &MACDResult{}
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	fastSeries := emaSeries(closes, fastPeriod)
	slowSeries := emaSeries(closes, slowPeriod)

	// Both series end at the last bar; align on the shorter one
	macdSeries := make([]float64, len(slowSeries))
	offset := len(fastSeries) - len(slowSeries)
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdSeries, signalPeriod)
	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]

	return &MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBandsResult holds Bollinger Bands values
type BollingerBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands
func CalculateBollingerBands(bars []market.Bar, period int, stdDevMultiplier float64) *BollingerBandsResult {
	if len(bars) < period || period <= 0 {
		return &BollingerBandsResult{}
	}

	middle := CalculateSMA(bars, period)

	variance := 0.0
	startIdx := len(bars) - period
	for i := startIdx; i < len(bars); i++ {
		diff := bars[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerBandsResult{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates Average True Range
func CalculateATR(bars []market.Bar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 0
	}

	trSum := 0.0
	startIdx := len(bars) - period

	for i := startIdx; i < len(bars); i++ {
		trSum += trueRange(bars[i], bars[i-1])
	}

	return trSum / float64(period)
}

func trueRange(cur, prev market.Bar) float64 {
	return math.Max(
		cur.High-cur.Low,
		math.Max(
			math.Abs(cur.High-prev.Close),
			math.Abs(cur.Low-prev.Close),
		),
	)
}

// ============================================================================
// STOCHASTIC OSCILLATOR
// ============================================================================

// StochasticResult holds Stochastic Oscillator values
type StochasticResult struct {
	K float64
	D float64
}

// CalculateStochastic calculates the Stochastic Oscillator. %K is the raw
// value for the latest bar; %D is the SMA of the last dPeriod %K values.
func CalculateStochastic(bars []market.Bar, kPeriod, dPeriod int) *StochasticResult {
	if len(bars) < kPeriod+dPeriod-1 || kPeriod <= 0 || dPeriod <= 0 {
		return &StochasticResult{K: 50, D: 50}
	}

	dSum := 0.0
	for j := 0; j < dPeriod; j++ {
		dSum += percentK(bars[:len(bars)-j], kPeriod)
	}

	return &StochasticResult{
		K: percentK(bars, kPeriod),
		D: dSum / float64(dPeriod),
	}
}

func percentK(bars []market.Bar, kPeriod int) float64 {
	startIdx := len(bars) - kPeriod
	highestHigh := bars[startIdx].High
	lowestLow := bars[startIdx].Low

	for i := startIdx; i < len(bars); i++ {
		if bars[i].High > highestHigh {
			highestHigh = bars[i].High
		}
		if bars[i].Low < lowestLow {
			lowestLow = bars[i].Low
		}
	}

	if highestHigh == lowestLow {
		return 50
	}

	currentClose := bars[len(bars)-1].Close
	return ((currentClose - lowestLow) / (highestHigh - lowestLow)) * 100
}

// ============================================================================
// ADX (Average Directional Index)
// ============================================================================

// DMIResult holds the directional movement values
type DMIResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADX calculates the Average Directional Index
func CalculateADX(bars []market.Bar, period int) float64 {
	return CalculateDMI(bars, period).ADX
}

// CalculateDMI calculates ADX together with +DI and -DI using Wilder
// smoothing of the directional movement series. Needs 2*period bars of
// history after the first one.
func CalculateDMI(bars []market.Bar, period int) *DMIResult {
	if len(bars) < 2*period+1 || period <= 0 {
		return &DMIResult{}
	}

	n := len(bars)
	smTR, smPlusDM, smMinusDM := 0.0, 0.0, 0.0

	// Seed the smoothed sums from the first period of movements
	for i := 1; i <= period; i++ {
		tr, plusDM, minusDM := directionalMovement(bars[i], bars[i-1])
		smTR += tr
		smPlusDM += plusDM
		smMinusDM += minusDM
	}

	dxValues := make([]float64, 0, n-period-1)
	dxValues = append(dxValues, dx(smTR, smPlusDM, smMinusDM))

	for i := period + 1; i < n; i++ {
		tr, plusDM, minusDM := directionalMovement(bars[i], bars[i-1])
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		dxValues = append(dxValues, dx(smTR, smPlusDM, smMinusDM))
	}

	// ADX is the Wilder average of the DX series
	adx := 0.0
	for i := 0; i < period; i++ {
		adx += dxValues[i]
	}
	adx /= float64(period)

	for i := period; i < len(dxValues); i++ {
		adx = (adx*float64(period-1) + dxValues[i]) / float64(period)
	}

	result := &DMIResult{ADX: adx}
	if smTR > 0 {
		result.PlusDI = 100 * smPlusDM / smTR
		result.MinusDI = 100 * smMinusDM / smTR
	}
	return result
}

func directionalMovement(cur, prev market.Bar) (tr, plusDM, minusDM float64) {
	upMove := cur.High - prev.High
	downMove := prev.Low - cur.Low

	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	return trueRange(cur, prev), plusDM, minusDM
}

func dx(smTR, smPlusDM, smMinusDM float64) float64 {
	if smTR == 0 {
		return 0
	}

	plusDI := 100 * smPlusDM / smTR
	minusDI := 100 * smMinusDM / smTR

	if plusDI+minusDI == 0 {
		return 0
	}

	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}
