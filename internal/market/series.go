package market

import (
	"fmt"
	"time"
)

// Bar is a single daily OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is a chronologically ordered sequence of bars for one symbol.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Validate checks that the series is usable for analysis: non-empty,
// strictly increasing timestamps, and positive prices on every bar.
func (s Series) Validate() error {
	if len(s.Bars) == 0 {
		return fmt.Errorf("series %s: no bars", s.Symbol)
	}

	for i, bar := range s.Bars {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return fmt.Errorf("series %s: non-positive price at bar %d (%s)",
				s.Symbol, i, bar.Timestamp.Format("2006-01-02"))
		}
		if bar.High < bar.Low {
			return fmt.Errorf("series %s: high below low at bar %d (%s)",
				s.Symbol, i, bar.Timestamp.Format("2006-01-02"))
		}
		if i > 0 && !bar.Timestamp.After(s.Bars[i-1].Timestamp) {
			return fmt.Errorf("series %s: out-of-order timestamp at bar %d (%s)",
				s.Symbol, i, bar.Timestamp.Format("2006-01-02"))
		}
	}

	return nil
}

// Len returns the number of bars in the series.
func (s Series) Len() int {
	return len(s.Bars)
}

// Last returns the most recent bar. The second return is false when the
// series is empty.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// LastClose returns the most recent closing price, or 0 for an empty series.
func (s Series) LastClose() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Close
}

// Slice returns a sub-series over bars[from:to]. The bar slice is shared
// with the parent, not copied.
func (s Series) Slice(from, to int) Series {
	return Series{Symbol: s.Symbol, Bars: s.Bars[from:to]}
}

// Closes extracts the closing prices in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, bar := range s.Bars {
		closes[i] = bar.Close
	}
	return closes
}
