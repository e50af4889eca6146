package risk

import "fmt"

// PDTStatus describes where the account stands against the pattern
// day trading rule.
type PDTStatus struct {
	Protected        bool `json:"protected"`
	DayTradeCount    int  `json:"day_trade_count"`
	DayTradesLeft    int  `json:"day_trades_left"`
	PatternDayTrader bool `json:"pattern_day_trader"`
}

// Summary is an advisory roll-up of the account from a risk standpoint.
type Summary struct {
	Equity              float64   `json:"equity"`
	Cash                float64   `json:"cash"`
	BuyingPower         float64   `json:"buying_power"`
	PositionCount       int       `json:"position_count"`
	TotalMarketValue    float64   `json:"total_market_value"`
	LargestPositionPct  float64   `json:"largest_position_pct"`
	MaxPositionFraction float64   `json:"max_position_fraction"`
	PDT                 PDTStatus `json:"pdt"`
	Warnings            []string  `json:"warnings"`
}

// Summarize produces the advisory risk summary for the API response and
// the notification report. All warnings here are informational; only
// Assess blocks trades.
func (m *Manager) Summarize(account AccountSnapshot) Summary {
	s := Summary{
		Equity:              account.Equity,
		Cash:                account.Cash,
		BuyingPower:         account.BuyingPower,
		PositionCount:       len(account.Positions),
		MaxPositionFraction: m.params.MaxPositionFraction,
		PDT: PDTStatus{
			Protected:        m.params.EnablePDTProtection && account.Equity < pdtEquityThreshold,
			DayTradeCount:    account.DayTradeCount,
			PatternDayTrader: account.PatternDayTrader,
		},
	}

	left := pdtMaxDayTrades - account.DayTradeCount
	if left < 0 {
		left = 0
	}
	s.PDT.DayTradesLeft = left

	if account.TradingBlocked {
		s.Warnings = append(s.Warnings, "trading is blocked on this account")
	}
	if account.Equity < m.params.MinAccountBalance {
		s.Warnings = append(s.Warnings, fmt.Sprintf(
			"equity $%.2f is below the $%.2f minimum, all trades will be blocked",
			account.Equity, m.params.MinAccountBalance))
	}
	if s.PDT.Protected && left == 0 {
		s.Warnings = append(s.Warnings, "day trade limit reached, new buys are blocked")
	}

	for symbol, pos := range account.Positions {
		s.TotalMarketValue += pos.MarketValue

		if account.Equity > 0 {
			pct := 100 * pos.MarketValue / account.Equity
			if pct > s.LargestPositionPct {
				s.LargestPositionPct = pct
			}
			if pos.MarketValue > m.params.MaxPositionFraction*account.Equity*(1+concentrationTolerance) {
				s.Warnings = append(s.Warnings, fmt.Sprintf(
					"%s is %.1f%% of equity, over the %.0f%% position cap",
					symbol, pct, 100*m.params.MaxPositionFraction))
			}
		}
		if pos.UnrealizedPLPC < -0.10 {
			s.Warnings = append(s.Warnings, fmt.Sprintf(
				"%s is down %.1f%%, consider reviewing the position",
				symbol, -100*pos.UnrealizedPLPC))
		}
	}

	return s
}
