package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Action is the trade direction a recommendation or order request carries.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// pdtEquityThreshold is the regulatory equity floor below which pattern
// day trading restrictions apply.
const pdtEquityThreshold = 25000.0

// pdtMaxDayTrades is the number of day trades allowed in the rolling
// five-day window under the threshold.
const pdtMaxDayTrades = 3

// concentrationTolerance is the slack allowed over the position fraction
// cap before a buy is trimmed.
const concentrationTolerance = 0.05

// Position is a held position as seen in the account snapshot.
type Position struct {
	Quantity       int     `json:"quantity"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}

// AccountSnapshot is a point-in-time view of the trading account. It is
// captured once per batch and treated as read-only.
type AccountSnapshot struct {
	Equity           float64             `json:"equity"`
	Cash             float64             `json:"cash"`
	BuyingPower      float64             `json:"buying_power"`
	DayTradeCount    int                 `json:"day_trade_count"`
	PatternDayTrader bool                `json:"pattern_day_trader"`
	TradingBlocked   bool                `json:"trading_blocked"`
	Positions        map[string]Position `json:"positions"`
}

// Assessment is the outcome of the risk checks for one proposed trade.
type Assessment struct {
	PositionSize  int      `json:"position_size"`
	PositionValue float64  `json:"position_value"`
	Warnings      []string `json:"warnings"`
	Blocked       bool     `json:"blocked"`
}

// Params configures the risk checks.
type Params struct {
	MaxPositionFraction float64
	MinAccountBalance   float64
	EnablePDTProtection bool
}

// Manager applies the ordered risk checks to proposed trades. All methods
// are pure functions of the snapshot passed in.
type Manager struct {
	params Params
	log    zerolog.Logger
}

// NewManager builds a risk manager with the given limits.
func NewManager(params Params, log zerolog.Logger) *Manager {
	return &Manager{
		params: params,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// Assess runs the risk checks for a proposed trade in order: account
// gates, sizing, concentration, then pattern-day-trade protection. A
// proposedQty of 0 means "as large as the limits allow". The first
// failed gate blocks the trade with size 0.
func (m *Manager) Assess(account AccountSnapshot, symbol string, action Action, proposedQty int, lastPrice float64) Assessment {
	if action == Hold {
		return Assessment{}
	}

	if account.TradingBlocked {
		return blocked("trading is blocked on this account")
	}
	if account.Equity < m.params.MinAccountBalance {
		return blocked(fmt.Sprintf("account equity $%.2f below minimum balance $%.2f",
			account.Equity, m.params.MinAccountBalance))
	}
	if lastPrice <= 0 {
		return blocked(fmt.Sprintf("no valid price for %s", symbol))
	}

	var assessment Assessment
	switch action {
	case Buy:
		assessment = m.sizeBuy(account, symbol, proposedQty, lastPrice)
	case Sell:
		assessment = m.sizeSell(account, symbol, proposedQty)
	default:
		return blocked(fmt.Sprintf("unknown action %q", action))
	}

	if assessment.Blocked {
		return assessment
	}

	if action == Buy && m.params.EnablePDTProtection &&
		account.Equity < pdtEquityThreshold && account.DayTradeCount >= pdtMaxDayTrades {
		a := blocked(fmt.Sprintf("pattern day trade protection: %d day trades used with equity below $%.0f",
			account.DayTradeCount, pdtEquityThreshold))
		a.Warnings = append(assessment.Warnings, a.Warnings...)
		return a
	}

	m.log.Debug().
		Str("symbol", symbol).
		Str("action", string(action)).
		Int("size", assessment.PositionSize).
		Float64("value", assessment.PositionValue).
		Msg("trade assessed")

	return assessment
}

func (m *Manager) sizeBuy(account AccountSnapshot, symbol string, proposedQty int, lastPrice float64) Assessment {
	capital := math.Min(m.params.MaxPositionFraction*account.Equity, account.BuyingPower)
	maxQty := int(capital / lastPrice)

	if maxQty < 1 {
		return blocked(fmt.Sprintf("insufficient buying power for %s at $%.2f", symbol, lastPrice))
	}

	qty := maxQty
	if proposedQty > 0 && proposedQty < qty {
		qty = proposedQty
	}

	var warnings []string
	if proposedQty > maxQty {
		warnings = append(warnings,
			fmt.Sprintf("requested %d shares reduced to %d by position limits", proposedQty, maxQty))
	}

	// Concentration: the post-trade position value may not exceed the
	// per-position fraction of equity beyond the tolerance.
	existing := account.Positions[symbol].MarketValue
	capValue := m.params.MaxPositionFraction * account.Equity
	postValue := existing + float64(qty)*lastPrice

	if postValue > capValue*(1+concentrationTolerance) {
		reduced := int((capValue - existing) / lastPrice)
		if reduced < 1 {
			return blocked(fmt.Sprintf("%s position already at %.1f%% of equity, concentration cap reached",
				symbol, 100*existing/account.Equity))
		}
		warnings = append(warnings,
			fmt.Sprintf("reduced from %d to %d shares to stay within %.0f%% position cap",
				qty, reduced, 100*m.params.MaxPositionFraction))
		qty = reduced
	}

	return Assessment{
		PositionSize:  qty,
		PositionValue: float64(qty) * lastPrice,
		Warnings:      warnings,
	}
}

func (m *Manager) sizeSell(account AccountSnapshot, symbol string, proposedQty int) Assessment {
	held := account.Positions[symbol].Quantity
	if held <= 0 {
		return blocked(fmt.Sprintf("no %s position held, nothing to sell", symbol))
	}

	qty := held
	var warnings []string
	if proposedQty > 0 && proposedQty < held {
		qty = proposedQty
	} else if proposedQty > held {
		warnings = append(warnings,
			fmt.Sprintf("requested %d shares reduced to %d held", proposedQty, held))
	}

	value := 0.0
	if held > 0 {
		value = account.Positions[symbol].MarketValue * float64(qty) / float64(held)
	}

	return Assessment{
		PositionSize:  qty,
		PositionValue: value,
		Warnings:      warnings,
	}
}

func blocked(reason string) Assessment {
	return Assessment{Blocked: true, Warnings: []string{reason}}
}
