package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"alpaca-smart-trade/internal/engine"
	"alpaca-smart-trade/internal/risk"
)

// maxReportedPerSide caps how many recommendations the report lists for
// each side.
const maxReportedPerSide = 3

// SendAnalysisReport renders and sends the batch analysis report.
func (m *Manager) SendAnalysisReport(batch *engine.BatchResult, summary risk.Summary, paper bool) error {
	return m.Send(&Notification{
		Type:      NotifyReport,
		Message:   FormatAnalysisReport(batch, summary, paper),
		Timestamp: time.Now(),
	})
}

// FormatAnalysisReport renders the batch result as a Markdown message
// for Telegram and Discord.
func FormatAnalysisReport(batch *engine.BatchResult, summary risk.Summary, paper bool) string {
	var b strings.Builder

	b.WriteString("📊 *Stock Analysis Report*\n")
	b.WriteString(fmt.Sprintf("_%s_\n\n", batch.Timestamp.Format("2006-01-02 15:04 MST")))

	mode := "LIVE"
	if paper {
		mode = "PAPER"
	}
	b.WriteString(fmt.Sprintf("*Account* (%s)\n", mode))
	b.WriteString(fmt.Sprintf("Equity: $%.2f | Cash: $%.2f\n", summary.Equity, summary.Cash))
	b.WriteString(fmt.Sprintf("Buying Power: $%.2f | Positions: %d\n", summary.BuyingPower, summary.PositionCount))

	if summary.PDT.Protected {
		b.WriteString(fmt.Sprintf("⚠️ PDT protection active: %d day trades left\n", summary.PDT.DayTradesLeft))
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("*Signals*: %d BUY / %d SELL / %d HOLD",
		batch.Summary.BuyCount, batch.Summary.SellCount, batch.Summary.HoldCount))
	if batch.Summary.Failed > 0 {
		b.WriteString(fmt.Sprintf(" (%d failed)", batch.Summary.Failed))
	}
	b.WriteString("\n\n")

	writeSide(&b, "🟢 *Top Buys*", topByConfidence(batch, risk.Buy))
	writeSide(&b, "🔴 *Top Sells*", topByConfidence(batch, risk.Sell))

	if len(summary.Warnings) > 0 {
		b.WriteString("⚠️ *Warnings*\n")
		for _, w := range summary.Warnings {
			b.WriteString(fmt.Sprintf("• %s\n", w))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("_run %s_", batch.RunID))
	return b.String()
}

func writeSide(b *strings.Builder, header string, recs []engine.Recommendation) {
	if len(recs) == 0 {
		return
	}

	b.WriteString(header + "\n")
	for _, rec := range recs {
		b.WriteString(fmt.Sprintf("• *%s* %.0f%% confidence", rec.Symbol, 100*rec.Confidence))
		if rec.PositionSize > 0 {
			b.WriteString(fmt.Sprintf(", %d shares (~$%.0f)", rec.PositionSize, rec.PositionValue))
		}
		b.WriteString("\n")
		if regime := rec.Breakdown.Regime.Regime; regime != "" {
			b.WriteString(fmt.Sprintf("  regime %s, sharpe %.2f\n",
				regime, rec.Breakdown.WalkForward.SharpeRatio))
		}
	}
	b.WriteString("\n")
}

// topByConfidence picks the strongest recommendations for one side,
// ordered by confidence with symbol as the tie-break.
func topByConfidence(batch *engine.BatchResult, action risk.Action) []engine.Recommendation {
	var recs []engine.Recommendation
	for _, rec := range batch.Recommendations {
		if rec.Action == action {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return recs[i].Symbol < recs[j].Symbol
	})

	if len(recs) > maxReportedPerSide {
		recs = recs[:maxReportedPerSide]
	}
	return recs
}
