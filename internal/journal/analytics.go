package journal

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

var hundred = decimal.NewFromInt(100)
var sqrt252 = decimal.NewFromFloat(15.8745078664) // math.Sqrt(252)

// PerformanceStats computes the full analytics table over a closed-trade set.
// Trades without a RealizedPnL (should not occur for closed rows) are
// skipped. startingEquity seeds the drawdown curve per the equity_i =
// starting_equity + sum(realized_pnl) definition.
func PerformanceStats(trades []trading.TradeRecord, startingEquity decimal.Decimal) trading.AnalyticsSummary {
	var summary trading.AnalyticsSummary

	var pnls, wins, losses, riskRewards, holdTimes []decimal.Decimal

	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		pnls = append(pnls, pnl)
		summary.TotalCommission = summary.TotalCommission.Add(t.Commission)

		switch {
		case pnl.GreaterThan(decimal.Zero):
			summary.WinningTrades++
			wins = append(wins, pnl)
		case pnl.LessThan(decimal.Zero):
			summary.LosingTrades++
			losses = append(losses, pnl)
		}

		if t.RiskRewardRatio != nil {
			riskRewards = append(riskRewards, *t.RiskRewardRatio)
		}
		if t.HoldTimeMinutes != nil {
			holdTimes = append(holdTimes, decimal.NewFromInt(*t.HoldTimeMinutes))
		}
	}

	summary.TotalTrades = len(pnls)
	if summary.TotalTrades == 0 {
		return summary
	}

	for _, p := range pnls {
		summary.TotalPnL = summary.TotalPnL.Add(p)
	}

	summary.WinRate = decimal.NewFromInt(int64(summary.WinningTrades)).
		Div(decimal.NewFromInt(int64(summary.TotalTrades))).Mul(hundred)

	summary.AvgWin = utils.CalculateMean(wins)
	summary.AvgLoss = utils.CalculateMean(losses)

	if len(wins) > 0 {
		summary.LargestWin = wins[0]
		for _, w := range wins {
			if w.GreaterThan(summary.LargestWin) {
				summary.LargestWin = w
			}
		}
	}
	if len(losses) > 0 {
		summary.LargestLoss = losses[0]
		for _, l := range losses {
			if l.LessThan(summary.LargestLoss) {
				summary.LargestLoss = l
			}
		}
	}

	summary.AvgRiskReward = utils.CalculateMean(riskRewards)

	grossProfit := decimal.Zero
	for _, w := range wins {
		grossProfit = grossProfit.Add(w)
	}
	grossLoss := decimal.Zero
	for _, l := range losses {
		grossLoss = grossLoss.Add(l.Abs())
	}
	if grossLoss.IsZero() {
		summary.ProfitFactor = decimal.Zero
	} else {
		summary.ProfitFactor = grossProfit.Div(grossLoss)
	}

	if summary.TotalTrades >= 2 {
		mean := utils.CalculateMean(pnls)
		stdev := utils.CalculateStdDev(pnls)
		if !stdev.IsZero() {
			summary.SharpeRatio = mean.Div(stdev).Mul(sqrt252)
		}
	}

	summary.MaxDrawdown = maxDrawdownPct(EquityCurve(trades, startingEquity))
	summary.AvgHoldTimeMinutes = utils.CalculateMean(holdTimes)

	return summary
}

// EquityCurve returns one point per closed trade, ordered by exit_time, where
// equity_i = startingEquity + sum of realized_pnl for trades 1..i.
func EquityCurve(trades []trading.TradeRecord, startingEquity decimal.Decimal) []trading.EquityPoint {
	closed := make([]trading.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.ExitTime != nil && t.RealizedPnL != nil {
			closed = append(closed, t)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ExitTime.Before(*closed[j].ExitTime) })

	points := make([]trading.EquityPoint, 0, len(closed))
	running := startingEquity
	for _, t := range closed {
		running = running.Add(*t.RealizedPnL)
		points = append(points, trading.EquityPoint{
			ExitTime: *t.ExitTime,
			TradeID:  t.ID,
			Equity:   running,
		})
	}
	return points
}

// maxDrawdownPct returns the minimum of (equity - running_max)/running_max × 100
// over the curve, i.e. the deepest (most negative) drawdown. Zero on an empty curve.
func maxDrawdownPct(points []trading.EquityPoint) decimal.Decimal {
	if len(points) == 0 {
		return decimal.Zero
	}

	worst := decimal.Zero
	peak := points[0].Equity
	for _, p := range points {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := p.Equity.Sub(peak).Div(peak).Mul(hundred)
		if dd.LessThan(worst) {
			worst = dd
		}
	}
	return worst
}
