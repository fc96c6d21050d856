package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason classifies why a trade was closed.
type ExitReason string

const (
	ExitStop         ExitReason = "STOP"
	ExitTarget       ExitReason = "TARGET"
	ExitManual       ExitReason = "MANUAL"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
)

// TradeRecord is a journal row: an entry, and optionally its matching exit.
type TradeRecord struct {
	ID         int64
	Symbol     string
	Side       Side
	EntryTime  time.Time
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	StopPrice  *decimal.Decimal
	TargetPrice *decimal.Decimal
	RiskAmount decimal.Decimal
	SABR20Score *decimal.Decimal
	Regime     string

	ExitTime         *time.Time
	ExitPrice        *decimal.Decimal
	ExitReason       ExitReason
	Commission       decimal.Decimal
	RealizedPnL      *decimal.Decimal
	PnLPct           *decimal.Decimal
	RiskRewardRatio  *decimal.Decimal
	HoldTimeMinutes  *int64
	ActualStop       *decimal.Decimal
	ActualTarget     *decimal.Decimal
	MAE              *decimal.Decimal
	MFE              *decimal.Decimal
	Notes            string
}

// IsOpen reports whether the trade has not yet been closed.
func (t TradeRecord) IsOpen() bool {
	return t.ExitTime == nil
}

// PortfolioStats is a point-in-time rollup of the open/closed position set.
type PortfolioStats struct {
	RealizedPnL      decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	TotalPnL         decimal.Decimal
	PositionsCount   int
	WinningPositions int
	LosingPositions  int
	ClosedTradesCount int
	WinningTrades    int
	LosingTrades     int
}

// AnalyticsSummary is the full performance analytics table from §4.4.
type AnalyticsSummary struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            decimal.Decimal
	TotalPnL           decimal.Decimal
	AvgWin             decimal.Decimal
	AvgLoss            decimal.Decimal
	LargestWin         decimal.Decimal
	LargestLoss        decimal.Decimal
	AvgRiskReward      decimal.Decimal
	ProfitFactor       decimal.Decimal
	SharpeRatio        decimal.Decimal
	MaxDrawdown        decimal.Decimal
	AvgHoldTimeMinutes decimal.Decimal
	TotalCommission    decimal.Decimal
}

// EquityPoint is one point on the equity curve, ordered by exit time.
type EquityPoint struct {
	ExitTime time.Time
	TradeID  int64
	Equity   decimal.Decimal
}
