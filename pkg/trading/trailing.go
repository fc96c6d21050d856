package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrailingType selects how a trail distance is computed.
type TrailingType string

const (
	TrailingPercentage TrailingType = "percentage"
	TrailingATR        TrailingType = "atr"
)

// TrailingState is the per-symbol trailing-stop state machine state.
type TrailingState string

const (
	TrailingDisabled TrailingState = "disabled"
	TrailingArmed    TrailingState = "armed"
	TrailingActive   TrailingState = "trailing"
	TrailingRetired  TrailingState = "retired"
)

// TrailingConfig is the per-symbol trailing-stop configuration and state.
type TrailingConfig struct {
	Symbol              string
	Type                TrailingType
	TrailingAmount      decimal.Decimal
	ActivationProfitPct decimal.Decimal
	MinTrailPct         decimal.Decimal
	Enabled             bool
	State               TrailingState
	Activated           bool
	ActivationPrice     decimal.Decimal
	ActivationTime      time.Time
	AdjustmentCount     int
	LastAdjustmentTime  time.Time
	HighWater           *decimal.Decimal
	LowWater            *decimal.Decimal
}

// StopAdjustment is an audit row recording one accepted stop modification.
type StopAdjustment struct {
	Symbol               string
	Timestamp            time.Time
	OldStop              *decimal.Decimal
	NewStop              decimal.Decimal
	TriggerPrice         decimal.Decimal
	TrailingType         TrailingType
	TrailingAmount       decimal.Decimal
	ProfitPctAtAdjustment decimal.Decimal
}
