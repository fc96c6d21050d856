package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

func bar(ts time.Time, o, h, l, c, v float64) trading.SourceBar {
	return trading.SourceBar{
		Symbol: "BTC/USDT", Timestamp: ts,
		Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(v),
		Complete: true,
	}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newAgg(t *testing.T, onBar OnBarComplete) *Aggregator {
	t.Helper()
	a, err := New(nil, Config{
		SourceTimeframe:  trading.Timeframe5s,
		TargetTimeframes: []trading.Timeframe{trading.Timeframe1m},
	}, onBar)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// TestOneMinuteFromFiveSecondBars feeds twelve 5s bars (one full minute) plus
// the first bar of the next minute, and checks the completed 1m bar's OHLCV
// rolls up the twelve source bars correctly.
func TestOneMinuteFromFiveSecondBars(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var completed trading.AggregatedBar
	var gotCompletion bool

	a := newAgg(t, func(symbol string, tf trading.Timeframe, b trading.AggregatedBar) {
		gotCompletion = true
		completed = b
	})

	prices := []float64{100, 101, 99, 102, 103, 98, 104, 105, 97, 106, 107, 108}
	for i, p := range prices {
		ts := start.Add(time.Duration(i*5) * time.Second)
		_, err := a.AddBar("BTC/USDT", bar(ts, p, p+1, p-1, p, 10))
		if err != nil {
			t.Fatalf("AddBar[%d]: %v", i, err)
		}
	}
	if gotCompletion {
		t.Fatalf("did not expect completion before minute boundary crossed")
	}

	// First bar of the next minute triggers finalization of the first.
	nextMinute := start.Add(60 * time.Second)
	completions, err := a.AddBar("BTC/USDT", bar(nextMinute, 110, 111, 109, 110, 10))
	if err != nil {
		t.Fatalf("AddBar boundary: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(completions))
	}
	if !gotCompletion {
		t.Fatalf("expected OnBarComplete callback to fire")
	}

	if !completed.Open.Equal(dec(100)) {
		t.Errorf("Open = %s, want 100", completed.Open)
	}
	if !completed.Close.Equal(dec(108)) {
		t.Errorf("Close = %s, want 108", completed.Close)
	}
	if !completed.High.Equal(dec(109)) {
		t.Errorf("High = %s, want 109 (max of all highs)", completed.High)
	}
	if !completed.Low.Equal(dec(96)) {
		t.Errorf("Low = %s, want 96 (min of all lows)", completed.Low)
	}
	if !completed.Volume.Equal(dec(120)) {
		t.Errorf("Volume = %s, want 120 (12 bars * 10)", completed.Volume)
	}
	if completed.SourceBarCount != 12 {
		t.Errorf("SourceBarCount = %d, want 12", completed.SourceBarCount)
	}
	if !completed.Complete {
		t.Errorf("expected Complete = true")
	}
}

func TestAddBarRejectsOutOfOrder(t *testing.T) {
	a := newAgg(t, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.AddBar("BTC/USDT", bar(start, 100, 101, 99, 100, 1)); err != nil {
		t.Fatalf("first AddBar: %v", err)
	}
	// Same or earlier timestamp must be rejected.
	if _, err := a.AddBar("BTC/USDT", bar(start, 100, 101, 99, 100, 1)); err == nil {
		t.Fatalf("expected error on duplicate timestamp")
	}
	earlier := start.Add(-5 * time.Second)
	if _, err := a.AddBar("BTC/USDT", bar(earlier, 100, 101, 99, 100, 1)); err == nil {
		t.Fatalf("expected error on out-of-order timestamp")
	}
}

func TestAddBarRejectsInvalidOHLC(t *testing.T) {
	a := newAgg(t, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bad := bar(start, 100, 95, 99, 100, 1) // high below open/close
	if _, err := a.AddBar("BTC/USDT", bad); err == nil {
		t.Fatalf("expected error for invalid OHLC bar")
	}
}

func TestCallbackPanicIsolatedFromState(t *testing.T) {
	a := newAgg(t, func(symbol string, tf trading.Timeframe, b trading.AggregatedBar) {
		panic("boom")
	})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		ts := start.Add(time.Duration(i*5) * time.Second)
		if _, err := a.AddBar("BTC/USDT", bar(ts, 100, 101, 99, 100, 1)); err != nil {
			t.Fatalf("AddBar[%d]: %v", i, err)
		}
	}
	next := start.Add(60 * time.Second)
	if _, err := a.AddBar("BTC/USDT", bar(next, 100, 101, 99, 100, 1)); err != nil {
		t.Fatalf("AddBar after panic-causing completion: %v", err)
	}
	// Aggregator must still be usable after a panicking callback.
	if _, ok := a.CurrentBar("BTC/USDT", trading.Timeframe1m); !ok {
		t.Fatalf("expected an in-flight bar to still exist after recovery")
	}
}

func TestATRInsufficientData(t *testing.T) {
	a := newAgg(t, nil)
	if _, ok := a.ATR("BTC/USDT", trading.Timeframe1m, 14); ok {
		t.Fatalf("expected ok=false with no completed bars")
	}
}

func TestATRComputesWilderAverage(t *testing.T) {
	a := newAgg(t, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Produce 3 completed 1m bars by feeding one source bar in each of four
	// consecutive minutes; each new minute finalizes the previous one.
	for m := 0; m < 4; m++ {
		minuteStart := start.Add(time.Duration(m) * time.Minute)
		price := 100.0 + float64(m)*2
		_, err := a.AddBar("BTC/USDT", bar(minuteStart, price, price+2, price-1, price+1, 1))
		if err != nil {
			t.Fatalf("AddBar: %v", err)
		}
	}
	val, ok := a.ATR("BTC/USDT", trading.Timeframe1m, 2)
	if !ok {
		t.Fatalf("expected ok=true with 3 completed bars and period=2")
	}
	if !val.IsPositive() {
		t.Fatalf("expected positive ATR, got %s", val)
	}
	// Both true ranges are 3 (e.g. 104-101 for the second bar), so their mean is 3.
	if !val.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("ATR = %s, want 3", val)
	}
}

func TestResetClearsSymbolState(t *testing.T) {
	a := newAgg(t, nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.AddBar("BTC/USDT", bar(start, 100, 101, 99, 100, 1)); err != nil {
		t.Fatalf("AddBar: %v", err)
	}
	a.Reset("BTC/USDT")
	if _, ok := a.CurrentBar("BTC/USDT", trading.Timeframe1m); ok {
		t.Fatalf("expected no in-flight bar after reset")
	}
	// Re-adding after reset should succeed, not be rejected as out-of-order.
	if _, err := a.AddBar("BTC/USDT", bar(start, 100, 101, 99, 100, 1)); err != nil {
		t.Fatalf("AddBar after reset: %v", err)
	}
}

func TestNewRejectsNonStrictlyLongerTarget(t *testing.T) {
	_, err := New(nil, Config{
		SourceTimeframe:  trading.Timeframe1m,
		TargetTimeframes: []trading.Timeframe{trading.Timeframe5s},
	}, nil)
	if err == nil {
		t.Fatalf("expected ConfigError for target timeframe shorter than source")
	}
}
