package trading

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnrealizedPnLLong(t *testing.T) {
	p := Position{
		Side:         SideLong,
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(110),
	}
	got := p.UnrealizedPnL()
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("UnrealizedPnL = %s, want 100", got)
	}
}

func TestUnrealizedPnLShort(t *testing.T) {
	p := Position{
		Side:         SideShort,
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(90),
	}
	got := p.UnrealizedPnL()
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("UnrealizedPnL = %s, want 100", got)
	}
}

func TestUnrealizedPnLZeroWhenNoCurrentPrice(t *testing.T) {
	p := Position{Side: SideLong, Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100)}
	if !p.UnrealizedPnL().IsZero() {
		t.Fatalf("expected zero pnl with unset current price, got %s", p.UnrealizedPnL())
	}
}

func TestUnrealizedPnLPct(t *testing.T) {
	p := Position{
		Side:         SideLong,
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(110),
	}
	got := p.UnrealizedPnLPct()
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("UnrealizedPnLPct = %s, want 10", got)
	}
}

func TestCurrentRiskLong(t *testing.T) {
	stop := decimal.NewFromInt(95)
	p := Position{
		Side:         SideLong,
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(105),
		StopPrice:    &stop,
	}
	got := p.CurrentRisk()
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("CurrentRisk = %s, want 100", got)
	}
}

func TestCurrentRiskNoStop(t *testing.T) {
	p := Position{Side: SideLong, Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100)}
	if !p.CurrentRisk().IsZero() {
		t.Fatalf("expected zero risk with no stop, got %s", p.CurrentRisk())
	}
}

func TestBarStartBucketsWithinInterval(t *testing.T) {
	tf := Timeframe1m
	a := mustParse(t, "2026-01-01T00:00:05Z")
	b := mustParse(t, "2026-01-01T00:00:59Z")
	if tf.BarStart(a) != tf.BarStart(b) {
		t.Fatalf("expected %v and %v to share a bar", a, b)
	}
	c := mustParse(t, "2026-01-01T00:01:00Z")
	if tf.BarStart(a) == tf.BarStart(c) {
		t.Fatalf("expected %v and %v to be in different bars", a, c)
	}
}

func TestSourceBarValidate(t *testing.T) {
	cases := []struct {
		name string
		bar  SourceBar
		want bool
	}{
		{"valid", SourceBar{Open: d(10), High: d(12), Low: d(9), Close: d(11), Volume: d(5)}, true},
		{"low above open/close", SourceBar{Open: d(10), High: d(12), Low: d(10.5), Close: d(11), Volume: d(5)}, false},
		{"high below open/close", SourceBar{Open: d(10), High: d(10.5), Low: d(9), Close: d(11), Volume: d(5)}, false},
		{"negative volume", SourceBar{Open: d(10), High: d(12), Low: d(9), Close: d(11), Volume: d(-1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.bar.Validate(); got != tc.want {
				t.Fatalf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
