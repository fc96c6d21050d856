package positionbook

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

type fakeJournal struct {
	nextID      int64
	entries     map[int64]bool
	exits       map[int64]trading.TradeRecord
	maeUpdates  map[int64][2]decimal.Decimal
	exitCommits map[int64]bool
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		entries:     make(map[int64]bool),
		exits:       make(map[int64]trading.TradeRecord),
		maeUpdates:  make(map[int64][2]decimal.Decimal),
		exitCommits: make(map[int64]bool),
	}
}

func (f *fakeJournal) RecordEntry(ctx context.Context, symbol string, side trading.Side, qty, entryPrice decimal.Decimal,
	entryTime time.Time, stopPrice, targetPrice *decimal.Decimal, riskAmount decimal.Decimal,
	sabr20Score *decimal.Decimal, regime string) (int64, error) {
	f.nextID++
	f.entries[f.nextID] = true
	return f.nextID, nil
}

func (f *fakeJournal) RecordExit(ctx context.Context, tradeID int64, exitTime time.Time, exitPrice decimal.Decimal,
	reason trading.ExitReason, commission decimal.Decimal, notes string) (trading.TradeRecord, error) {
	if !f.entries[tradeID] {
		return trading.TradeRecord{}, tradeerr.UnknownTrade(tradeID)
	}
	if f.exitCommits[tradeID] {
		return trading.TradeRecord{}, tradeerr.AlreadyExited(tradeID)
	}
	f.exitCommits[tradeID] = true
	pnl := exitPrice.Sub(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(1))
	rec := trading.TradeRecord{ID: tradeID, ExitTime: &exitTime, RealizedPnL: &pnl}
	f.exits[tradeID] = rec
	return rec, nil
}

func (f *fakeJournal) UpdateMAEMFE(ctx context.Context, tradeID int64, mae, mfe decimal.Decimal) error {
	f.maeUpdates[tradeID] = [2]decimal.Decimal{mae, mfe}
	return nil
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestOpenPositionThenDuplicateRejected(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)

	id, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}

	if _, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(101),
		time.Now(), nil, nil, d(10), nil, "trend"); err == nil {
		t.Fatalf("expected DuplicatePosition error for second open on same symbol")
	}
}

func TestOpenPositionRejectsInvalidInput(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)

	if _, err := book.OpenPosition(context.Background(), "X", "sideways", d(1), d(100), time.Now(), nil, nil, d(1), nil, ""); err == nil {
		t.Fatalf("expected error for invalid side")
	}
	if _, err := book.OpenPosition(context.Background(), "X", trading.SideLong, d(0), d(100), time.Now(), nil, nil, d(1), nil, ""); err == nil {
		t.Fatalf("expected error for non-positive quantity")
	}
	if _, err := book.OpenPosition(context.Background(), "X", trading.SideLong, d(1), d(0), time.Now(), nil, nil, d(1), nil, ""); err == nil {
		t.Fatalf("expected error for non-positive entry price")
	}
}

func TestClosePositionRemovesFromOpenSet(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)

	_, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	rec, err := book.ClosePosition(context.Background(), "BTC/USDT", d(110), time.Now(), trading.ExitReason("manual"), d(0), "")
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if rec.RealizedPnL == nil || !rec.RealizedPnL.Equal(d(10)) {
		t.Fatalf("RealizedPnL = %v, want 10", rec.RealizedPnL)
	}

	if _, ok := book.Position("BTC/USDT"); ok {
		t.Fatalf("expected position removed from open set after close")
	}

	if _, err := book.ClosePosition(context.Background(), "BTC/USDT", d(110), time.Now(), trading.ExitReason("manual"), d(0), ""); err == nil {
		t.Fatalf("expected UnknownPosition error closing an already-closed symbol")
	}
}

func TestUpdatePriceTracksMAEMFE(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)

	tradeID, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	base := time.Now()
	book.UpdatePrice(context.Background(), "BTC/USDT", d(95), base)            // -5 pnl
	book.UpdatePrice(context.Background(), "BTC/USDT", d(110), base.Add(time.Second)) // +10 pnl

	pos, ok := book.Position("BTC/USDT")
	if !ok {
		t.Fatalf("expected open position")
	}
	if !pos.MAE.Equal(d(-5)) {
		t.Fatalf("MAE = %s, want -5", pos.MAE)
	}
	if !pos.MFE.Equal(d(10)) {
		t.Fatalf("MFE = %s, want 10", pos.MFE)
	}

	updates, ok := j.maeUpdates[tradeID]
	if !ok {
		t.Fatalf("expected journal to receive MAE/MFE update")
	}
	if !updates[0].Equal(d(-5)) || !updates[1].Equal(d(10)) {
		t.Fatalf("journal updates = %v, want [-5 10]", updates)
	}
}

func TestUpdatePriceDropsStaleTicks(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)
	_, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	now := time.Now()
	book.UpdatePrice(context.Background(), "BTC/USDT", d(110), now)
	book.UpdatePrice(context.Background(), "BTC/USDT", d(200), now.Add(-time.Second)) // stale, must be dropped

	pos, _ := book.Position("BTC/USDT")
	if !pos.CurrentPrice.Equal(d(110)) {
		t.Fatalf("CurrentPrice = %s, want 110 (stale tick should be dropped)", pos.CurrentPrice)
	}
}

func TestModifyStopMonotonicityLong(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)
	_, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if !book.ModifyStop("BTC/USDT", d(95)) {
		t.Fatalf("expected first stop to be accepted")
	}
	if !book.ModifyStop("BTC/USDT", d(97)) {
		t.Fatalf("expected improving stop to be accepted")
	}
	if book.ModifyStop("BTC/USDT", d(96)) {
		t.Fatalf("expected worse stop to be rejected for a long position")
	}
	if book.ModifyStop("BTC/USDT", d(97)) {
		t.Fatalf("expected equal stop to be rejected (must be strictly better)")
	}

	pos, _ := book.Position("BTC/USDT")
	if !pos.StopPrice.Equal(d(97)) {
		t.Fatalf("StopPrice = %s, want 97", pos.StopPrice)
	}
}

func TestModifyStopMonotonicityShort(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)
	_, err := book.OpenPosition(context.Background(), "ETH/USDT", trading.SideShort, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if !book.ModifyStop("ETH/USDT", d(105)) {
		t.Fatalf("expected first short stop to be accepted")
	}
	if !book.ModifyStop("ETH/USDT", d(103)) {
		t.Fatalf("expected improving (lower) short stop to be accepted")
	}
	if book.ModifyStop("ETH/USDT", d(104)) {
		t.Fatalf("expected worse (higher) short stop to be rejected")
	}
}

func TestModifyStopUnknownSymbol(t *testing.T) {
	book := New(nil, newFakeJournal())
	if book.ModifyStop("NOPE", d(1)) {
		t.Fatalf("expected false modifying stop on an unknown symbol")
	}
}

func TestPortfolioRollupAggregatesOpenAndClosed(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)

	_, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition BTC: %v", err)
	}
	book.UpdatePrice(context.Background(), "BTC/USDT", d(120), time.Now())

	_, err = book.OpenPosition(context.Background(), "ETH/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition ETH: %v", err)
	}
	if _, err := book.ClosePosition(context.Background(), "ETH/USDT", d(90), time.Now(), trading.ExitReason("manual"), d(0), ""); err != nil {
		t.Fatalf("ClosePosition ETH: %v", err)
	}

	stats := book.PortfolioRollup()
	if stats.PositionsCount != 1 {
		t.Fatalf("PositionsCount = %d, want 1", stats.PositionsCount)
	}
	if stats.ClosedTradesCount != 1 {
		t.Fatalf("ClosedTradesCount = %d, want 1", stats.ClosedTradesCount)
	}
	if !stats.UnrealizedPnL.Equal(d(20)) {
		t.Fatalf("UnrealizedPnL = %s, want 20", stats.UnrealizedPnL)
	}
	if !stats.RealizedPnL.Equal(d(-10)) {
		t.Fatalf("RealizedPnL = %s, want -10", stats.RealizedPnL)
	}
	if !stats.TotalPnL.Equal(d(10)) {
		t.Fatalf("TotalPnL = %s, want 10", stats.TotalPnL)
	}
	if stats.LosingTrades != 1 {
		t.Fatalf("LosingTrades = %d, want 1", stats.LosingTrades)
	}
}

func TestListOpenReturnsSnapshot(t *testing.T) {
	j := newFakeJournal()
	book := New(nil, j)
	_, err := book.OpenPosition(context.Background(), "BTC/USDT", trading.SideLong, d(1), d(100),
		time.Now(), nil, nil, d(10), nil, "trend")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	open := book.ListOpen()
	if len(open) != 1 {
		t.Fatalf("ListOpen() len = %d, want 1", len(open))
	}
	if open[0].Symbol != "BTC/USDT" {
		t.Fatalf("ListOpen()[0].Symbol = %q, want BTC/USDT", open[0].Symbol)
	}
}
