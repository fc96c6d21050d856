// Package journal is the durable, indexed store of trade entry/exit rows.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// Journal is a single-writer SQLite-backed trade store. Reads and writes
// share one connection, so reads do not run concurrently with each other or
// with a write.
type Journal struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// SetMaxOpenConns(1) gives the single-writer serialization point §5 requires.
func Open(logger *zap.Logger, path string) (*Journal, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, tradeerr.JournalIOError("open database", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, tradeerr.JournalIOError("ping database", err)
	}

	j := &Journal{logger: logger, db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, tradeerr.JournalIOError("migrate database", err)
	}
	if logger != nil {
		logger.Info("journal opened", zap.String("path", path))
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	var version int
	_ = j.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := j.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS trades (
				id INTEGER PRIMARY KEY,
				symbol TEXT NOT NULL, side TEXT NOT NULL,
				entry_time TIMESTAMP NOT NULL, exit_time TIMESTAMP NULL,
				entry_price REAL NOT NULL, exit_price REAL NULL,
				quantity INTEGER NOT NULL,
				stop_price REAL NULL, target_price REAL NULL,
				actual_stop REAL NULL, actual_target REAL NULL,
				commission REAL DEFAULT 0,
				realized_pnl REAL NULL, pnl_pct REAL NULL,
				risk_amount REAL NOT NULL, risk_reward_ratio REAL NULL,
				mae REAL NULL, mfe REAL NULL,
				hold_time_minutes INTEGER NULL,
				exit_reason TEXT NULL,
				sabr20_score REAL NULL, regime TEXT NULL,
				notes TEXT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
			CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
			CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
			CREATE INDEX IF NOT EXISTS idx_trades_realized_pnl ON trades(realized_pnl);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		if j.logger != nil {
			j.logger.Info("applied journal migration v1")
		}
	}

	return nil
}

func sideStr(s trading.Side) string {
	if s == trading.SideShort {
		return "SELL"
	}
	return "BUY"
}

func sideFromStr(s string) trading.Side {
	if s == "SELL" {
		return trading.SideShort
	}
	return trading.SideLong
}

func nullableFloat(d *decimal.Decimal) sql.NullFloat64 {
	if d == nil {
		return sql.NullFloat64{}
	}
	f, _ := d.Float64()
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// RecordEntry assigns an integer id and writes a row with exit fields null.
func (j *Journal) RecordEntry(ctx context.Context, symbol string, side trading.Side, qty, entryPrice decimal.Decimal,
	entryTime time.Time, stopPrice, targetPrice *decimal.Decimal, riskAmount decimal.Decimal,
	sabr20Score *decimal.Decimal, regime string) (int64, error) {

	qtyF, _ := qty.Float64()
	entryF, _ := entryPrice.Float64()
	riskF, _ := riskAmount.Float64()

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (symbol, side, entry_time, entry_price, quantity, stop_price, target_price, risk_amount, sabr20_score, regime, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, symbol, sideStr(side), entryTime, entryF, qtyF, nullableFloat(stopPrice), nullableFloat(targetPrice), riskF, nullableFloat(sabr20Score), regime)
	if err != nil {
		return 0, tradeerr.JournalIOError("record entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, tradeerr.JournalIOError("read inserted id", err)
	}
	return id, nil
}

// RecordExit computes realized_pnl, pnl_pct, risk_reward_ratio, and
// hold_time_minutes deterministically from the entry row, exit price, and
// commission, then writes them. Rejects if the row is missing or already exited.
func (j *Journal) RecordExit(ctx context.Context, tradeID int64, exitTime time.Time, exitPrice decimal.Decimal,
	reason trading.ExitReason, commission decimal.Decimal, notes string) (trading.TradeRecord, error) {

	row := j.db.QueryRowContext(ctx, `SELECT symbol, side, entry_time, entry_price, quantity, risk_amount, exit_time FROM trades WHERE id = ?`, tradeID)

	var symbol, sideS string
	var entryTime time.Time
	var entryPriceF, qtyF, riskF float64
	var existingExit sql.NullTime

	if err := row.Scan(&symbol, &sideS, &entryTime, &entryPriceF, &qtyF, &riskF, &existingExit); err != nil {
		if err == sql.ErrNoRows {
			return trading.TradeRecord{}, tradeerr.UnknownTrade(tradeID)
		}
		return trading.TradeRecord{}, tradeerr.JournalIOError("read trade for exit", err)
	}
	if existingExit.Valid {
		return trading.TradeRecord{}, tradeerr.AlreadyExited(tradeID)
	}

	side := sideFromStr(sideS)
	entryPrice := decimal.NewFromFloat(entryPriceF)
	qty := decimal.NewFromFloat(qtyF)
	riskAmount := decimal.NewFromFloat(riskF)

	var realized decimal.Decimal
	if side == trading.SideShort {
		realized = entryPrice.Sub(exitPrice).Mul(qty).Sub(commission)
	} else {
		realized = exitPrice.Sub(entryPrice).Mul(qty).Sub(commission)
	}

	var pnlPct decimal.Decimal
	denom := entryPrice.Mul(qty)
	if !denom.IsZero() {
		pnlPct = realized.Div(denom).Mul(decimal.NewFromInt(100))
	}

	var rr decimal.Decimal
	if riskAmount.IsPositive() {
		rr = realized.Div(riskAmount)
	}

	holdMinutes := int64(exitTime.Sub(entryTime).Minutes())

	exitF, _ := exitPrice.Float64()
	realizedF, _ := realized.Float64()
	pnlPctF, _ := pnlPct.Float64()
	rrF, _ := rr.Float64()
	commF, _ := commission.Float64()

	_, err := j.db.ExecContext(ctx, `
		UPDATE trades SET
			exit_time = ?, exit_price = ?, exit_reason = ?, commission = ?,
			realized_pnl = ?, pnl_pct = ?, risk_reward_ratio = ?, hold_time_minutes = ?,
			actual_stop = stop_price, actual_target = target_price, notes = ?
		WHERE id = ?
	`, exitTime, exitF, string(reason), commF, realizedF, pnlPctF, rrF, holdMinutes, notes, tradeID)
	if err != nil {
		return trading.TradeRecord{}, tradeerr.JournalIOError("record exit", err)
	}

	return j.Get(ctx, tradeID)
}

// UpdateMAEMFE sets the mae/mfe columns for an open trade. No-op if closed.
func (j *Journal) UpdateMAEMFE(ctx context.Context, tradeID int64, mae, mfe decimal.Decimal) error {
	maeF, _ := mae.Float64()
	mfeF, _ := mfe.Float64()
	_, err := j.db.ExecContext(ctx, `UPDATE trades SET mae = ?, mfe = ? WHERE id = ? AND exit_time IS NULL`, maeF, mfeF, tradeID)
	if err != nil {
		return tradeerr.JournalIOError("update mae/mfe", err)
	}
	return nil
}

// UpdateStop rewrites the stop_price field. Closed trades are silently ignored.
func (j *Journal) UpdateStop(ctx context.Context, tradeID int64, newStop decimal.Decimal) error {
	f, _ := newStop.Float64()
	_, err := j.db.ExecContext(ctx, `UPDATE trades SET stop_price = ? WHERE id = ? AND exit_time IS NULL`, f, tradeID)
	if err != nil {
		return tradeerr.JournalIOError("update stop", err)
	}
	return nil
}

// AppendNote appends a timestamped line to the notes field.
func (j *Journal) AppendNote(ctx context.Context, tradeID int64, text string) error {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), text)
	_, err := j.db.ExecContext(ctx, `
		UPDATE trades SET notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || char(10) || ? END
		WHERE id = ?
	`, line, line, tradeID)
	if err != nil {
		return tradeerr.JournalIOError("append note", err)
	}
	return nil
}

// Get returns the trade with the given id.
func (j *Journal) Get(ctx context.Context, tradeID int64) (trading.TradeRecord, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return trading.TradeRecord{}, tradeerr.UnknownTrade(tradeID)
		}
		return trading.TradeRecord{}, tradeerr.JournalIOError("get trade", err)
	}
	return rec, nil
}

// OpenTrades returns all trades without an exit.
func (j *Journal) OpenTrades(ctx context.Context) ([]trading.TradeRecord, error) {
	return j.query(ctx, selectColumns+` WHERE exit_time IS NULL ORDER BY entry_time`)
}

// ClosedTrades returns closed trades, optionally filtered by time range and symbol.
func (j *Journal) ClosedTrades(ctx context.Context, start, end *time.Time, symbol string) ([]trading.TradeRecord, error) {
	q := selectColumns + ` WHERE exit_time IS NOT NULL`
	var args []interface{}
	if start != nil {
		q += ` AND exit_time >= ?`
		args = append(args, *start)
	}
	if end != nil {
		q += ` AND exit_time <= ?`
		args = append(args, *end)
	}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY exit_time`
	return j.query(ctx, q, args...)
}

// BySymbol returns all trades (open and closed) for symbol.
func (j *Journal) BySymbol(ctx context.Context, symbol string) ([]trading.TradeRecord, error) {
	return j.query(ctx, selectColumns+` WHERE symbol = ? ORDER BY entry_time`, symbol)
}

const selectColumns = `
	SELECT id, symbol, side, entry_time, exit_time, entry_price, exit_price, quantity,
		stop_price, target_price, actual_stop, actual_target, commission,
		realized_pnl, pnl_pct, risk_amount, risk_reward_ratio, mae, mfe,
		hold_time_minutes, exit_reason, sabr20_score, regime, notes
	FROM trades`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (trading.TradeRecord, error) {
	var rec trading.TradeRecord
	var sideS string
	var exitTime sql.NullTime
	var exitPrice, stopPrice, targetPrice, actualStop, actualTarget sql.NullFloat64
	var realizedPnl, pnlPct, riskReward, mae, mfe, sabr20 sql.NullFloat64
	var holdMinutes sql.NullInt64
	var exitReason, regime, notes sql.NullString

	err := row.Scan(&rec.ID, &rec.Symbol, &sideS, &rec.EntryTime, &exitTime, &rec.EntryPrice, &exitPrice, &rec.Quantity,
		&stopPrice, &targetPrice, &actualStop, &actualTarget, &rec.Commission,
		&realizedPnl, &pnlPct, &rec.RiskAmount, &riskReward, &mae, &mfe,
		&holdMinutes, &exitReason, &sabr20, &regime, &notes)
	if err != nil {
		return trading.TradeRecord{}, err
	}

	rec.Side = sideFromStr(sideS)
	if exitTime.Valid {
		t := exitTime.Time
		rec.ExitTime = &t
	}
	assignFloat(&rec.ExitPrice, exitPrice)
	assignFloat(&rec.StopPrice, stopPrice)
	assignFloat(&rec.TargetPrice, targetPrice)
	assignFloat(&rec.ActualStop, actualStop)
	assignFloat(&rec.ActualTarget, actualTarget)
	assignFloat(&rec.RealizedPnL, realizedPnl)
	assignFloat(&rec.PnLPct, pnlPct)
	assignFloat(&rec.RiskRewardRatio, riskReward)
	assignFloat(&rec.MAE, mae)
	assignFloat(&rec.MFE, mfe)
	assignFloat(&rec.SABR20Score, sabr20)
	if holdMinutes.Valid {
		v := holdMinutes.Int64
		rec.HoldTimeMinutes = &v
	}
	if exitReason.Valid {
		rec.ExitReason = trading.ExitReason(exitReason.String)
	}
	rec.Regime = regime.String
	rec.Notes = notes.String
	return rec, nil
}

func assignFloat(dst **decimal.Decimal, v sql.NullFloat64) {
	if !v.Valid {
		return
	}
	d := decimal.NewFromFloat(v.Float64)
	*dst = &d
}

func (j *Journal) query(ctx context.Context, q string, args ...interface{}) ([]trading.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, tradeerr.JournalIOError("query trades", err)
	}
	defer rows.Close()

	var out []trading.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, tradeerr.JournalIOError("scan trade row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, tradeerr.JournalIOError("iterate trade rows", err)
	}
	return out, nil
}
