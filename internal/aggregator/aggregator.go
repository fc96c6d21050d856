// Package aggregator reconstructs higher timeframe OHLCV bars from a stream
// of fine-grained source bars, one symbol at a time.
package aggregator

import (
	"sort"
	"sync"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
	"go.uber.org/zap"
)

// OnBarComplete is invoked after a target-timeframe bar finalizes. Invocation
// happens after the internal state mutation commits, so a panicking or
// error-returning callback cannot corrupt aggregation state. Failures are
// logged and never propagated.
type OnBarComplete func(symbol string, tf trading.Timeframe, bar trading.AggregatedBar)

// Config declares the source timeframe and the set of target timeframes the
// Aggregator reconstructs from it. Every target must be strictly longer than
// the source.
type Config struct {
	SourceTimeframe  trading.Timeframe
	TargetTimeframes []trading.Timeframe
}

type symbolState struct {
	mu         sync.Mutex
	haveLastTS bool
	lastTS     int64 // last seen source bar unix ts for this symbol, for ordering
	inflight   map[trading.Timeframe]*trading.AggregatedBar
	completed  map[trading.Timeframe][]trading.AggregatedBar
}

// Aggregator consumes SourceBars per symbol and emits completed
// AggregatedBars at each configured target timeframe.
type Aggregator struct {
	logger  *zap.Logger
	source  trading.Timeframe
	targets []trading.Timeframe
	onBar   OnBarComplete

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// New validates cfg and returns an Aggregator. Returns a ConfigError if any
// target timeframe is not strictly longer than the source.
func New(logger *zap.Logger, cfg Config, onBar OnBarComplete) (*Aggregator, error) {
	for _, t := range cfg.TargetTimeframes {
		if !t.Valid() || t.Seconds() <= cfg.SourceTimeframe.Seconds() {
			return nil, tradeerr.ConfigError("target timeframe must be strictly longer than source timeframe")
		}
	}
	return &Aggregator{
		logger:  logger,
		source:  cfg.SourceTimeframe,
		targets: cfg.TargetTimeframes,
		onBar:   onBar,
		symbols: make(map[string]*symbolState),
	}, nil
}

func (a *Aggregator) state(symbol string) *symbolState {
	a.mu.RLock()
	s, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.symbols[symbol]; ok {
		return s
	}
	s = &symbolState{
		inflight:  make(map[trading.Timeframe]*trading.AggregatedBar),
		completed: make(map[trading.Timeframe][]trading.AggregatedBar),
	}
	a.symbols[symbol] = s
	return s
}

// AddBar consumes one source bar for symbol and returns the set of target
// timeframes that completed as a result, keyed by timeframe.
func (a *Aggregator) AddBar(symbol string, bar trading.SourceBar) (map[trading.Timeframe]trading.AggregatedBar, error) {
	if !bar.Validate() {
		return nil, tradeerr.InvalidBar(symbol, "OHLC invariants violated or negative volume")
	}

	s := a.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := bar.Timestamp.Unix()
	if s.haveLastTS && ts <= s.lastTS {
		return nil, tradeerr.OrderingError(symbol, "source bar arrived out of order or duplicated")
	}
	s.lastTS = ts
	s.haveLastTS = true

	completions := make(map[trading.Timeframe]trading.AggregatedBar)

	for _, tf := range a.targets {
		boundary := tf.BarStart(bar.Timestamp)
		cur := s.inflight[tf]

		if cur == nil {
			s.inflight[tf] = &trading.AggregatedBar{
				Symbol:         symbol,
				Timeframe:      tf,
				BarStart:       boundary,
				Open:           bar.Open,
				High:           bar.High,
				Low:            bar.Low,
				Close:          bar.Close,
				Volume:         bar.Volume,
				SourceBarCount: 1,
			}
			continue
		}

		if cur.BarStart.Equal(boundary) {
			if bar.High.GreaterThan(cur.High) {
				cur.High = bar.High
			}
			if bar.Low.LessThan(cur.Low) {
				cur.Low = bar.Low
			}
			cur.Close = bar.Close
			cur.Volume = cur.Volume.Add(bar.Volume)
			cur.SourceBarCount++
			continue
		}

		// New target bar begins: finalize the in-progress one.
		finished := *cur
		finished.Complete = true
		s.completed[tf] = append(s.completed[tf], finished)
		completions[tf] = finished

		s.inflight[tf] = &trading.AggregatedBar{
			Symbol:         symbol,
			Timeframe:      tf,
			BarStart:       boundary,
			Open:           bar.Open,
			High:           bar.High,
			Low:            bar.Low,
			Close:          bar.Close,
			Volume:         bar.Volume,
			SourceBarCount: 1,
		}
	}

	for tf, done := range completions {
		if a.onBar == nil {
			continue
		}
		a.invokeCallback(symbol, tf, done)
	}

	return completions, nil
}

func (a *Aggregator) invokeCallback(symbol string, tf trading.Timeframe, bar trading.AggregatedBar) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Warn("aggregator completion callback panicked",
				zap.String("symbol", symbol), zap.String("timeframe", string(tf)), zap.Any("recover", r))
		}
	}()
	a.onBar(symbol, tf, bar)
}

// CurrentBar returns the in-progress, non-complete bar for symbol/timeframe, if any.
func (a *Aggregator) CurrentBar(symbol string, tf trading.Timeframe) (trading.AggregatedBar, bool) {
	s := a.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.inflight[tf]
	if !ok {
		return trading.AggregatedBar{}, false
	}
	return *cur, true
}

// CompletedBars returns a copy of the last limit completed bars for symbol/timeframe.
func (a *Aggregator) CompletedBars(symbol string, tf trading.Timeframe, limit int) []trading.AggregatedBar {
	s := a.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.completed[tf]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]trading.AggregatedBar, limit)
	copy(out, all[len(all)-limit:])
	return out
}

// ToTable returns a tabular snapshot of completed bars (and optionally the
// open bar) keyed by bar start, sorted ascending.
func (a *Aggregator) ToTable(symbol string, tf trading.Timeframe, includeOpen bool) []trading.AggregatedBar {
	s := a.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]trading.AggregatedBar, len(s.completed[tf]))
	copy(rows, s.completed[tf])
	if includeOpen {
		if cur, ok := s.inflight[tf]; ok {
			rows = append(rows, *cur)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].BarStart.Before(rows[j].BarStart) })
	return rows
}

// Reset clears in-progress and completed state for symbol. If symbol is
// empty, all symbols are cleared.
func (a *Aggregator) Reset(symbol string) {
	if symbol == "" {
		a.mu.Lock()
		a.symbols = make(map[string]*symbolState)
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	delete(a.symbols, symbol)
	a.mu.Unlock()
}
