// Package brokersession implements the consumed BrokerSession contract: the
// narrow connectivity/fetch/subscription surface the core depends on without
// owning. Simulated is an in-memory stand-in used for tests and local runs.
package brokersession

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// BrokerSession is the contract the core depends on for live connectivity.
type BrokerSession interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsHealthy() bool
	FetchHistoricalBars(ctx context.Context, symbol string, barSize trading.Timeframe, duration time.Duration) ([]trading.SourceBar, error)
	Subscribe(ctx context.Context, symbol string) (<-chan trading.SourceBar, error)
}

// Simulated feeds pre-loaded SourceBar slices on a channel per symbol,
// honoring context cancellation. It never dials a network connection; it
// exists to exercise the BrokerSession shape in tests and local demo runs.
type Simulated struct {
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	feeds     map[string][]trading.SourceBar
	rateDelay time.Duration
}

// NewSimulated constructs a Simulated broker session. rateDelay is the
// minimum pause between successive bars delivered on a subscription,
// modeling the rate-limit enforcement the real contract requires.
func NewSimulated(logger *zap.Logger, rateDelay time.Duration) *Simulated {
	return &Simulated{
		logger:    logger,
		feeds:     make(map[string][]trading.SourceBar),
		rateDelay: rateDelay,
	}
}

// LoadFeed installs the bar sequence Subscribe will play back for symbol.
func (s *Simulated) LoadFeed(symbol string, bars []trading.SourceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[symbol] = bars
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Simulated) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Simulated) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// FetchHistoricalBars returns the loaded feed for symbol. It returns an
// InvalidSymbol broker error if none was loaded, and a Disconnected broker
// error if the session is not connected.
func (s *Simulated) FetchHistoricalBars(ctx context.Context, symbol string, barSize trading.Timeframe, duration time.Duration) ([]trading.SourceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, &tradeerr.BrokerError{Kind: tradeerr.BrokerDisconnected, Symbol: symbol, Message: "not connected"}
	}
	bars, ok := s.feeds[symbol]
	if !ok {
		return nil, &tradeerr.BrokerError{Kind: tradeerr.BrokerInvalidSymbol, Symbol: symbol, Message: "no feed loaded"}
	}
	return bars, nil
}

// Subscribe plays symbol's loaded feed onto a channel, pacing deliveries by
// rateDelay and stopping when ctx is canceled or the feed is exhausted.
func (s *Simulated) Subscribe(ctx context.Context, symbol string) (<-chan trading.SourceBar, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, &tradeerr.BrokerError{Kind: tradeerr.BrokerDisconnected, Symbol: symbol, Message: "not connected"}
	}
	bars, ok := s.feeds[symbol]
	s.mu.Unlock()
	if !ok {
		return nil, &tradeerr.BrokerError{Kind: tradeerr.BrokerInvalidSymbol, Symbol: symbol, Message: "no feed loaded"}
	}

	out := make(chan trading.SourceBar)
	go func() {
		defer close(out)
		delay := s.rateDelay
		if delay <= 0 {
			delay = time.Nanosecond
		}
		ticker := time.NewTicker(delay)
		defer ticker.Stop()

		for _, bar := range bars {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- bar:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
