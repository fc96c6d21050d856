// Package main is the entry point for the trade-lifecycle engine: bar
// aggregation, position tracking, trailing stops, and trade journaling
// wired together behind a read-only HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"hash/fnv"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-desktop/trading-backend/internal/aggregator"
	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/barstore"
	"github.com/atlas-desktop/trading-backend/internal/brokersession"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/indicator"
	"github.com/atlas-desktop/trading-backend/internal/journal"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/positionbook"
	"github.com/atlas-desktop/trading-backend/internal/pricebus"
	"github.com/atlas-desktop/trading-backend/internal/trailing"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting trading backend",
		zap.String("source_timeframe", string(cfg.Aggregator.SourceTimeframe)),
		zap.Int("server_port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := journal.Open(logger, cfg.Journal.DBPath)
	if err != nil {
		logger.Fatal("failed to open journal", zap.Error(err))
	}
	defer j.Close()

	book := positionbook.New(logger, j)

	// bus and server are assigned once constructed below; the aggregator's
	// completion callback only fires once ingestion starts, well after that.
	var bus *pricebus.PriceBus
	var server *api.Server
	publishTimeframe := smallestTimeframe(cfg.Aggregator.TargetTimeframes)

	agg, err := aggregator.New(logger, aggregator.Config{
		SourceTimeframe:  cfg.Aggregator.SourceTimeframe,
		TargetTimeframes: cfg.Aggregator.TargetTimeframes,
	}, func(symbol string, tf trading.Timeframe, bar trading.AggregatedBar) {
		if tf != publishTimeframe || bus == nil {
			return
		}
		bus.Publish(symbol, bar.Close, bar.BarStart)
		if server != nil {
			server.BroadcastPrice(symbol, bar.Close.String(), bar.BarStart)
		}
	})
	if err != nil {
		logger.Fatal("failed to construct aggregator", zap.Error(err))
	}

	indicatorEngine := indicator.New(agg)
	controller := trailing.New(logger, book, j, indicatorEngine)
	bus = pricebus.New(logger, book, controller)

	barDataDir := "./data/bars"
	bars, err := barstore.NewFileStore(logger, barDataDir)
	if err != nil {
		logger.Fatal("failed to open bar store", zap.Error(err))
	}

	demoSymbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	startPrices := map[string]float64{"BTC/USDT": 42000, "ETH/USDT": 2200, "SOL/USDT": 95}

	broker := brokersession.NewSimulated(logger, 0)
	for _, symbol := range demoSymbols {
		broker.LoadFeed(symbol, demoSourceBars(symbol, startPrices[symbol], cfg.Aggregator.SourceTimeframe, 720))
	}
	if err := broker.Connect(ctx); err != nil {
		logger.Fatal("failed to connect broker session", zap.Error(err))
	}
	defer broker.Disconnect()

	for _, symbol := range demoSymbols {
		entryPrice := decimalFromFloat(startPrices[symbol])
		riskAmount := decimal.NewFromFloat(cfg.Risk.DefaultRiskAmount)
		if _, err := book.OpenPosition(ctx, symbol, trading.SideLong, decimal.NewFromInt(1), entryPrice,
			time.Now(), nil, nil, riskAmount, nil, "trend"); err != nil {
			logger.Warn("failed to open demo position", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		controller.Enable(symbol, trailingTypeFromConfig(cfg.Trailing.Type),
			decimal.NewFromFloat(cfg.Trailing.TrailingAmount),
			decimal.NewFromFloat(cfg.Trailing.ActivationProfitPct),
			decimal.NewFromFloat(cfg.Trailing.MinTrailPct).Div(decimal.NewFromInt(100)))
	}

	reg := metrics.New()
	startingEquity := decimal.NewFromFloat(cfg.Journal.StartingEquity)
	server = api.New(logger, cfg.Server, startingEquity, book, j, reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.TrailingTickSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				adjustments := controller.CheckAndUpdateAll(gctx)
				for _, adj := range adjustments {
					reg.TrailingAdjustmentsTotal.WithLabelValues(adj.Symbol).Inc()
				}
				if len(adjustments) > 0 {
					logger.Info("trailing sweep applied adjustments", zap.Int("count", len(adjustments)))
				}
				reg.PositionsOpen.Set(float64(len(book.ListOpen())))
			}
		}
	})

	for _, symbol := range demoSymbols {
		symbol := symbol
		g.Go(func() error {
			return ingest(gctx, logger, broker, agg, bars, reg, symbol)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
		case <-gctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("error during server shutdown", zap.Error(err))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exited with error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// ingest consumes symbol's broker subscription, feeding each bar into the
// aggregator and persisting newly completed bars to the bar store. Exits
// when ctx is canceled or the feed closes.
func ingest(ctx context.Context, logger *zap.Logger, broker *brokersession.Simulated, agg *aggregator.Aggregator, bars *barstore.FileStore, reg *metrics.Registry, symbol string) error {
	feed, err := broker.Subscribe(ctx, symbol)
	if err != nil {
		logger.Warn("no feed available for symbol, skipping ingestion", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-feed:
			if !ok {
				return nil
			}
			completions, err := agg.AddBar(symbol, bar)
			if err != nil {
				reg.AggregatorErrorsTotal.WithLabelValues(symbol, "add_bar").Inc()
				logger.Warn("failed to add source bar", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			for tf, completed := range completions {
				reg.BarsAggregatedTotal.WithLabelValues(symbol, string(tf)).Inc()
				if err := bars.Save(symbol, tf, []trading.AggregatedBar{completed}, barstore.Merge); err != nil {
					logger.Warn("failed to persist completed bar", zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
	}
}

// demoSourceBars synthesizes a deterministic-length random-walk bar sequence
// for the Simulated broker session, spaced by tf's duration.
func demoSourceBars(symbol string, startPrice float64, tf trading.Timeframe, count int) []trading.SourceBar {
	interval := time.Duration(tf.Seconds()) * time.Second
	start := time.Now().Add(-time.Duration(count) * interval)

	price := startPrice
	rng := rand.New(rand.NewSource(symbolSeed(symbol)))
	out := make([]trading.SourceBar, 0, count)
	for i := 0; i < count; i++ {
		open := price
		change := (rng.Float64() - 0.5) * 0.004 * price
		price += change
		close := price
		high := maxFloat(open, close) * (1 + rng.Float64()*0.001)
		low := minFloat(open, close) * (1 - rng.Float64()*0.001)
		ts := start.Add(time.Duration(i) * interval)

		out = append(out, trading.SourceBar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      decimalFromFloat(open),
			High:      decimalFromFloat(high),
			Low:       decimalFromFloat(low),
			Close:     decimalFromFloat(close),
			Volume:    decimalFromFloat(rng.Float64() * 1000),
			Complete:  true,
		})
	}
	return out
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// trailingTypeFromConfig maps the config's case-insensitive trailing type
// name onto the trading package's lowercase TrailingType constants.
func trailingTypeFromConfig(s string) trading.TrailingType {
	switch strings.ToLower(s) {
	case "atr":
		return trading.TrailingATR
	default:
		return trading.TrailingPercentage
	}
}

func smallestTimeframe(tfs []trading.Timeframe) trading.Timeframe {
	if len(tfs) == 0 {
		return trading.Timeframe1m
	}
	smallest := tfs[0]
	for _, tf := range tfs[1:] {
		if tf.Seconds() < smallest.Seconds() {
			smallest = tf
		}
	}
	return smallest
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
