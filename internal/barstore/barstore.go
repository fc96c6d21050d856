// Package barstore is a JSON-file-backed implementation of the consumed
// BarStore contract, adapted from the module's historical OHLCV warehouse
// to the domain's AggregatedBar shape.
package barstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// SaveMode controls how a save merges with any existing stored bars.
type SaveMode int

const (
	Replace SaveMode = iota
	Append
	Merge
)

// Metadata describes the stored range for one symbol/timeframe pair.
type Metadata struct {
	Symbol    string           `json:"symbol"`
	Timeframe trading.Timeframe `json:"timeframe"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	BarCount  int              `json:"barCount"`
}

// FileStore persists AggregatedBar tables as one JSON file per symbol/
// timeframe pair, with an in-memory cache and a metadata sidecar file.
type FileStore struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]trading.AggregatedBar
	metadata map[string]*Metadata
}

// NewFileStore creates or opens a FileStore rooted at dataDir.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	fs := &FileStore{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]trading.AggregatedBar),
		metadata: make(map[string]*Metadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, tradeerr.JournalIOError("create bar store directory", err)
	}
	if err := fs.loadMetadata(); err != nil && logger != nil {
		logger.Warn("failed to load bar store metadata", zap.Error(err))
	}
	return fs, nil
}

func key(symbol string, tf trading.Timeframe) string {
	return symbol + "_" + string(tf)
}

func (fs *FileStore) filename(symbol string, tf trading.Timeframe) string {
	return filepath.Join(fs.dataDir, fmt.Sprintf("%s_%s.json", symbol, tf))
}

// Save writes bars for symbol/timeframe under the given mode.
func (fs *FileStore) Save(symbol string, tf trading.Timeframe, bars []trading.AggregatedBar, mode SaveMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	k := key(symbol, tf)
	final := bars

	switch mode {
	case Append:
		final = append(append([]trading.AggregatedBar{}, fs.cache[k]...), bars...)
	case Merge:
		final = mergeBars(fs.cache[k], bars)
	}

	sort.Slice(final, func(i, j int) bool { return final[i].BarStart.Before(final[j].BarStart) })

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return tradeerr.JournalIOError("marshal bars", err)
	}
	if err := os.WriteFile(fs.filename(symbol, tf), data, 0644); err != nil {
		return tradeerr.JournalIOError("write bar file", err)
	}

	fs.cache[k] = final
	if len(final) > 0 {
		fs.metadata[k] = &Metadata{
			Symbol:    symbol,
			Timeframe: tf,
			Start:     final[0].BarStart,
			End:       final[len(final)-1].BarStart,
			BarCount:  len(final),
		}
	}
	return fs.saveMetadata()
}

// mergeBars replaces any existing bar sharing a BarStart with the incoming
// one, keeping all bars sorted by caller.
func mergeBars(existing, incoming []trading.AggregatedBar) []trading.AggregatedBar {
	byStart := make(map[int64]trading.AggregatedBar, len(existing)+len(incoming))
	for _, b := range existing {
		byStart[b.BarStart.Unix()] = b
	}
	for _, b := range incoming {
		byStart[b.BarStart.Unix()] = b
	}
	out := make([]trading.AggregatedBar, 0, len(byStart))
	for _, b := range byStart {
		out = append(out, b)
	}
	return out
}

// Load returns bars for symbol/timeframe, optionally filtered to [start, end].
func (fs *FileStore) Load(symbol string, tf trading.Timeframe, start, end *time.Time) ([]trading.AggregatedBar, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	k := key(symbol, tf)
	bars, ok := fs.cache[k]
	if !ok {
		data, err := os.ReadFile(fs.filename(symbol, tf))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, tradeerr.JournalIOError("read bar file", err)
		}
		if err := json.Unmarshal(data, &bars); err != nil {
			return nil, tradeerr.JournalIOError("parse bar file", err)
		}
		fs.cache[k] = bars
	}

	if start == nil && end == nil {
		out := make([]trading.AggregatedBar, len(bars))
		copy(out, bars)
		return out, nil
	}

	var filtered []trading.AggregatedBar
	for _, b := range bars {
		if start != nil && b.BarStart.Before(*start) {
			continue
		}
		if end != nil && b.BarStart.After(*end) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered, nil
}

// GetMetadata returns the stored range for symbol/timeframe, if any.
func (fs *FileStore) GetMetadata(symbol string, tf trading.Timeframe) (Metadata, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	m, ok := fs.metadata[key(symbol, tf)]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// ListSymbols returns the symbols with stored data, optionally filtered to tf.
func (fs *FileStore) ListSymbols(tf *trading.Timeframe) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	seen := make(map[string]bool)
	for _, m := range fs.metadata {
		if tf != nil && m.Timeframe != *tf {
			continue
		}
		seen[m.Symbol] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ListTimeframes returns the timeframes with stored data, optionally filtered to symbol.
func (fs *FileStore) ListTimeframes(symbol string) []trading.Timeframe {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	seen := make(map[trading.Timeframe]bool)
	for _, m := range fs.metadata {
		if symbol != "" && m.Symbol != symbol {
			continue
		}
		seen[m.Timeframe] = true
	}
	out := make([]trading.Timeframe, 0, len(seen))
	for tf := range seen {
		out = append(out, tf)
	}
	return out
}

func (fs *FileStore) metadataFile() string {
	return filepath.Join(fs.dataDir, "metadata.json")
}

func (fs *FileStore) loadMetadata() error {
	data, err := os.ReadFile(fs.metadataFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	fs.metadata = metadata
	return nil
}

func (fs *FileStore) saveMetadata() error {
	data, err := json.MarshalIndent(fs.metadata, "", "  ")
	if err != nil {
		return tradeerr.JournalIOError("marshal bar store metadata", err)
	}
	return os.WriteFile(fs.metadataFile(), data, 0644)
}
