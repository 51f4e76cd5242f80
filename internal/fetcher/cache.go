package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// Entry is the last good series for a query together with its fetch time.
type Entry struct {
	FetchedAt time.Time
	Series    Series
}

// Cache stores entries by query key. Entries are only ever overwritten.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
}

// NopCache never holds anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (NopCache) Put(context.Context, string, Entry) error         { return nil }

// DiskCache keeps one JSON file per key and replaces it atomically.
type DiskCache struct {
	dir string
}

// NewDiskCache creates dir when missing.
func NewDiskCache(dir string) (*DiskCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get reads the entry for key.
func (c *DiskCache) Get(_ context.Context, key string) (Entry, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Put writes to a temp file in the same directory and renames it over the
// previous entry so readers never observe a partial file.
func (c *DiskCache) Put(_ context.Context, key string, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}

type storedCandle struct {
	Time   int64    `json:"t"`
	Open   *float64 `json:"o"`
	High   *float64 `json:"h"`
	Low    *float64 `json:"l"`
	Close  *float64 `json:"c"`
	Volume *float64 `json:"v"`
}

type storedEntry struct {
	FetchedAt time.Time      `json:"fetched_at"`
	Source    string         `json:"source"`
	Ticker    string         `json:"ticker"`
	Interval  string         `json:"interval"`
	Candles   []storedCandle `json:"candles"`
}

func encodeEntry(e Entry) ([]byte, error) {
	stored := storedEntry{
		FetchedAt: e.FetchedAt.UTC(),
		Source:    e.Series.Source,
		Ticker:    e.Series.Ticker,
		Interval:  e.Series.Interval,
		Candles:   make([]storedCandle, len(e.Series.Candles)),
	}
	for i, c := range e.Series.Candles {
		stored.Candles[i] = storedCandle{
			Time:   c.Time.UnixMilli(),
			Open:   finite(c.Open),
			High:   finite(c.High),
			Low:    finite(c.Low),
			Close:  finite(c.Close),
			Volume: finite(c.Volume),
		}
	}
	data, err := sonic.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (Entry, error) {
	var stored storedEntry
	if err := sonic.Unmarshal(data, &stored); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	series := Series{
		Source:   stored.Source,
		Ticker:   stored.Ticker,
		Interval: stored.Interval,
		Candles:  make([]Candle, len(stored.Candles)),
	}
	for i, c := range stored.Candles {
		series.Candles[i] = Candle{
			Time:   time.UnixMilli(c.Time).UTC(),
			Open:   orNaN(c.Open),
			High:   orNaN(c.High),
			Low:    orNaN(c.Low),
			Close:  orNaN(c.Close),
			Volume: orNaN(c.Volume),
		}
	}
	return Entry{FetchedAt: stored.FetchedAt, Series: series}, nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

var (
	_ Cache = (*DiskCache)(nil)
	_ Cache = NopCache{}
)
