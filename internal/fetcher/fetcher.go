package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// ErrNoData means neither the upstream nor the cache could supply a series.
// Callers skip the affected alarm for the current cycle.
var ErrNoData = errors.New("no market data available")

// Candle is one OHLCV sample. Missing prices are NaN.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series is an ordered, immutable set of candles from a single request.
type Series struct {
	Source   string
	Ticker   string
	Interval string
	Candles  []Candle
}

// Closes returns the close prices.
func (s Series) Closes() []float64 {
	return s.column(func(c Candle) float64 { return c.Close })
}

// Highs returns the high prices.
func (s Series) Highs() []float64 {
	return s.column(func(c Candle) float64 { return c.High })
}

// Lows returns the low prices.
func (s Series) Lows() []float64 {
	return s.column(func(c Candle) float64 { return c.Low })
}

// Times returns the candle timestamps.
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Time
	}
	return out
}

func (s Series) column(pick func(Candle) float64) []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = pick(c)
	}
	return out
}

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Sanitize drops candles without a timestamp or close and keeps the order.
func Sanitize(s Series) Series {
	kept := make([]Candle, 0, len(s.Candles))
	for _, c := range s.Candles {
		if c.Time.IsZero() || math.IsNaN(c.Close) {
			continue
		}
		kept = append(kept, c)
	}
	s.Candles = kept
	return s
}

// Query selects a series from a source.
type Query struct {
	Ticker   string
	Interval string
	Limit    int
}

func (q Query) cacheKey(source string) string {
	return source + "|" + q.Ticker + "|" + q.Interval + "|" + strconv.Itoa(q.Limit)
}

// Source describes one upstream market-data provider.
type Source interface {
	Name() string
	// Endpoints lists equivalent base URLs; requests rotate across them.
	Endpoints() []string
	NewRequest(ctx context.Context, endpoint string, q Query) (*http.Request, error)
	// Decode turns a non-429 response into a series. Any other non-200
	// status is a *StatusError; an error payload sent with HTTP 200 is a
	// *ProviderError.
	Decode(status int, body []byte, q Query) (Series, error)
}

// QuoteFetcher returns the latest price of an instrument.
type QuoteFetcher interface {
	Quote(ctx context.Context, inst alarm.Instrument) (decimal.Decimal, error)
}

// CandleFetcher returns recent candles of an instrument.
type CandleFetcher interface {
	Candles(ctx context.Context, inst alarm.Instrument, interval string, limit int) (Series, error)
}

// ProviderError is an error payload returned by the provider itself.
// Retrying cannot change the answer.
type ProviderError struct {
	Source  string
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s provider error: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s provider error %s: %s", e.Source, e.Code, e.Message)
}

// StatusError is a non-200 HTTP status. Message carries any error text the
// provider put in the body.
type StatusError struct {
	Source  string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s responded with HTTP %d", e.Source, e.Code)
	}
	return fmt.Sprintf("%s responded with HTTP %d: %s", e.Source, e.Code, e.Message)
}

// RateLimited reports whether the upstream asked us to slow down.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}
