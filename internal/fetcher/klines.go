package fetcher

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultKlineEndpoints are the interchangeable spot API hosts.
var DefaultKlineEndpoints = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
}

// KlineSource reads spot candles from the exchange klines endpoint.
type KlineSource struct {
	endpoints []string
}

// NewKlineSource uses the default hosts when none are given.
func NewKlineSource(endpoints []string) *KlineSource {
	if len(endpoints) == 0 {
		endpoints = DefaultKlineEndpoints
	}
	trimmed := make([]string, len(endpoints))
	for i, e := range endpoints {
		trimmed[i] = strings.TrimRight(e, "/")
	}
	return &KlineSource{endpoints: trimmed}
}

func (s *KlineSource) Name() string        { return "klines" }
func (s *KlineSource) Endpoints() []string { return s.endpoints }

// NewRequest builds GET /api/v3/klines.
func (s *KlineSource) NewRequest(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
	params := url.Values{}
	params.Set("symbol", q.Ticker)
	params.Set("interval", q.Interval)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/v3/klines?"+params.Encode(), nil)
}

type klineError struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

// Decode parses the array-of-arrays kline payload.
func (s *KlineSource) Decode(status int, body []byte, q Query) (Series, error) {
	var apiErr klineError
	hasErr := sonic.Unmarshal(body, &apiErr) == nil && apiErr.Code != nil
	if status != http.StatusOK {
		serr := &StatusError{Source: s.Name(), Code: status}
		if hasErr {
			serr.Message = apiErr.Msg
		}
		return Series{}, serr
	}
	if hasErr {
		return Series{}, &ProviderError{Source: s.Name(), Code: strconv.Itoa(*apiErr.Code), Message: apiErr.Msg}
	}

	var rows [][]any
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return Series{}, fmt.Errorf("decode klines: %w", err)
	}

	series := Series{Source: s.Name(), Ticker: q.Ticker, Interval: q.Interval, Candles: make([]Candle, 0, len(rows))}
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		series.Candles = append(series.Candles, Candle{
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   numeric(row[1]),
			High:   numeric(row[2]),
			Low:    numeric(row[3]),
			Close:  numeric(row[4]),
			Volume: numeric(row[5]),
		})
	}
	return series, nil
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case float64:
		return n
	default:
		return math.NaN()
	}
}

var _ Source = (*KlineSource)(nil)
