package fetcher

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultChartEndpoints are the interchangeable chart API hosts.
var DefaultChartEndpoints = []string{
	"https://query1.finance.yahoo.com",
	"https://query2.finance.yahoo.com",
}

// ChartSource reads candles for generic tickers and futures proxies.
// Intervals the provider lacks are built by merging finer candles.
type ChartSource struct {
	endpoints []string
}

// NewChartSource uses the default hosts when none are given.
func NewChartSource(endpoints []string) *ChartSource {
	if len(endpoints) == 0 {
		endpoints = DefaultChartEndpoints
	}
	trimmed := make([]string, len(endpoints))
	for i, e := range endpoints {
		trimmed[i] = strings.TrimRight(e, "/")
	}
	return &ChartSource{endpoints: trimmed}
}

func (s *ChartSource) Name() string        { return "chart" }
func (s *ChartSource) Endpoints() []string { return s.endpoints }

type chartInterval struct {
	native string
	step   time.Duration
	merge  int
	// maxSpan is how far back the provider serves this granularity.
	maxSpan time.Duration
}

const day = 24 * time.Hour

var chartIntervals = map[string]chartInterval{
	"1m":  {native: "1m", step: time.Minute, merge: 1, maxSpan: 7 * day},
	"3m":  {native: "1m", step: time.Minute, merge: 3, maxSpan: 7 * day},
	"5m":  {native: "5m", step: 5 * time.Minute, merge: 1, maxSpan: 60 * day},
	"15m": {native: "15m", step: 15 * time.Minute, merge: 1, maxSpan: 60 * day},
	"30m": {native: "30m", step: 30 * time.Minute, merge: 1, maxSpan: 60 * day},
	"1h":  {native: "60m", step: time.Hour, merge: 1, maxSpan: 730 * day},
	"2h":  {native: "60m", step: time.Hour, merge: 2, maxSpan: 730 * day},
	"4h":  {native: "60m", step: time.Hour, merge: 4, maxSpan: 730 * day},
	"6h":  {native: "60m", step: time.Hour, merge: 6, maxSpan: 730 * day},
	"8h":  {native: "60m", step: time.Hour, merge: 8, maxSpan: 730 * day},
	"12h": {native: "60m", step: time.Hour, merge: 12, maxSpan: 730 * day},
	"1d":  {native: "1d", step: day, merge: 1, maxSpan: 0},
}

var chartRanges = []struct {
	name string
	span time.Duration
}{
	{"1d", day}, {"5d", 5 * day}, {"1mo", 30 * day}, {"3mo", 90 * day},
	{"6mo", 180 * day}, {"1y", 365 * day}, {"2y", 730 * day}, {"5y", 5 * 365 * day},
	{"10y", 10 * 365 * day}, {"max", 0},
}

// chartRange picks the smallest range covering limit candles. Markets that
// close overnight need more calendar time than candle time, hence the slack.
func chartRange(ci chartInterval, limit int) string {
	if limit <= 0 {
		limit = 100
	}
	need := time.Duration(limit*ci.merge) * ci.step * 3
	for _, r := range chartRanges {
		if ci.maxSpan > 0 && r.span > ci.maxSpan {
			break
		}
		if r.span == 0 || r.span >= need {
			return r.name
		}
	}
	for i := len(chartRanges) - 1; i >= 0; i-- {
		if ci.maxSpan == 0 || (chartRanges[i].span > 0 && chartRanges[i].span <= ci.maxSpan) {
			return chartRanges[i].name
		}
	}
	return "1mo"
}

// NewRequest builds GET /v8/finance/chart/{ticker}.
func (s *ChartSource) NewRequest(ctx context.Context, endpoint string, q Query) (*http.Request, error) {
	ci, ok := chartIntervals[q.Interval]
	if !ok {
		return nil, fmt.Errorf("unsupported chart interval %q", q.Interval)
	}
	params := url.Values{}
	params.Set("interval", ci.native)
	params.Set("range", chartRange(ci, q.Limit))
	params.Set("includePrePost", "false")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", endpoint, url.PathEscape(q.Ticker), params.Encode())
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []*int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Decode parses the chart payload. Timestamps and closes are aligned on the
// shorter of the two arrays; samples missing either are dropped.
func (s *ChartSource) Decode(status int, body []byte, q Query) (Series, error) {
	var payload chartResponse
	decodeErr := sonic.Unmarshal(body, &payload)
	hasErr := decodeErr == nil && payload.Chart.Error != nil
	if status != http.StatusOK {
		serr := &StatusError{Source: s.Name(), Code: status}
		if hasErr {
			serr.Message = payload.Chart.Error.Description
		}
		return Series{}, serr
	}
	if hasErr {
		return Series{}, &ProviderError{Source: s.Name(), Code: payload.Chart.Error.Code, Message: payload.Chart.Error.Description}
	}
	if decodeErr != nil {
		return Series{}, fmt.Errorf("decode chart: %w", decodeErr)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return Series{}, &ProviderError{Source: s.Name(), Message: "chart result is empty"}
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	n := min(len(result.Timestamp), len(quote.Close))

	candles := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		if result.Timestamp[i] == nil || quote.Close[i] == nil {
			continue
		}
		candles = append(candles, Candle{
			Time:   time.Unix(*result.Timestamp[i], 0).UTC(),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  *quote.Close[i],
			Volume: at(quote.Volume, i),
		})
	}

	if ci, ok := chartIntervals[q.Interval]; ok && ci.merge > 1 {
		candles = merge(candles, time.Duration(ci.merge)*ci.step)
	}
	if q.Limit > 0 && len(candles) > q.Limit {
		candles = candles[len(candles)-q.Limit:]
	}
	return Series{Source: s.Name(), Ticker: q.Ticker, Interval: q.Interval, Candles: candles}, nil
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return math.NaN()
	}
	return *values[i]
}

// merge folds consecutive candles into buckets of width span aligned to UTC.
func merge(candles []Candle, span time.Duration) []Candle {
	var out []Candle
	for _, c := range candles {
		bucket := c.Time.Truncate(span)
		if len(out) > 0 && out[len(out)-1].Time.Equal(bucket) {
			last := &out[len(out)-1]
			last.High = nanMax(last.High, c.High)
			last.Low = nanMin(last.Low, c.Low)
			last.Close = c.Close
			last.Volume = nanSum(last.Volume, c.Volume)
			continue
		}
		c.Time = bucket
		out = append(out, c)
	}
	return out
}

func nanMax(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Max(a, b)
}

func nanMin(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Min(a, b)
}

func nanSum(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	return a + b
}

var _ Source = (*ChartSource)(nil)
