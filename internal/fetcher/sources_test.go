package fetcher

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestChartDecodeDropsNullsAndAligns(t *testing.T) {
	body := `{"chart":{"result":[{"timestamp":[1700000000,1700000060,null,1700000180,1700000240],
"indicators":{"quote":[{"open":[1,2,3,4],"high":[1,2,3,4],"low":[1,2,3,4],"close":[1.5,null,3.5,4.5],"volume":[10,20,30,40]}]}}],"error":null}}`

	src := NewChartSource(nil)
	series, err := src.Decode(http.StatusOK, []byte(body), Query{Ticker: "ES=F", Interval: "1m"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(series.Candles) != 2 {
		t.Fatalf("expected 2 candles, got %d: %+v", len(series.Candles), series.Candles)
	}
	if series.Candles[0].Close != 1.5 || series.Candles[1].Close != 4.5 {
		t.Fatalf("unexpected closes %+v", series.Candles)
	}
}

func TestChartDecodeProviderError(t *testing.T) {
	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	_, err := NewChartSource(nil).Decode(http.StatusOK, []byte(body), Query{Ticker: "XXX"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Code != "Not Found" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if Classify(err) != Fatal {
		t.Fatal("provider errors must classify as fatal")
	}
}

func TestDecodeErrorBodyWithBadStatusIsTransient(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		body string
	}{
		{"chart", NewChartSource(nil), `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`},
		{"klines", NewKlineSource(nil), `{"code":-1001,"msg":"Internal error; unable to process your request. Please try again."}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.src.Decode(http.StatusServiceUnavailable, []byte(tc.body), Query{Ticker: "X"})
			var serr *StatusError
			if !errors.As(err, &serr) || serr.Code != http.StatusServiceUnavailable || serr.Message == "" {
				t.Fatalf("expected status error carrying the provider message, got %v", err)
			}
			if Classify(err) != Transient {
				t.Fatalf("expected transient class, got %v", Classify(err))
			}
		})
	}
}

func TestChartDecodeMergesCoarseIntervals(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	var ts, closes []string
	for i := 0; i < 8; i++ {
		ts = append(ts, itoa(base+int64(i)*3600))
		closes = append(closes, itoa(int64(i+1)))
	}
	body := `{"chart":{"result":[{"timestamp":[` + strings.Join(ts, ",") + `],"indicators":{"quote":[{"open":[` + strings.Join(closes, ",") +
		`],"high":[` + strings.Join(closes, ",") + `],"low":[` + strings.Join(closes, ",") + `],"close":[` + strings.Join(closes, ",") +
		`],"volume":[1,1,1,1,1,1,1,1]}]}}],"error":null}}`

	series, err := NewChartSource(nil).Decode(http.StatusOK, []byte(body), Query{Ticker: "GC=F", Interval: "4h", Limit: 10})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(series.Candles) != 2 {
		t.Fatalf("expected 2 merged candles, got %d", len(series.Candles))
	}
	first := series.Candles[0]
	if first.Open != 1 || first.High != 4 || first.Low != 1 || first.Close != 4 || first.Volume != 4 {
		t.Fatalf("unexpected merged candle %+v", first)
	}
}

func TestChartRequestRange(t *testing.T) {
	req, err := NewChartSource([]string{"http://example.test/"}).NewRequest(context.Background(), "http://example.test", Query{Ticker: "^GSPC", Interval: "1d", Limit: 300})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.URL.Query().Get("interval") != "1d" || req.URL.Query().Get("range") != "5y" {
		t.Fatalf("unexpected query %s", req.URL.RawQuery)
	}
	if _, err := NewChartSource(nil).NewRequest(context.Background(), "http://example.test", Query{Ticker: "X", Interval: "7m"}); err == nil {
		t.Fatal("unsupported interval must fail")
	}
}

func TestDiskCacheKeepsMissingValues(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	in := Entry{FetchedAt: time.Unix(1700000000, 0).UTC(), Series: Series{Ticker: "X", Candles: []Candle{{Time: time.UnixMilli(1700000000000).UTC(), Open: math.NaN(), High: 2, Low: 1, Close: 1.5, Volume: math.NaN()}}}}
	if err := cache.Put(context.Background(), "k", in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, ok, err := cache.Get(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	c := out.Series.Candles[0]
	if !math.IsNaN(c.Open) || !math.IsNaN(c.Volume) || c.Close != 1.5 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if _, ok, _ := cache.Get(context.Background(), "missing"); ok {
		t.Fatal("missing key must not hit")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
