package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const klinesBody = `[[1700000000000,"1.0","2.0","0.5","1.5","100",1700000059999,"150",10,"50","75","0"],[1700000060000,"1.5","2.5","1.0","2.0","120",1700000119999,"200",12,"60","90","0"]]`

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestResilient(t *testing.T, cache Cache, now time.Time, sleeper *recordedSleep) *Resilient {
	t.Helper()
	return NewResilient(Options{
		Policy: RetryPolicy{
			MaxAttempts:    5,
			BaseDelay:      time.Second,
			RateLimitDelay: 4 * time.Second,
			MaxDelay:       time.Minute,
			Sleep:          sleeper.sleep,
		},
		Timeout: time.Second,
		Cache:   cache,
		Now:     func() time.Time { return now },
	}, noopLogger())
}

func TestFetchRetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("user agent must be set")
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sleeper := &recordedSleep{}
	r := newTestResilient(t, cache, now, sleeper)
	q := Query{Ticker: "BTCUSDT", Interval: "1m", Limit: 2}

	series, err := r.Fetch(context.Background(), NewKlineSource([]string{srv.URL}), q, 15*time.Minute)
	if err != nil {
		t.Fatalf("fetch should succeed on third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", calls.Load())
	}
	if len(series.Candles) != 2 || series.Candles[1].Close != 2.0 {
		t.Fatalf("unexpected series %+v", series)
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 4*time.Second || sleeper.delays[1] != 8*time.Second {
		t.Fatalf("unexpected backoff %v", sleeper.delays)
	}

	entry, ok, err := cache.Get(context.Background(), q.cacheKey("klines"))
	if err != nil || !ok {
		t.Fatalf("cache should be populated: ok=%v err=%v", ok, err)
	}
	if !entry.FetchedAt.Equal(now) || len(entry.Series.Candles) != 2 {
		t.Fatalf("unexpected cache entry %+v", entry)
	}
}

func TestFetchFallsBackToStaleCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := Query{Ticker: "ETHUSDT", Interval: "1h", Limit: 10}
	stale := Series{Source: "klines", Ticker: "ETHUSDT", Interval: "1h", Candles: []Candle{{Time: now.Add(-time.Hour), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}}
	if err := cache.Put(context.Background(), q.cacheKey("klines"), Entry{FetchedAt: now.Add(-20 * time.Minute), Series: stale}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	sleeper := &recordedSleep{}
	r := newTestResilient(t, cache, now, sleeper)
	series, err := r.Fetch(context.Background(), NewKlineSource([]string{srv.URL}), q, 15*time.Minute)
	if err != nil {
		t.Fatalf("stale cache should be served: %v", err)
	}
	if len(series.Candles) != 1 || series.Candles[0].Close != 1 {
		t.Fatalf("unexpected series %+v", series)
	}
	if calls.Load() != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls.Load())
	}
	if len(sleeper.delays) != 4 || sleeper.delays[0] != time.Second || sleeper.delays[3] != 8*time.Second {
		t.Fatalf("unexpected backoff %v", sleeper.delays)
	}
}

func TestFetchStopsOnProviderError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	r := newTestResilient(t, NopCache{}, time.Now(), &recordedSleep{})
	_, err := r.Fetch(context.Background(), NewKlineSource([]string{srv.URL}), Query{Ticker: "NOPEUSDT", Interval: "1m", Limit: 2}, time.Minute)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Code != "-1121" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider errors must not be retried, got %d attempts", calls.Load())
	}
}

func TestFetchRetriesServerErrorWithPayload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error; unable to process your request. Please try again."}`))
			return
		}
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	sleeper := &recordedSleep{}
	r := newTestResilient(t, NopCache{}, time.Now(), sleeper)
	series, err := r.Fetch(context.Background(), NewKlineSource([]string{srv.URL}), Query{Ticker: "BTCUSDT", Interval: "1m", Limit: 2}, time.Minute)
	if err != nil {
		t.Fatalf("fetch should succeed on second attempt: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
	if len(series.Candles) != 2 {
		t.Fatalf("unexpected series %+v", series)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != time.Second {
		t.Fatalf("expected one short backoff, got %v", sleeper.delays)
	}
}

func TestFetchServesFreshCacheWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	now := time.Now().UTC()
	q := Query{Ticker: "BTCUSDT", Interval: "1m", Limit: 2}
	fresh := Series{Candles: []Candle{{Time: now, Close: 7}}}
	if err := cache.Put(context.Background(), q.cacheKey("klines"), Entry{FetchedAt: now.Add(-5 * time.Second), Series: fresh}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	r := newTestResilient(t, cache, now, &recordedSleep{})
	series, err := r.Fetch(context.Background(), NewKlineSource([]string{srv.URL}), q, 15*time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("fresh cache must short-circuit, got %d requests", calls.Load())
	}
	if series.Candles[0].Close != 7 {
		t.Fatalf("expected cached close, got %v", series.Candles[0].Close)
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, RateLimitDelay: 10 * time.Second, MaxDelay: 30 * time.Second}
	if got := p.Backoff(0, Transient); got != time.Second {
		t.Fatalf("attempt 0 transient = %v", got)
	}
	if got := p.Backoff(3, Transient); got != 8*time.Second {
		t.Fatalf("attempt 3 transient = %v", got)
	}
	if got := p.Backoff(2, RateLimited); got != 30*time.Second {
		t.Fatalf("rate limited delay should cap, got %v", got)
	}
}
