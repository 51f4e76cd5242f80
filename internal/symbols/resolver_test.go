package symbols

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

type fakeMeta struct {
	mu        sync.Mutex
	pairs     []Pair
	loads     int
	lookups   int
	lookupErr error
	started   chan struct{}
	release   chan struct{}
}

func (f *fakeMeta) Pairs(context.Context) ([]Pair, error) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	return f.pairs, nil
}

func (f *fakeMeta) Pair(_ context.Context, symbol string) (Pair, error) {
	f.lookups++
	if f.lookupErr != nil {
		return Pair{}, f.lookupErr
	}
	return Pair{Symbol: symbol, TickSize: decimal.RequireFromString("0.5")}, nil
}

func newFakeResolver() (*Resolver, *fakeMeta) {
	meta := &fakeMeta{pairs: []Pair{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", TickSize: decimal.RequireFromString("0.01")},
		{Symbol: "DOGEUSDT", Base: "DOGE", Quote: "USDT", TickSize: decimal.RequireFromString("0.00001")},
		{Symbol: "BNBUSDT", Base: "BNB", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	}}
	return NewResolver(Options{}, meta, zerolog.Nop()), meta
}

func TestResolvePairFormats(t *testing.T) {
	r, meta := newFakeResolver()
	for _, raw := range []string{"doge", "DOGE", "DOGEUSDT", "DOGE/USDT", "dogecoin", " doge-usdt "} {
		inst, err := r.Resolve(context.Background(), raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if inst.Venue != alarm.VenueBinance || inst.Symbol != "DOGEUSDT" {
			t.Fatalf("%q resolved to %s", raw, inst.Key())
		}
	}
	if meta.loads != 1 {
		t.Fatalf("pairs should load once, loaded %d times", meta.loads)
	}

	inst, err := r.Resolve(context.Background(), "Binance Coin")
	if err != nil || inst.Symbol != "BNBUSDT" {
		t.Fatalf("alias resolution failed: %v %v", inst, err)
	}
}

func TestResolveRejectsUnknown(t *testing.T) {
	r, _ := newFakeResolver()
	for _, raw := range []string{"", "notacoin", "ETHBTC", "chainlink:0x12"} {
		_, err := r.Resolve(context.Background(), raw)
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			t.Fatalf("%q: expected ResolutionError, got %v", raw, err)
		}
	}
}

func TestResolveOtherVenues(t *testing.T) {
	r, meta := newFakeResolver()
	cases := map[string]alarm.Instrument{
		"chart:es=f": {Venue: alarm.VenueChart, Symbol: "ES=F"},
		"yf:^gspc":   {Venue: alarm.VenueChart, Symbol: "^GSPC"},
		"GC=F":       {Venue: alarm.VenueChart, Symbol: "GC=F"},
		"chainlink:0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419": {Venue: alarm.VenueChainlink, Symbol: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"},
	}
	for raw, want := range cases {
		got, err := r.Resolve(context.Background(), raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got.Venue != want.Venue || got.Symbol != want.Symbol {
			t.Fatalf("%q resolved to %s, want %s", raw, got.Key(), want.Key())
		}
	}
	if meta.loads != 0 {
		t.Fatal("non-exchange venues must not load exchange metadata")
	}
}

func TestTickSizeCachedPerSymbol(t *testing.T) {
	r, meta := newFakeResolver()
	ctx := context.Background()

	tick, err := r.TickSize(ctx, alarm.Instrument{Venue: alarm.VenueBinance, Symbol: "BTCUSDT"})
	if err != nil || !tick.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected tick %s err %v", tick, err)
	}

	for i := 0; i < 2; i++ {
		tick, err = r.TickSize(ctx, alarm.Instrument{Venue: alarm.VenueBinance, Symbol: "BNBUSDT"})
		if err != nil || !tick.Equal(decimal.RequireFromString("0.5")) {
			t.Fatalf("unexpected tick %s err %v", tick, err)
		}
	}
	if meta.lookups != 1 {
		t.Fatalf("tick lookups should be cached, got %d", meta.lookups)
	}

	tick, err = r.TickSize(ctx, alarm.Instrument{Venue: alarm.VenueChart, Symbol: "ES=F"})
	if err != nil || !tick.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("chart venue should use the default tick, got %s", tick)
	}
}

func TestSlowPairLoadDoesNotTrapWaiters(t *testing.T) {
	r, meta := newFakeResolver()
	meta.started = make(chan struct{}, 1)
	meta.release = make(chan struct{})
	ctx := context.Background()

	resolved := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "btc")
		resolved <- err
	}()
	<-meta.started

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	btc := alarm.Instrument{Venue: alarm.VenueBinance, Symbol: "BTCUSDT"}
	if _, err := r.TickSize(waitCtx, btc); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiter should give up with its context, got %v", err)
	}
	if tick, err := r.TickSize(ctx, alarm.Instrument{Venue: alarm.VenueChart, Symbol: "ES=F"}); err != nil || !tick.IsPositive() {
		t.Fatalf("chart tick should not wait for exchange pairs: %s %v", tick, err)
	}

	close(meta.release)
	if err := <-resolved; err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tick, err := r.TickSize(ctx, btc)
	if err != nil || !tick.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected tick %s err %v", tick, err)
	}
	if meta.loads != 1 {
		t.Fatalf("pairs should load once, loaded %d times", meta.loads)
	}
}

func TestBinanceMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1700000000000,"symbols":[
{"symbol":"DOGEUSDT","status":"TRADING","baseAsset":"DOGE","quoteAsset":"USDT","filters":[{"filterType":"PRICE_FILTER","minPrice":"0.00001000","maxPrice":"1000.00000000","tickSize":"0.00001000"}]},
{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT","filters":[]}]}`))
	}))
	defer srv.Close()

	meta := NewBinanceMetadata(srv.URL)
	pairs, err := meta.Pairs(context.Background())
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Symbol != "DOGEUSDT" {
		t.Fatalf("only trading pairs expected, got %+v", pairs)
	}
	if !pairs[0].TickSize.Equal(decimal.RequireFromString("0.00001")) {
		t.Fatalf("unexpected tick %s", pairs[0].TickSize)
	}
}
