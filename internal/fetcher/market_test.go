package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

func TestMarketRoutesByVenue(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/v8/finance/chart/") {
			_, _ = w.Write([]byte(`{"chart":{"result":[{"timestamp":[1700000000,1700000060],"indicators":{"quote":[{"close":[10,11]}]}}],"error":null}}`))
			return
		}
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	r := newTestResilient(t, NopCache{}, time.Now(), &recordedSleep{})
	m := NewMarket(MarketOptions{}, r, NewKlineSource([]string{srv.URL}), NewChartSource([]string{srv.URL}), nil, noopLogger())

	price, err := m.Quote(context.Background(), alarm.Instrument{Venue: alarm.VenueBinance, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("spot quote: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected spot quote %s", price)
	}

	price, err = m.Quote(context.Background(), alarm.Instrument{Venue: alarm.VenueChart, Symbol: "ES=F"})
	if err != nil {
		t.Fatalf("chart quote: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("unexpected chart quote %s", price)
	}

	if len(paths) != 2 || paths[0] != "/api/v3/klines" || paths[1] != "/v8/finance/chart/ES=F" {
		t.Fatalf("unexpected request paths %v", paths)
	}

	if _, err := m.Quote(context.Background(), alarm.Instrument{Venue: alarm.VenueChainlink, Symbol: feedAddress}); err == nil {
		t.Fatal("chainlink quote without a reader must fail")
	}
	if _, err := m.Candles(context.Background(), alarm.Instrument{Venue: alarm.VenueChainlink, Symbol: feedAddress}, "1h", 10); err == nil {
		t.Fatal("chainlink has no candles")
	}
}
