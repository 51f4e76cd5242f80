package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// MarketOptions parameterise the venue router.
type MarketOptions struct {
	QuoteTTL  time.Duration
	SeriesTTL time.Duration
}

// Market routes quote and candle requests to the source serving each venue.
type Market struct {
	opts      MarketOptions
	fetch     *Resilient
	klines    Source
	chart     Source
	chainlink *Chainlink
	logger    zerolog.Logger
}

// NewMarket constructs the router. chainlink may be nil when no RPC is configured.
func NewMarket(opts MarketOptions, fetch *Resilient, klines, chart Source, chainlink *Chainlink, logger zerolog.Logger) *Market {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 15 * time.Second
	}
	if opts.SeriesTTL <= 0 {
		opts.SeriesTTL = 15 * time.Minute
	}
	return &Market{
		opts:      opts,
		fetch:     fetch,
		klines:    klines,
		chart:     chart,
		chainlink: chainlink,
		logger:    logger.With().Str("component", "market").Logger(),
	}
}

func (m *Market) source(venue alarm.Venue) (Source, error) {
	switch venue {
	case alarm.VenueBinance:
		return m.klines, nil
	case alarm.VenueChart:
		return m.chart, nil
	default:
		return nil, fmt.Errorf("venue %q has no candle source", venue)
	}
}

// Quote returns the latest close. Quotes use the short freshness window.
func (m *Market) Quote(ctx context.Context, inst alarm.Instrument) (decimal.Decimal, error) {
	if inst.Venue == alarm.VenueChainlink {
		if m.chainlink == nil {
			return decimal.Decimal{}, fmt.Errorf("quote %s: onchain feeds not configured", inst.Key())
		}
		price, err := m.chainlink.LatestAnswer(ctx, inst.Symbol)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("quote %s: %w: %w", inst.Key(), ErrNoData, err)
		}
		return price, nil
	}

	src, err := m.source(inst.Venue)
	if err != nil {
		return decimal.Decimal{}, err
	}
	series, err := m.fetch.Fetch(ctx, src, Query{Ticker: inst.Symbol, Interval: "1m", Limit: 2}, m.opts.QuoteTTL)
	if err != nil {
		return decimal.Decimal{}, err
	}
	last, ok := series.Last()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("quote %s: %w", inst.Key(), ErrNoData)
	}
	return decimal.NewFromFloat(last.Close), nil
}

// Candles returns up to limit candles of the given interval.
func (m *Market) Candles(ctx context.Context, inst alarm.Instrument, interval string, limit int) (Series, error) {
	src, err := m.source(inst.Venue)
	if err != nil {
		return Series{}, err
	}
	return m.fetch.Fetch(ctx, src, Query{Ticker: inst.Symbol, Interval: interval, Limit: limit}, m.opts.SeriesTTL)
}

var (
	_ QuoteFetcher  = (*Market)(nil)
	_ CandleFetcher = (*Market)(nil)
)
