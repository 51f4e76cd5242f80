package symbols

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceMetadata reads pairs from the spot exchangeInfo endpoint.
type BinanceMetadata struct {
	client *binance.Client
}

// NewBinanceMetadata builds a key-less client; baseURL overrides the API host.
func NewBinanceMetadata(baseURL string) *BinanceMetadata {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceMetadata{client: client}
}

// Pairs returns every pair currently in TRADING status.
func (b *BinanceMetadata) Pairs(ctx context.Context) ([]Pair, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	pairs := make([]Pair, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, toPair(s))
	}
	return pairs, nil
}

// Pair returns a single listing.
func (b *BinanceMetadata) Pair(ctx context.Context, symbol string) (Pair, error) {
	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Pair{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return toPair(s), nil
		}
	}
	return Pair{}, fmt.Errorf("symbol %s not listed", symbol)
}

func toPair(s binance.Symbol) Pair {
	p := Pair{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset}
	if pf := s.PriceFilter(); pf != nil {
		if tick, err := decimal.NewFromString(pf.TickSize); err == nil {
			p.TickSize = tick
		}
	}
	return p
}

var _ MetadataSource = (*BinanceMetadata)(nil)
