// Package symbols turns user-typed instruments into venue-qualified symbols
// and knows each symbol's price tick.
package symbols

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// DefaultAliases maps common coin names to base tickers.
var DefaultAliases = map[string]string{
	"bitcoin":      "btc",
	"ethereum":     "eth",
	"binance coin": "bnb",
	"dogecoin":     "doge",
	"solana":       "sol",
	"cardano":      "ada",
	"ripple":       "xrp",
	"polkadot":     "dot",
	"litecoin":     "ltc",
	"tron":         "trx",
}

// ResolutionError reports an instrument that cannot be priced.
type ResolutionError struct {
	Input  string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Input, e.Reason)
}

// Pair is a tradable exchange listing.
type Pair struct {
	Symbol   string
	Base     string
	Quote    string
	TickSize decimal.Decimal
}

// MetadataSource lists exchange pairs.
type MetadataSource interface {
	Pairs(ctx context.Context) ([]Pair, error)
	Pair(ctx context.Context, symbol string) (Pair, error)
}

// Options tune the resolver.
type Options struct {
	QuoteAsset string
	// DefaultTick is the auto tolerance for venues without exchange metadata.
	DefaultTick decimal.Decimal
	Aliases     map[string]string
}

// Resolver owns the exchange metadata cache. The pair list is loaded on
// first use and kept for the life of the process.
type Resolver struct {
	opts   Options
	meta   MetadataSource
	logger zerolog.Logger

	mu      sync.Mutex
	loaded  bool
	loading chan struct{}
	bases   map[string]string
	symbols map[string]struct{}
	ticks   map[string]decimal.Decimal
}

// NewResolver constructs a resolver backed by meta.
func NewResolver(opts Options, meta MetadataSource, logger zerolog.Logger) *Resolver {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	opts.QuoteAsset = strings.ToUpper(opts.QuoteAsset)
	if !opts.DefaultTick.IsPositive() {
		opts.DefaultTick = decimal.New(1, -2)
	}
	aliases := make(map[string]string, len(DefaultAliases)+len(opts.Aliases))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	for k, v := range opts.Aliases {
		aliases[strings.ToLower(k)] = strings.ToLower(v)
	}
	opts.Aliases = aliases
	return &Resolver{
		opts:   opts,
		meta:   meta,
		logger: logger.With().Str("component", "symbols").Logger(),
		ticks:  make(map[string]decimal.Decimal),
	}
}

// Resolve maps raw user input to an instrument.
//
//	chart:ES=F, yf:^GSPC, GC=F, ^VIX  -> chart venue
//	chainlink:0x...                    -> on-chain feed
//	bitcoin, btc, BTC/USDT, BTCUSDT    -> exchange pair
func (r *Resolver) Resolve(ctx context.Context, raw string) (alarm.Instrument, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return alarm.Instrument{}, &ResolutionError{Input: raw, Reason: "empty instrument"}
	}
	lower := strings.ToLower(input)

	for _, prefix := range []string{"chart:", "yf:"} {
		if strings.HasPrefix(lower, prefix) {
			ticker := strings.ToUpper(strings.TrimSpace(input[len(prefix):]))
			if ticker == "" {
				return alarm.Instrument{}, &ResolutionError{Input: raw, Reason: "empty ticker"}
			}
			return alarm.Instrument{Raw: input, Venue: alarm.VenueChart, Symbol: ticker}, nil
		}
	}
	if strings.HasPrefix(lower, "chainlink:") {
		addr := strings.TrimSpace(input[len("chainlink:"):])
		if !common.IsHexAddress(addr) {
			return alarm.Instrument{}, &ResolutionError{Input: raw, Reason: "feed address is not a hex address"}
		}
		return alarm.Instrument{Raw: input, Venue: alarm.VenueChainlink, Symbol: common.HexToAddress(addr).Hex()}, nil
	}
	if strings.ContainsAny(input, "=^") {
		return alarm.Instrument{Raw: input, Venue: alarm.VenueChart, Symbol: strings.ToUpper(input)}, nil
	}

	if base, ok := r.opts.Aliases[lower]; ok {
		lower = base
	}
	compact := strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(lower))

	if err := r.ensureLoaded(ctx); err != nil {
		return alarm.Instrument{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.symbols[compact]; ok {
		return alarm.Instrument{Raw: input, Venue: alarm.VenueBinance, Symbol: compact}, nil
	}
	if symbol, ok := r.bases[compact]; ok {
		return alarm.Instrument{Raw: input, Venue: alarm.VenueBinance, Symbol: symbol}, nil
	}
	return alarm.Instrument{}, &ResolutionError{Input: raw, Reason: fmt.Sprintf("no trading %s pair found", r.opts.QuoteAsset)}
}

// TickSize returns the minimum price increment of inst.
func (r *Resolver) TickSize(ctx context.Context, inst alarm.Instrument) (decimal.Decimal, error) {
	if inst.Venue != alarm.VenueBinance {
		return r.opts.DefaultTick, nil
	}

	r.mu.Lock()
	tick, ok := r.ticks[inst.Symbol]
	r.mu.Unlock()
	if ok {
		return tick, nil
	}

	if err := r.ensureLoaded(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	r.mu.Lock()
	tick, ok = r.ticks[inst.Symbol]
	r.mu.Unlock()
	if ok {
		return tick, nil
	}

	pair, err := r.meta.Pair(ctx, inst.Symbol)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("load tick size for %s: %w", inst.Symbol, err)
	}
	if !pair.TickSize.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("exchange reports no tick size for %s", inst.Symbol)
	}

	r.mu.Lock()
	r.ticks[inst.Symbol] = pair.TickSize
	r.mu.Unlock()
	return pair.TickSize, nil
}

// ensureLoaded loads the pair list once. Concurrent callers wait for the
// load in flight, or give up when their context ends; r.mu is never held
// across the network call.
func (r *Resolver) ensureLoaded(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.loaded {
			r.mu.Unlock()
			return nil
		}
		if wait := r.loading; wait != nil {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return fmt.Errorf("wait for exchange pairs: %w", ctx.Err())
			}
		}
		done := make(chan struct{})
		r.loading = done
		r.mu.Unlock()

		err := r.load(ctx)

		r.mu.Lock()
		r.loading = nil
		r.mu.Unlock()
		close(done)
		return err
	}
}

func (r *Resolver) load(ctx context.Context) error {
	pairs, err := r.meta.Pairs(ctx)
	if err != nil {
		return fmt.Errorf("load exchange pairs: %w", err)
	}

	bases := make(map[string]string)
	symbols := make(map[string]struct{})
	ticks := make(map[string]decimal.Decimal)
	for _, p := range pairs {
		if !strings.EqualFold(p.Quote, r.opts.QuoteAsset) {
			continue
		}
		bases[strings.ToUpper(p.Base)] = p.Symbol
		symbols[p.Symbol] = struct{}{}
		if p.TickSize.IsPositive() {
			ticks[p.Symbol] = p.TickSize
		}
	}

	r.mu.Lock()
	r.bases = bases
	r.symbols = symbols
	for symbol, tick := range ticks {
		if _, ok := r.ticks[symbol]; !ok {
			r.ticks[symbol] = tick
		}
	}
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info().Int("pairs", len(symbols)).Str("quote", r.opts.QuoteAsset).Msg("exchange pairs loaded")
	return nil
}
