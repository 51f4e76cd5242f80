package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUserAgents is rotated across attempts when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
}

// Observer receives fetch outcomes.
type Observer interface {
	FetchAttempt(source, outcome string)
	CacheFallback(source string)
}

type nopObserver struct{}

func (nopObserver) FetchAttempt(string, string) {}
func (nopObserver) CacheFallback(string)        {}

// Options parameterise the resilient fetcher.
type Options struct {
	Policy     RetryPolicy
	Timeout    time.Duration
	UserAgents []string
	Client     *http.Client
	Cache      Cache
	Observer   Observer
	Now        func() time.Time
}

// Resilient fetches series with retries, endpoint rotation and a cache
// that doubles as a rate-limit shield and a last-resort fallback.
type Resilient struct {
	opts   Options
	logger zerolog.Logger
}

// NewResilient constructs a resilient fetcher.
func NewResilient(opts Options, logger zerolog.Logger) *Resilient {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resilient{opts: opts, logger: logger.With().Str("component", "resilient_fetcher").Logger()}
}

// Fetch returns the series for q. A cache entry younger than ttl is served
// without a request. After the attempts are exhausted a stale entry is
// served; with no entry at all the error wraps ErrNoData.
func (r *Resilient) Fetch(ctx context.Context, src Source, q Query, ttl time.Duration) (Series, error) {
	key := q.cacheKey(src.Name())
	log := r.logger.With().Str("source", src.Name()).Str("ticker", q.Ticker).Str("interval", q.Interval).Logger()

	cached, hit, err := r.opts.Cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("cache read failed")
		hit = false
	}
	if hit && r.opts.Now().Sub(cached.FetchedAt) < ttl {
		r.opts.Observer.FetchAttempt(src.Name(), "cache_hit")
		return cached.Series, nil
	}

	endpoints := src.Endpoints()
	if len(endpoints) == 0 {
		return Series{}, fmt.Errorf("%s has no endpoints configured", src.Name())
	}
	offset := rand.IntN(len(endpoints))

	var lastErr error
	for attempt := 0; attempt < r.opts.Policy.MaxAttempts; attempt++ {
		endpoint := endpoints[(offset+attempt)%len(endpoints)]
		series, err := r.attempt(ctx, src, endpoint, q)
		if err == nil {
			series = Sanitize(series)
			if len(series.Candles) > 0 {
				r.opts.Observer.FetchAttempt(src.Name(), "ok")
				entry := Entry{FetchedAt: r.opts.Now().UTC(), Series: series}
				if err := r.opts.Cache.Put(ctx, key, entry); err != nil {
					log.Warn().Err(err).Msg("cache write failed")
				}
				return series, nil
			}
			err = &ProviderError{Source: src.Name(), Message: "empty series"}
		}
		lastErr = err

		class := Classify(err)
		r.opts.Observer.FetchAttempt(src.Name(), outcomeLabel(class))
		log.Debug().Err(err).Int("attempt", attempt+1).Str("endpoint", endpoint).Msg("fetch attempt failed")

		if class == Fatal || ctx.Err() != nil || attempt == r.opts.Policy.MaxAttempts-1 {
			break
		}
		if err := r.opts.Policy.sleep(ctx, r.opts.Policy.Backoff(attempt, class)); err != nil {
			break
		}
	}

	if hit {
		r.opts.Observer.CacheFallback(src.Name())
		log.Warn().Err(lastErr).Time("fetched_at", cached.FetchedAt).Msg("serving stale cache after failed fetch")
		return cached.Series, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return Series{}, fmt.Errorf("fetch %s %s: %w: %w", src.Name(), q.Ticker, ErrNoData, lastErr)
}

func (r *Resilient) attempt(ctx context.Context, src Source, endpoint string, q Query) (Series, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := src.NewRequest(ctx, endpoint, q)
	if err != nil {
		return Series{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.opts.UserAgents[rand.IntN(len(r.opts.UserAgents))])
	req.Header.Set("Accept", "application/json")

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Series{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Series{}, &StatusError{Source: src.Name(), Code: resp.StatusCode}
	}
	return src.Decode(resp.StatusCode, body, q)
}

func outcomeLabel(class FailureClass) string {
	switch class {
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "provider_error"
	default:
		return "transient"
	}
}
