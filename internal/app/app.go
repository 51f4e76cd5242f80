package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/edisonibujes/CriptoIQ/internal/alerting"
	"github.com/edisonibujes/CriptoIQ/internal/bot"
	"github.com/edisonibujes/CriptoIQ/internal/config"
	"github.com/edisonibujes/CriptoIQ/internal/fetcher"
	"github.com/edisonibujes/CriptoIQ/internal/metrics"
	"github.com/edisonibujes/CriptoIQ/internal/scheduler"
	"github.com/edisonibujes/CriptoIQ/internal/service"
	"github.com/edisonibujes/CriptoIQ/internal/storage"
	"github.com/edisonibujes/CriptoIQ/internal/symbols"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// components is the wired object graph shared by every command.
type components struct {
	store     storage.AlarmStore
	market    *fetcher.Market
	resolver  *symbols.Resolver
	messenger alerting.Messenger
	metrics   *metrics.Metrics
	service   *service.Service
	closers   []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (storage.AlarmStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Store)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close alarm store")
		}
	}
	return store, closer, nil
}

func (a *App) newCache(ctx context.Context) (fetcher.Cache, func(), error) {
	cfg := a.Config.Fetcher.Cache
	switch cfg.Backend {
	case "redis":
		cache, err := fetcher.NewRedisCache(ctx, fetcher.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Retention: cfg.Retention,
		})
		if err != nil {
			return nil, nil, err
		}
		return cache, func() { _ = cache.Close() }, nil
	case "none":
		return fetcher.NopCache{}, func() {}, nil
	default:
		cache, err := fetcher.NewDiskCache(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return cache, func() {}, nil
	}
}

func (a *App) newMarket(cache fetcher.Cache, observer fetcher.Observer) *fetcher.Market {
	cfg := a.Config.Fetcher
	resilient := fetcher.NewResilient(fetcher.Options{
		Policy: fetcher.RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      cfg.BaseDelay,
			RateLimitDelay: cfg.RateLimitDelay,
			MaxDelay:       cfg.MaxDelay,
			Sleep:          fetcher.SleepContext,
		},
		Timeout:    cfg.RequestTimeout,
		UserAgents: cfg.UserAgents,
		Cache:      cache,
		Observer:   observer,
	}, a.Logger)

	var chainlink *fetcher.Chainlink
	if a.Config.Onchain.RPCURL != "" {
		chainlink = fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  a.Config.Onchain.RPCURL,
			Timeout: a.Config.Onchain.RequestTimeout,
			MaxAge:  a.Config.Onchain.MaxAnswerAge,
		}, a.Logger)
	}

	return fetcher.NewMarket(fetcher.MarketOptions{
		QuoteTTL:  cfg.QuoteTTL,
		SeriesTTL: cfg.SeriesTTL,
	}, resilient,
		fetcher.NewKlineSource(cfg.KlineEndpoints),
		fetcher.NewChartSource(cfg.ChartEndpoints),
		chainlink, a.Logger)
}

func (a *App) newResolver() *symbols.Resolver {
	cfg := a.Config.Exchange
	return symbols.NewResolver(symbols.Options{
		QuoteAsset:  cfg.QuoteAsset,
		DefaultTick: decimal.NewFromFloat(cfg.DefaultTick),
		Aliases:     cfg.Aliases,
	}, symbols.NewBinanceMetadata(cfg.BaseURL), a.Logger)
}

func (a *App) newMessenger() (alerting.Messenger, error) {
	cfg := a.Config.Telegram
	if !cfg.Enabled {
		return alerting.NewLogMessenger(a.Logger), nil
	}
	return alerting.NewTelegram(alerting.TelegramOptions{
		Token:       cfg.BotToken,
		APIEndpoint: cfg.APIEndpoint,
		PollTimeout: cfg.PollTimeout,
	}, a.Logger)
}

// build wires the object graph. sched may be nil for one-off commands.
func (a *App) build(ctx context.Context, sched *scheduler.Scheduler) (*components, error) {
	c := &components{metrics: metrics.New()}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, closeStore)

	cache, closeCache, err := a.newCache(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, closeCache)

	c.market = a.newMarket(cache, c.metrics)
	c.resolver = a.newResolver()

	c.messenger, err = a.newMessenger()
	if err != nil {
		c.Close()
		return nil, err
	}

	notifier := alerting.NewChatNotifier(c.messenger, a.Logger)
	c.service = service.New(service.OptionsFromConfig(a.Config), sched, c.store, c.market, c.resolver, notifier, c.metrics, a.Logger)
	return c, nil
}

func (a *App) newBot(c *components) *bot.Bot {
	cfg := a.Config.Alarms
	return bot.New(bot.Options{
		DefaultGreenVolume: decimal.NewFromFloat(cfg.DefaultGreenVolume),
		DefaultRedVolume:   decimal.NewFromFloat(cfg.DefaultRedVolume),
		DefaultLookback:    cfg.DefaultLookback,
		PollInterval:       a.Config.Telegram.PollInterval,
	}, c.service, c.messenger, a.Logger)
}

// Run executes the long-running alarm service, the command loop and the
// metrics endpoint until a signal arrives or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		Jitter:         a.Config.Scheduler.Jitter,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	c, err := a.build(ctx, sched)
	if err != nil {
		return err
	}
	defer c.Close()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return c.service.Run(ctx)
	})
	if a.Config.Telegram.Enabled {
		b := a.newBot(c)
		p.Go(func(ctx context.Context) error {
			return b.Run(ctx)
		})
	}
	if a.Config.Metrics.Listen != "" {
		p.Go(func(ctx context.Context) error {
			return c.metrics.Serve(ctx, a.Config.Metrics.Listen, a.Logger)
		})
	}

	a.Logger.Info().Str("store", a.Config.Store.Backend).Bool("telegram", a.Config.Telegram.Enabled).Msg("starting alarm service")
	err = p.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alarm service stopped")
	return nil
}

// AlarmCommandOptions identify the owner an alarm command acts for.
type AlarmCommandOptions struct {
	Owner string
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	Symbol   string
	Interval string
	Limit    int
	Output   string
}
