package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
	"github.com/edisonibujes/CriptoIQ/internal/alerting"
	"github.com/edisonibujes/CriptoIQ/internal/charts"
	"github.com/edisonibujes/CriptoIQ/internal/config"
	"github.com/edisonibujes/CriptoIQ/internal/fetcher"
	"github.com/edisonibujes/CriptoIQ/internal/indicator"
	"github.com/edisonibujes/CriptoIQ/internal/scheduler"
	"github.com/edisonibujes/CriptoIQ/internal/storage"
)

// Evaluation results reported to the Recorder.
const (
	resultFired     = "fired"
	resultIdle      = "idle"
	resultThrottled = "throttled"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// MarketData supplies quotes and candles for resolved instruments.
type MarketData interface {
	fetcher.QuoteFetcher
	fetcher.CandleFetcher
}

// InstrumentResolver normalises user symbols and knows their tick sizes.
type InstrumentResolver interface {
	Resolve(ctx context.Context, raw string) (alarm.Instrument, error)
	TickSize(ctx context.Context, inst alarm.Instrument) (decimal.Decimal, error)
}

// Recorder receives evaluation outcomes.
type Recorder interface {
	AlarmEvaluated(kind, result string)
	CycleFinished(active int, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) AlarmEvaluated(string, string)    {}
func (nopRecorder) CycleFinished(int, time.Duration) {}

// Options tune alarm evaluation.
type Options struct {
	EmaCooldown         time.Duration
	VolumeInterval      string
	VolumeWindow        int
	RSIPeriod           int
	SwingWindow         int
	DivergenceTolerance int
	Charts              bool
	ChartOptions        charts.Options
	LockKey             int64
	Now                 func() time.Time
}

// OptionsFromConfig maps configuration onto evaluation options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		EmaCooldown:         cfg.Alarms.EmaCooldown,
		VolumeInterval:      cfg.Alarms.VolumeInterval,
		VolumeWindow:        cfg.Alarms.VolumeWindow,
		RSIPeriod:           cfg.Alarms.RSIPeriod,
		SwingWindow:         cfg.Alarms.SwingWindow,
		DivergenceTolerance: cfg.Alarms.DivergenceTolerance,
		Charts:              cfg.Charts.Enabled,
		ChartOptions:        charts.Options{Width: cfg.Charts.Width, Height: cfg.Charts.Height},
	}
	if cfg.Store.Backend == "postgres" {
		opts.LockKey = cfg.Store.AdvisoryLockKey
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.EmaCooldown < 0 {
		o.EmaCooldown = 0
	}
	if o.VolumeInterval == "" {
		o.VolumeInterval = "1h"
	}
	if o.VolumeWindow <= 0 {
		o.VolumeWindow = 10
	}
	if o.RSIPeriod < 2 {
		o.RSIPeriod = 14
	}
	if o.SwingWindow < 1 {
		o.SwingWindow = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// maxCandles is the largest single candles request the providers accept.
const maxCandles = 1000

// comparePlaces bounds float noise when comparing a quote against an EMA.
const comparePlaces = 8

// Service evaluates alarms and exposes their management operations.
type Service struct {
	opts      Options
	scheduler *scheduler.Scheduler
	store     storage.AlarmStore
	market    MarketData
	resolver  InstrumentResolver
	notifier  alerting.Notifier
	recorder  Recorder
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	mu        sync.Mutex
	lastCheck map[uuid.UUID]time.Time
}

// New constructs the alarm service. recorder may be nil.
func New(opts Options, sched *scheduler.Scheduler, store storage.AlarmStore, market MarketData, resolver InstrumentResolver, notifier alerting.Notifier, recorder Recorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		opts:      opts.withDefaults(),
		scheduler: sched,
		store:     store,
		market:    market,
		resolver:  resolver,
		notifier:  notifier,
		recorder:  recorder,
		locker:    locker,
		logger:    logger.With().Str("component", "service").Logger(),
		lastCheck: make(map[uuid.UUID]time.Time),
	}
}

// Run begins the evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle evaluates every stored alarm once. Failures are isolated per
// alarm; only a failure to read the store aborts the cycle.
func (s *Service) ProcessCycle(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := s.opts.Now()
	alarms, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load alarms: %w", err)
	}

	fired := 0
	for _, a := range alarms {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.evaluateIsolated(ctx, a)
		s.recorder.AlarmEvaluated(string(a.Kind()), result)
		if err != nil {
			s.logEvaluationError(a, err)
			continue
		}
		if result == resultFired {
			fired++
		}
	}
	s.pruneChecks(alarms)

	took := s.opts.Now().Sub(started)
	s.recorder.CycleFinished(len(alarms), took)
	s.logger.Info().Time("tick", tick).
		Int("alarms", len(alarms)).
		Int("fired", fired).
		Dur("took", took).
		Msg("cycle complete")
	return nil
}

func (s *Service) evaluateIsolated(ctx context.Context, a alarm.Alarm) (result string, err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		result, err = s.evaluate(ctx, a)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		return resultFailed, recovered.AsError()
	}
	if err != nil {
		switch {
		case errors.Is(err, fetcher.ErrNoData), errors.Is(err, indicator.ErrInsufficientData):
			return resultSkipped, err
		default:
			return resultFailed, err
		}
	}
	return result, nil
}

func (s *Service) logEvaluationError(a alarm.Alarm, err error) {
	var event *zerolog.Event
	switch {
	case errors.Is(err, indicator.ErrInsufficientData):
		event = s.logger.Debug()
	case errors.Is(err, fetcher.ErrNoData):
		event = s.logger.Warn()
	default:
		event = s.logger.Error()
	}
	event.Err(err).
		Str("alarm_id", a.ID.String()).
		Str("kind", string(a.Kind())).
		Str("instrument", a.Instrument.Key()).
		Msg("alarm evaluation failed")
}

func (s *Service) evaluate(ctx context.Context, a alarm.Alarm) (string, error) {
	switch p := a.Params.(type) {
	case alarm.PriceTarget:
		return s.evalPriceTarget(ctx, a, p)
	case alarm.VolumeThreshold:
		return s.evalVolume(ctx, a, p)
	case alarm.EmaTouch:
		return s.evalEmaTouch(ctx, a, p)
	case alarm.CrossUp:
		return s.evalCrossUp(ctx, a, p)
	case alarm.RsiDivergence:
		return s.evalDivergence(ctx, a, p)
	default:
		return resultFailed, fmt.Errorf("unsupported alarm kind %q", a.Kind())
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// throttled reports whether the alarm was checked within the cooldown and
// otherwise records this check.
func (s *Service) throttled(id uuid.UUID, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastCheck[id]; ok && now.Sub(last) < cooldown {
		return true
	}
	s.lastCheck[id] = now
	return false
}

func (s *Service) pruneChecks(alive []alarm.Alarm) {
	ids := make(map[uuid.UUID]struct{}, len(alive))
	for _, a := range alive {
		ids[a.ID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastCheck {
		if _, ok := ids[id]; !ok {
			delete(s.lastCheck, id)
		}
	}
}
