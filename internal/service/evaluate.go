package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
	"github.com/edisonibujes/CriptoIQ/internal/alerting"
	"github.com/edisonibujes/CriptoIQ/internal/charts"
	"github.com/edisonibujes/CriptoIQ/internal/fetcher"
	"github.com/edisonibujes/CriptoIQ/internal/indicator"
	"github.com/edisonibujes/CriptoIQ/internal/storage"
)

func (s *Service) evalPriceTarget(ctx context.Context, a alarm.Alarm, p alarm.PriceTarget) (string, error) {
	price, err := s.market.Quote(ctx, a.Instrument)
	if err != nil {
		return resultFailed, err
	}
	if price.LessThan(p.Target) {
		return resultIdle, nil
	}
	note := s.note(a, fmt.Sprintf("%s reached %s", a.Instrument.Symbol, p.Target.String()),
		fmt.Sprintf("Price: %s", price.String()))
	return s.fire(ctx, a, note, nil)
}

func (s *Service) evalVolume(ctx context.Context, a alarm.Alarm, p alarm.VolumeThreshold) (string, error) {
	series, err := s.market.Candles(ctx, a.Instrument, s.opts.VolumeInterval, s.opts.VolumeWindow)
	if err != nil {
		return resultFailed, err
	}
	green, red := splitVolume(series.Candles)
	observed := green
	if p.Color == alarm.Red {
		observed = red
	}
	if !observed.GreaterThan(p.Threshold) {
		return resultIdle, nil
	}
	note := s.note(a, fmt.Sprintf("%s %s volume above %s", a.Instrument.Symbol, p.Color, p.Threshold.String()),
		fmt.Sprintf("Green volume (%d×%s): %s", len(series.Candles), s.opts.VolumeInterval, green.StringFixed(2)),
		fmt.Sprintf("Red volume (%d×%s): %s", len(series.Candles), s.opts.VolumeInterval, red.StringFixed(2)))
	return s.fire(ctx, a, note, nil)
}

// splitVolume sums candle volume by colour. A candle closing at or above
// its open is green.
func splitVolume(candles []fetcher.Candle) (green, red decimal.Decimal) {
	green, red = decimal.Zero, decimal.Zero
	for _, c := range candles {
		if math.IsNaN(c.Open) || math.IsNaN(c.Close) || math.IsNaN(c.Volume) {
			continue
		}
		v := decimal.NewFromFloat(c.Volume)
		if c.Close >= c.Open {
			green = green.Add(v)
		} else {
			red = red.Add(v)
		}
	}
	return green, red
}

func (s *Service) evalEmaTouch(ctx context.Context, a alarm.Alarm, p alarm.EmaTouch) (string, error) {
	if s.throttled(a.ID, s.opts.EmaCooldown) {
		return resultThrottled, nil
	}

	series, err := s.market.Candles(ctx, a.Instrument, p.Interval, emaCandles(p.Period))
	if err != nil {
		return resultFailed, err
	}
	emaValue, err := indicator.LastEMA(series.Closes(), p.Period)
	if err != nil {
		return resultFailed, fmt.Errorf("ema %d on %s: %w", p.Period, a.Instrument.Key(), err)
	}
	price, err := s.market.Quote(ctx, a.Instrument)
	if err != nil {
		return resultFailed, err
	}

	ema := decimal.NewFromFloat(emaValue)
	tolerance, err := s.tolerance(ctx, a.Instrument, p.Tolerance, ema)
	if err != nil {
		return resultFailed, err
	}
	gap := price.Sub(ema).Abs().Round(comparePlaces)
	if gap.GreaterThan(tolerance) {
		return resultIdle, nil
	}

	note := s.note(a, fmt.Sprintf("%s touched EMA %d (%s)", a.Instrument.Symbol, p.Period, p.Interval),
		fmt.Sprintf("Price: %s", price.String()),
		fmt.Sprintf("EMA: %s", ema.Round(comparePlaces).String()),
		fmt.Sprintf("Tolerance: %s", p.Tolerance.String()))
	if s.opts.Charts {
		s.attachChart(&note, "ema.png", func() ([]byte, error) {
			return charts.EMAPNG(series, []int{p.Period}, s.opts.ChartOptions)
		})
	}
	return s.fire(ctx, a, note, nil)
}

// tolerance returns the absolute distance that counts as a touch.
func (s *Service) tolerance(ctx context.Context, inst alarm.Instrument, t alarm.Tolerance, ema decimal.Decimal) (decimal.Decimal, error) {
	if t.Auto {
		tick, err := s.resolver.TickSize(ctx, inst)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("tick size for %s: %w", inst.Key(), err)
		}
		return tick, nil
	}
	return ema.Abs().Mul(t.Percent).Div(decimal.NewFromInt(100)), nil
}

func emaCandles(period int) int {
	n := period * 3
	if n < 100 {
		n = 100
	}
	return min(n, maxCandles)
}

func (s *Service) evalCrossUp(ctx context.Context, a alarm.Alarm, p alarm.CrossUp) (string, error) {
	price, err := s.market.Quote(ctx, a.Instrument)
	if err != nil {
		return resultFailed, err
	}
	meets := price.GreaterThanOrEqual(p.Target)
	previous, defined := a.State.MetValue()

	if defined && !previous && meets {
		note := s.note(a, fmt.Sprintf("%s crossed above %s", a.Instrument.Symbol, p.Target.String()),
			fmt.Sprintf("Price: %s", price.String()))
		return s.fire(ctx, a, note, nil)
	}

	if !defined || previous != meets {
		if err := s.store.SetState(ctx, a.ID, a.State.WithMet(meets)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.logRemoved(a)
				return resultIdle, nil
			}
			return resultFailed, fmt.Errorf("record cross state: %w", err)
		}
	}
	return resultIdle, nil
}

func (s *Service) evalDivergence(ctx context.Context, a alarm.Alarm, p alarm.RsiDivergence) (string, error) {
	limit := min(p.Lookback+s.opts.RSIPeriod*3, maxCandles)
	series, err := s.market.Candles(ctx, a.Instrument, p.Interval, limit)
	if err != nil {
		return resultFailed, err
	}
	closes := series.Closes()
	if len(closes) <= s.opts.RSIPeriod {
		return resultFailed, fmt.Errorf("rsi %d on %s: %w", s.opts.RSIPeriod, a.Instrument.Key(), indicator.ErrInsufficientData)
	}

	dir := indicator.Direction(p.Direction)
	rsi := indicator.RSI(closes, s.opts.RSIPeriod)
	prices := indicator.SwingPrices(dir, series.Highs(), series.Lows(), closes)
	div, found := indicator.FindDivergence(dir, prices, rsi, indicator.DivergenceOptions{
		Window:    s.opts.SwingWindow,
		Lookback:  p.Lookback,
		Tolerance: s.opts.DivergenceTolerance,
	})
	if !found {
		return resultIdle, nil
	}

	swing := series.Candles[div.Index2].Time.UTC()
	if a.State.LastSwing != nil && a.State.LastSwing.Equal(swing) {
		return resultIdle, nil
	}

	note := s.note(a, fmt.Sprintf("%s %s RSI divergence (%s)", a.Instrument.Symbol, p.Direction, p.Interval),
		fmt.Sprintf("Price: %s → %s", fmtFloat(div.Price1), fmtFloat(div.Price2)),
		fmt.Sprintf("RSI: %.2f → %.2f", div.RSI1, div.RSI2),
		fmt.Sprintf("Swing: %s", swing.Format("2006-01-02 15:04")))
	if s.opts.Charts {
		s.attachChart(&note, "divergence.png", func() ([]byte, error) {
			return charts.DivergencePNG(series, prices, rsi, div, s.opts.ChartOptions)
		})
	}
	next := a.State.WithSwing(swing)
	return s.fire(ctx, a, note, &next)
}

// fire notifies and then applies the post-fire mutation: deletion for
// one-shot kinds, otherwise the rearmed state. A failed notification does
// not stop the mutation.
func (s *Service) fire(ctx context.Context, a alarm.Alarm, note alerting.Notification, rearm *alarm.State) (string, error) {
	_, exists, err := s.store.Get(ctx, a.ID)
	if err != nil {
		return resultFailed, fmt.Errorf("reload alarm: %w", err)
	}
	if !exists {
		s.logRemoved(a)
		return resultIdle, nil
	}

	log := s.logger.With().
		Str("alarm_id", a.ID.String()).
		Str("kind", string(a.Kind())).
		Str("instrument", a.Instrument.Key()).
		Logger()

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, note); err != nil {
			log.Error().Err(err).Msg("failed to dispatch alarm notification")
		}
	}

	if a.Kind().OneShot() || rearm == nil {
		if _, err := s.store.RemoveMatching(ctx, storage.ByID(a.ID)); err != nil {
			return resultFailed, fmt.Errorf("remove fired alarm: %w", err)
		}
		log.Info().Msg("alarm fired and removed")
		return resultFired, nil
	}

	if err := s.store.SetState(ctx, a.ID, *rearm); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logRemoved(a)
			return resultFired, nil
		}
		return resultFailed, fmt.Errorf("rearm alarm: %w", err)
	}
	log.Info().Msg("alarm fired and rearmed")
	return resultFired, nil
}

func (s *Service) note(a alarm.Alarm, headline string, details ...string) alerting.Notification {
	return alerting.Notification{
		AlarmID:    a.ID.String(),
		Owner:      a.Owner,
		Kind:       string(a.Kind()),
		Instrument: a.Instrument.Symbol,
		Headline:   headline,
		Details:    details,
		FiredAt:    s.opts.Now(),
	}
}

func (s *Service) attachChart(note *alerting.Notification, name string, render func() ([]byte, error)) {
	img, err := render()
	if err != nil {
		s.logger.Warn().Err(err).Str("alarm_id", note.AlarmID).Msg("chart rendering failed")
		return
	}
	note.Image = img
	note.ImageName = name
}

func fmtFloat(v float64) string {
	return decimal.NewFromFloat(v).Round(comparePlaces).String()
}

func (s *Service) logRemoved(a alarm.Alarm) {
	s.logger.Debug().Str("alarm_id", a.ID.String()).Msg("alarm removed during cycle")
}
