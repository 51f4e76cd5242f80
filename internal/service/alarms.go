package service

import (
	"context"
	"fmt"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// ValidationError reports alarm parameters that cannot be stored.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CreateAlarm resolves raw and stores the alarm, replacing any alarm in the
// same slot. Unresolvable instruments are returned as *symbols.ResolutionError
// and nothing is stored.
func (s *Service) CreateAlarm(ctx context.Context, owner, raw string, params alarm.Params) (alarm.Alarm, bool, error) {
	inst, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return alarm.Alarm{}, false, err
	}

	a := alarm.New(owner, inst, params, s.opts.Now())
	if err := a.Validate(); err != nil {
		return alarm.Alarm{}, false, &ValidationError{Err: err}
	}

	stored, replaced, err := s.store.Upsert(ctx, a)
	if err != nil {
		return alarm.Alarm{}, false, fmt.Errorf("store alarm: %w", err)
	}
	s.logger.Info().
		Str("alarm_id", stored.ID.String()).
		Str("owner", owner).
		Str("kind", string(stored.Kind())).
		Str("instrument", inst.Key()).
		Bool("replaced", replaced).
		Msg("alarm saved")
	return stored, replaced, nil
}

// DeleteAlarm removes the owner's alarm of kind on raw. discriminator selects
// among alarms of the same kind, e.g. "20@1h" for an EMA touch.
func (s *Service) DeleteAlarm(ctx context.Context, owner string, kind alarm.Kind, raw, discriminator string) (int, error) {
	inst, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return 0, err
	}
	key := alarm.DedupKey(owner, inst.Key(), kind, discriminator)
	removed, err := s.store.RemoveMatching(ctx, func(a alarm.Alarm) bool {
		return a.DedupKey() == key
	})
	if err != nil {
		return 0, fmt.Errorf("delete alarm: %w", err)
	}
	s.logger.Info().Str("owner", owner).Str("key", key).Int("removed", removed).Msg("alarm delete requested")
	return removed, nil
}

// ListAlarms returns the owner's alarms in creation order.
func (s *Service) ListAlarms(ctx context.Context, owner string) ([]alarm.Alarm, error) {
	alarms, err := s.store.ListFor(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	return alarms, nil
}
