package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Alarm is a single watched condition owned by a chat.
type Alarm struct {
	ID         uuid.UUID
	Owner      string
	Instrument Instrument
	Params     Params
	State      State
	CreatedAt  time.Time
}

// State is the kind-dependent memory carried across evaluation cycles.
// Met is nil until the first observation; it must never be read as true.
type State struct {
	Met       *bool      `json:"met,omitempty"`
	LastSwing *time.Time `json:"last_swing,omitempty"`
}

// Reset clears the edge-trigger flag. Divergence swing timestamps survive.
func (s State) Reset() State {
	s.Met = nil
	return s
}

// MetValue reports the recorded flag and whether it is defined at all.
func (s State) MetValue() (value bool, defined bool) {
	if s.Met == nil {
		return false, false
	}
	return *s.Met, true
}

// WithMet returns a copy carrying the given flag.
func (s State) WithMet(v bool) State {
	s.Met = &v
	return s
}

// WithSwing returns a copy carrying the given swing timestamp.
func (s State) WithSwing(t time.Time) State {
	t = t.UTC()
	s.LastSwing = &t
	return s
}

// New builds an alarm with a fresh identifier.
func New(owner string, inst Instrument, params Params, now time.Time) Alarm {
	return Alarm{
		ID:         uuid.New(),
		Owner:      owner,
		Instrument: inst,
		Params:     params,
		CreatedAt:  now.UTC(),
	}
}

// Replacing returns a prepared to take over existing's dedup slot. The
// creation time is kept, and a divergence alarm keeps the swing it already
// reported so re-creating it does not repeat that notification.
func (a Alarm) Replacing(existing Alarm) Alarm {
	a.CreatedAt = existing.CreatedAt
	if a.Kind() == KindRsiDivergence && a.State.LastSwing == nil {
		a.State.LastSwing = existing.State.LastSwing
	}
	return a
}

// Kind returns the tag of the alarm's parameters.
func (a Alarm) Kind() Kind {
	if a.Params == nil {
		return ""
	}
	return a.Params.Kind()
}

// DedupKey identifies the slot an alarm occupies. Two alarms with the same
// key cannot coexist; the later one replaces the earlier.
func (a Alarm) DedupKey() string {
	return DedupKey(a.Owner, a.Instrument.Key(), a.Kind(), a.discriminator())
}

func (a Alarm) discriminator() string {
	if a.Params == nil {
		return ""
	}
	return a.Params.Discriminator()
}

// DedupKey joins the identifying parts of an alarm slot.
func DedupKey(owner, canonicalKey string, kind Kind, discriminator string) string {
	return strings.Join([]string{owner, canonicalKey, string(kind), discriminator}, "|")
}

// Validate checks the alarm is storable.
func (a Alarm) Validate() error {
	if strings.TrimSpace(a.Owner) == "" {
		return errors.New("alarm owner is required")
	}
	if a.Instrument.Symbol == "" {
		return errors.New("alarm instrument is not resolved")
	}
	if a.Params == nil {
		return errors.New("alarm parameters are required")
	}
	if a.Instrument.Venue == VenueChainlink {
		switch a.Params.(type) {
		case PriceTarget, CrossUp:
		default:
			return fmt.Errorf("%s alarms need candles; %s only provides quotes", a.Kind(), VenueChainlink)
		}
	}
	return a.Params.Validate()
}

// Summary renders a one-line description for listings.
func (a Alarm) Summary() string {
	return fmt.Sprintf("%s %s", a.Instrument.Symbol, describe(a.Params))
}

type envelope struct {
	ID         uuid.UUID       `json:"id"`
	Owner      string          `json:"owner"`
	Instrument Instrument      `json:"instrument"`
	Kind       Kind            `json:"kind"`
	Params     json.RawMessage `json:"params"`
	State      State           `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON writes the alarm with an explicit kind tag.
func (a Alarm) MarshalJSON() ([]byte, error) {
	if a.Params == nil {
		return nil, errors.New("marshal alarm: missing parameters")
	}
	raw, err := sonic.Marshal(a.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal alarm params: %w", err)
	}
	return sonic.Marshal(envelope{
		ID:         a.ID,
		Owner:      a.Owner,
		Instrument: a.Instrument,
		Kind:       a.Params.Kind(),
		Params:     raw,
		State:      a.State,
		CreatedAt:  a.CreatedAt,
	})
}

// UnmarshalJSON reads an alarm, dispatching parameters on the kind tag.
func (a *Alarm) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal alarm: %w", err)
	}
	params, err := DecodeParams(env.Kind, env.Params)
	if err != nil {
		return err
	}
	*a = Alarm{
		ID:         env.ID,
		Owner:      env.Owner,
		Instrument: env.Instrument,
		Params:     params,
		State:      env.State,
		CreatedAt:  env.CreatedAt,
	}
	return nil
}
