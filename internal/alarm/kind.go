package alarm

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Kind tags an alarm variant.
type Kind string

const (
	KindPriceTarget     Kind = "price_target"
	KindVolumeThreshold Kind = "volume_threshold"
	KindEmaTouch        Kind = "ema_touch"
	KindCrossUp         Kind = "cross_up"
	KindRsiDivergence   Kind = "rsi_divergence"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindPriceTarget, KindVolumeThreshold, KindEmaTouch, KindCrossUp, KindRsiDivergence}

// OneShot reports whether the alarm is deleted once it fires.
func (k Kind) OneShot() bool {
	return k != KindRsiDivergence
}

// ParseKind accepts the canonical tag or its short command alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindPriceTarget), "price", "alarm":
		return KindPriceTarget, nil
	case string(KindVolumeThreshold), "volume":
		return KindVolumeThreshold, nil
	case string(KindEmaTouch), "ema":
		return KindEmaTouch, nil
	case string(KindCrossUp), "cross":
		return KindCrossUp, nil
	case string(KindRsiDivergence), "divergence", "div":
		return KindRsiDivergence, nil
	default:
		return "", fmt.Errorf("unknown alarm kind %q", s)
	}
}

// Params is the kind-specific payload of an alarm. The set of
// implementations is closed to this package.
type Params interface {
	Kind() Kind
	// Discriminator separates alarms of the same kind on the same instrument.
	Discriminator() string
	Validate() error
	sealed()
}

// PriceTarget fires once when the quote reaches the target.
type PriceTarget struct {
	Target decimal.Decimal `json:"target"`
}

// Color selects the candle class a volume alarm watches.
type Color string

const (
	Green Color = "green"
	Red   Color = "red"
)

// ParseColor accepts green/red in any case.
func ParseColor(s string) (Color, error) {
	switch Color(strings.ToLower(strings.TrimSpace(s))) {
	case Green:
		return Green, nil
	case Red:
		return Red, nil
	}
	return "", fmt.Errorf("volume colour must be green or red, got %q", s)
}

// VolumeThreshold fires once when the selected candle class volume exceeds
// the threshold.
type VolumeThreshold struct {
	Color     Color           `json:"color"`
	Threshold decimal.Decimal `json:"threshold"`
}

// EmaTouch fires once when the quote comes within tolerance of an EMA.
type EmaTouch struct {
	Period    int       `json:"period"`
	Interval  string    `json:"interval"`
	Tolerance Tolerance `json:"tolerance"`
}

// CrossUp fires on the transition from below target to at-or-above target.
type CrossUp struct {
	Target decimal.Decimal `json:"target"`
}

// Direction is the orientation of a divergence.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// ParseDirection accepts bullish/bearish and their first letters.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "bull", "b+":
		return Bullish, nil
	case "bearish", "bear", "b-":
		return Bearish, nil
	}
	return "", fmt.Errorf("divergence direction must be bullish or bearish, got %q", s)
}

// RsiDivergence fires on every new price/RSI divergence swing.
type RsiDivergence struct {
	Direction Direction `json:"direction"`
	Interval  string    `json:"interval"`
	Lookback  int       `json:"lookback"`
}

func (PriceTarget) Kind() Kind     { return KindPriceTarget }
func (VolumeThreshold) Kind() Kind { return KindVolumeThreshold }
func (EmaTouch) Kind() Kind        { return KindEmaTouch }
func (CrossUp) Kind() Kind         { return KindCrossUp }
func (RsiDivergence) Kind() Kind   { return KindRsiDivergence }

func (PriceTarget) Discriminator() string       { return "" }
func (p VolumeThreshold) Discriminator() string { return string(p.Color) }
func (p EmaTouch) Discriminator() string        { return fmt.Sprintf("%d@%s", p.Period, p.Interval) }
func (CrossUp) Discriminator() string           { return "" }
func (p RsiDivergence) Discriminator() string {
	return fmt.Sprintf("%s@%s", p.Direction, p.Interval)
}

func (PriceTarget) sealed()     {}
func (VolumeThreshold) sealed() {}
func (EmaTouch) sealed()        {}
func (CrossUp) sealed()         {}
func (RsiDivergence) sealed()   {}

func (p PriceTarget) Validate() error {
	if !p.Target.IsPositive() {
		return fmt.Errorf("target price must be greater than zero")
	}
	return nil
}

func (p VolumeThreshold) Validate() error {
	if p.Color != Green && p.Color != Red {
		return fmt.Errorf("volume colour must be green or red")
	}
	if !p.Threshold.IsPositive() {
		return fmt.Errorf("volume threshold must be greater than zero")
	}
	return nil
}

func (p EmaTouch) Validate() error {
	if p.Period < 1 || p.Period > MaxPeriod {
		return fmt.Errorf("ema period must be between 1 and %d", MaxPeriod)
	}
	if !ValidInterval(p.Interval) {
		return fmt.Errorf("unsupported interval %q", p.Interval)
	}
	if !p.Tolerance.Auto && !p.Tolerance.Percent.IsPositive() {
		return fmt.Errorf("ema tolerance must be auto or a positive percentage")
	}
	return nil
}

func (p CrossUp) Validate() error {
	if !p.Target.IsPositive() {
		return fmt.Errorf("cross target must be greater than zero")
	}
	return nil
}

func (p RsiDivergence) Validate() error {
	if p.Direction != Bullish && p.Direction != Bearish {
		return fmt.Errorf("divergence direction must be bullish or bearish")
	}
	if !ValidInterval(p.Interval) {
		return fmt.Errorf("unsupported interval %q", p.Interval)
	}
	if p.Lookback < 3 || p.Lookback > MaxLookback {
		return fmt.Errorf("divergence lookback must be between 3 and %d candles", MaxLookback)
	}
	return nil
}

// MaxPeriod bounds EMA periods so a single candles request covers the warm-up.
const MaxPeriod = 500

// MaxLookback bounds the divergence scan window.
const MaxLookback = 500

// DecodeParams decodes the raw parameters of the given kind.
func DecodeParams(kind Kind, raw []byte) (Params, error) {
	var (
		params Params
		err    error
	)
	switch kind {
	case KindPriceTarget:
		var p PriceTarget
		err = sonic.Unmarshal(raw, &p)
		params = p
	case KindVolumeThreshold:
		var p VolumeThreshold
		err = sonic.Unmarshal(raw, &p)
		params = p
	case KindEmaTouch:
		var p EmaTouch
		err = sonic.Unmarshal(raw, &p)
		params = p
	case KindCrossUp:
		var p CrossUp
		err = sonic.Unmarshal(raw, &p)
		params = p
	case KindRsiDivergence:
		var p RsiDivergence
		err = sonic.Unmarshal(raw, &p)
		params = p
	default:
		return nil, fmt.Errorf("decode params: unknown alarm kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s params: %w", kind, err)
	}
	return params, nil
}

func describe(p Params) string {
	switch v := p.(type) {
	case PriceTarget:
		return fmt.Sprintf("price >= %s", v.Target.String())
	case VolumeThreshold:
		return fmt.Sprintf("%s volume > %s", v.Color, v.Threshold.String())
	case EmaTouch:
		return fmt.Sprintf("touches EMA%d (%s, tolerance %s)", v.Period, v.Interval, v.Tolerance.String())
	case CrossUp:
		return fmt.Sprintf("crosses up %s", v.Target.String())
	case RsiDivergence:
		return fmt.Sprintf("%s RSI divergence (%s, last %d candles)", v.Direction, v.Interval, v.Lookback)
	default:
		return "unknown alarm"
	}
}
