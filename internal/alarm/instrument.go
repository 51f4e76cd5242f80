package alarm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Venue names the upstream that prices an instrument.
type Venue string

const (
	// VenueBinance covers spot pairs listed on the exchange.
	VenueBinance Venue = "binance"
	// VenueChart covers generic tickers and futures proxies from the chart provider.
	VenueChart Venue = "chart"
	// VenueChainlink covers on-chain price feeds addressed by contract.
	VenueChainlink Venue = "chainlink"
)

// Instrument is a user-supplied symbol together with its resolution.
type Instrument struct {
	Raw    string `json:"raw"`
	Venue  Venue  `json:"venue"`
	Symbol string `json:"symbol"`
}

// Key is the canonical, venue-qualified symbol.
func (i Instrument) Key() string {
	return string(i.Venue) + ":" + i.Symbol
}

func (i Instrument) String() string {
	return i.Key()
}

var intervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d"}

// Intervals returns the supported candle intervals.
func Intervals() []string {
	return slices.Clone(intervals)
}

// ValidInterval reports whether the interval is supported.
func ValidInterval(s string) bool {
	return slices.Contains(intervals, s)
}

// Tolerance controls how close a quote must be to count as an EMA touch.
// Auto uses the instrument's tick size; otherwise Percent of the EMA value.
type Tolerance struct {
	Auto    bool
	Percent decimal.Decimal
}

// AutoTolerance is the tick-size tolerance.
var AutoTolerance = Tolerance{Auto: true}

// ParseTolerance accepts "auto" or a percentage like "0.5" or "0.5%".
func ParseTolerance(s string) (Tolerance, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return AutoTolerance, nil
	}
	pct, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
	if err != nil {
		return Tolerance{}, fmt.Errorf("parse tolerance %q: %w", s, err)
	}
	if !pct.IsPositive() {
		return Tolerance{}, fmt.Errorf("tolerance must be positive")
	}
	return Tolerance{Percent: pct}, nil
}

func (t Tolerance) String() string {
	if t.Auto {
		return "auto"
	}
	return t.Percent.String() + "%"
}

// MarshalJSON encodes the tolerance as "auto" or the percentage string.
func (t Tolerance) MarshalJSON() ([]byte, error) {
	if t.Auto {
		return sonic.Marshal("auto")
	}
	return sonic.Marshal(t.Percent.String())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Tolerance) UnmarshalJSON(data []byte) error {
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal tolerance: %w", err)
	}
	parsed, err := ParseTolerance(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
