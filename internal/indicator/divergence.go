package indicator

import "math"

// Direction is the orientation of a divergence.
type Direction string

const (
	// Bullish compares swing lows: lower price low, higher RSI low.
	Bullish Direction = "bullish"
	// Bearish compares swing highs: higher price high, lower RSI high.
	Bearish Direction = "bearish"
)

// DivergenceOptions bound the divergence scan.
type DivergenceOptions struct {
	// Window is the swing half-width.
	Window int
	// Lookback limits the scan to the most recent candles.
	Lookback int
	// Tolerance is how many candles an RSI swing may precede its price swing.
	Tolerance int
}

// Divergence is a matched pair of price swings with disagreeing RSI swings.
type Divergence struct {
	Direction Direction
	Index1    int
	Index2    int
	Price1    float64
	Price2    float64
	RSI1      float64
	RSI2      float64
}

// FindDivergence reports the most recent divergence of the given direction.
// Price swings are scanned from the newest backwards and the first match wins.
func FindDivergence(dir Direction, prices, rsi []float64, opts DivergenceOptions) (Divergence, bool) {
	if len(prices) != len(rsi) || len(prices) == 0 {
		return Divergence{}, false
	}
	window := opts.Window
	if window < 1 {
		window = 1
	}

	var priceSwings, rsiSwings []int
	var diverges func(p1, p2, r1, r2 float64) bool
	switch dir {
	case Bearish:
		priceSwings = SwingHighs(prices, window)
		rsiSwings = SwingHighs(rsi, window)
		diverges = func(p1, p2, r1, r2 float64) bool { return p2 > p1 && r2 < r1 }
	case Bullish:
		priceSwings = SwingLows(prices, window)
		rsiSwings = SwingLows(rsi, window)
		diverges = func(p1, p2, r1, r2 float64) bool { return p2 < p1 && r2 > r1 }
	default:
		return Divergence{}, false
	}

	start := 0
	if opts.Lookback > 0 && len(prices) > opts.Lookback {
		start = len(prices) - opts.Lookback
	}

	for j := len(priceSwings) - 1; j > 0; j-- {
		i2 := priceSwings[j]
		if i2 < start {
			break
		}
		r2, ok := nearestAtOrBefore(rsiSwings, i2, opts.Tolerance)
		if !ok {
			continue
		}
		for m := j - 1; m >= 0; m-- {
			i1 := priceSwings[m]
			if i1 < start {
				break
			}
			r1, ok := nearestAtOrBefore(rsiSwings, i1, opts.Tolerance)
			if !ok || r1 == r2 {
				continue
			}
			if diverges(prices[i1], prices[i2], rsi[r1], rsi[r2]) {
				return Divergence{
					Direction: dir,
					Index1:    i1,
					Index2:    i2,
					Price1:    prices[i1],
					Price2:    prices[i2],
					RSI1:      rsi[r1],
					RSI2:      rsi[r2],
				}, true
			}
		}
	}
	return Divergence{}, false
}

func nearestAtOrBefore(swings []int, idx, tolerance int) (int, bool) {
	for k := len(swings) - 1; k >= 0; k-- {
		s := swings[k]
		if s > idx {
			continue
		}
		if idx-s <= tolerance {
			return s, true
		}
		return 0, false
	}
	return 0, false
}

// SwingPrices picks the series divergence is measured on: highs for bearish
// and lows for bullish, falling back to closes where the extreme is missing.
func SwingPrices(dir Direction, highs, lows, closes []float64) []float64 {
	src := lows
	if dir == Bearish {
		src = highs
	}
	out := make([]float64, len(closes))
	for i := range closes {
		v := math.NaN()
		if i < len(src) {
			v = src[i]
		}
		if math.IsNaN(v) {
			v = closes[i]
		}
		out[i] = v
	}
	return out
}
