// Package indicator holds the pure series math behind alarm evaluation.
// Undefined positions are NaN; every output has the length of its input.
package indicator

import (
	"errors"
	"math"
)

// ErrInsufficientData means a series is too short for the requested indicator.
var ErrInsufficientData = errors.New("insufficient data for indicator")

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA returns the exponential moving average seeded with a simple average.
// A gap in the input clears the average; it is reseeded after period
// consecutive defined values.
func EMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period < 1 {
		return out
	}
	k := 2.0 / float64(period+1)
	prev := math.NaN()
	run := 0
	for i, v := range values {
		if math.IsNaN(v) {
			prev = math.NaN()
			run = 0
			continue
		}
		run++
		switch {
		case !math.IsNaN(prev):
			prev = v*k + prev*(1-k)
		case run >= period:
			sum := 0.0
			for _, s := range values[i-period+1 : i+1] {
				sum += s
			}
			prev = sum / float64(period)
		default:
			continue
		}
		out[i] = prev
	}
	return out
}

// Last returns the final defined value of a series.
func Last(series []float64) (float64, error) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i], nil
		}
	}
	return math.NaN(), ErrInsufficientData
}

// LastEMA is EMA followed by Last, requiring the final input to be covered.
func LastEMA(values []float64, period int) (float64, error) {
	if period < 1 || len(values) < period {
		return math.NaN(), ErrInsufficientData
	}
	ema := EMA(values, period)
	v := ema[len(ema)-1]
	if math.IsNaN(v) {
		return v, ErrInsufficientData
	}
	return v, nil
}

// RSI computes Wilder's relative strength index. The first period deltas
// seed simple average gain and loss; later averages are smoothed as
// (avg*(period-1)+current)/period. A zero average loss yields 100.
func RSI(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period < 1 {
		return out
	}
	var (
		avgGain, avgLoss float64
		deltas           int
	)
	for i := 1; i < len(values); i++ {
		cur, prev := values[i], values[i-1]
		if math.IsNaN(cur) || math.IsNaN(prev) {
			deltas, avgGain, avgLoss = 0, 0, 0
			continue
		}
		gain, loss := 0.0, 0.0
		if d := cur - prev; d > 0 {
			gain = d
		} else {
			loss = -d
		}
		deltas++
		switch {
		case deltas < period:
			avgGain += gain
			avgLoss += loss
			continue
		case deltas == period:
			avgGain = (avgGain + gain) / float64(period)
			avgLoss = (avgLoss + loss) / float64(period)
		default:
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
