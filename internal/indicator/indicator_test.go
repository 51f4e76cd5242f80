package indicator

import (
	"math"
	"testing"

	talib "github.com/markcheno/go-talib"
)

func sampleCloses() []float64 {
	out := make([]float64, 120)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/6) + float64(i%7)*0.3
	}
	return out
}

func TestEMAPeriodOneIsIdentity(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	got := EMA(values, 1)
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("EMA(1)[%d] = %v, want %v", i, got[i], values[i])
		}
	}
}

func TestEMAConstantSeries(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 42.5
	}
	got := EMA(values, 10)
	for i, v := range got {
		if i < 9 {
			if !math.IsNaN(v) {
				t.Fatalf("EMA[%d] should be undefined during warm-up, got %v", i, v)
			}
			continue
		}
		if math.Abs(v-42.5) > 1e-12 {
			t.Fatalf("EMA[%d] = %v, want 42.5", i, v)
		}
	}
}

func TestEMAMatchesTalib(t *testing.T) {
	closes := sampleCloses()
	for _, period := range []int{5, 20, 50} {
		got := EMA(closes, period)
		want := talib.Ema(closes, period)
		for i := period - 1; i < len(closes); i++ {
			if math.Abs(got[i]-want[i]) > 1e-9 {
				t.Fatalf("period %d index %d: got %v, talib %v", period, i, got[i], want[i])
			}
		}
	}
}

func TestEMAGapReseeds(t *testing.T) {
	values := []float64{1, 2, 3, math.NaN(), 4, 5, 6}
	got := EMA(values, 2)
	if !math.IsNaN(got[3]) || !math.IsNaN(got[4]) {
		t.Fatalf("gap should clear the average: %v", got)
	}
	if got[5] != 4.5 {
		t.Fatalf("expected reseed with mean 4.5, got %v", got[5])
	}
}

func TestLastEMAInsufficient(t *testing.T) {
	if _, err := LastEMA([]float64{1, 2, 3}, 5); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestRSIMonotonic(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = float64(i + 1)
		down[i] = float64(100 - i)
	}
	rsiUp := RSI(up, 14)
	rsiDown := RSI(down, 14)
	for i := range up {
		if i < 14 {
			if !math.IsNaN(rsiUp[i]) || !math.IsNaN(rsiDown[i]) {
				t.Fatalf("RSI[%d] should be undefined", i)
			}
			continue
		}
		if rsiUp[i] != 100 {
			t.Fatalf("rising RSI[%d] = %v, want 100", i, rsiUp[i])
		}
		if rsiDown[i] != 0 {
			t.Fatalf("falling RSI[%d] = %v, want 0", i, rsiDown[i])
		}
	}
}

func TestRSIMatchesTalib(t *testing.T) {
	closes := sampleCloses()
	got := RSI(closes, 14)
	want := talib.Rsi(closes, 14)
	for i := 14; i < len(closes); i++ {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d: got %v, talib %v", i, got[i], want[i])
		}
	}
}

func TestSwingsOnV(t *testing.T) {
	values := []float64{5, 4, 3, 2, 3, 4, 5}
	lows := SwingLows(values, 1)
	if len(lows) != 1 || lows[0] != 3 {
		t.Fatalf("expected single low at 3, got %v", lows)
	}
	if highs := SwingHighs(values, 1); len(highs) != 0 {
		t.Fatalf("expected no highs, got %v", highs)
	}
}

func TestSwingsStrictAndGaps(t *testing.T) {
	if highs := SwingHighs([]float64{1, 3, 3, 1}, 1); len(highs) != 0 {
		t.Fatalf("plateau must not be a swing, got %v", highs)
	}
	if highs := SwingHighs([]float64{1, 3, math.NaN(), 1}, 1); len(highs) != 0 {
		t.Fatalf("undefined neighbour must block a swing, got %v", highs)
	}
}

func TestFindDivergenceBearish(t *testing.T) {
	prices := []float64{1, 5, 1, 1, 7, 1, 1}
	rsi := []float64{50, 70, 50, 50, 60, 50, 50}
	div, ok := FindDivergence(Bearish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50})
	if !ok {
		t.Fatal("expected bearish divergence")
	}
	if div.Index1 != 1 || div.Index2 != 4 || div.RSI2 != 60 {
		t.Fatalf("unexpected divergence %+v", div)
	}
	if _, ok := FindDivergence(Bullish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50}); ok {
		t.Fatal("no bullish divergence expected")
	}
}

func TestFindDivergenceMostRecentWins(t *testing.T) {
	prices := []float64{1, 5, 1, 1, 7, 1, 1, 9, 1, 1, 11, 1}
	rsi := []float64{50, 70, 50, 50, 60, 50, 50, 80, 50, 50, 75, 50}
	div, ok := FindDivergence(Bearish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50})
	if !ok {
		t.Fatal("expected divergence")
	}
	if div.Index2 != 10 || div.Index1 != 7 {
		t.Fatalf("expected newest pair (7,10), got (%d,%d)", div.Index1, div.Index2)
	}
}

func TestFindDivergenceBullishAndLookback(t *testing.T) {
	prices := []float64{9, 5, 9, 9, 3, 9, 9}
	rsi := []float64{50, 30, 50, 50, 40, 50, 50}
	div, ok := FindDivergence(Bullish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50})
	if !ok || div.Index1 != 1 || div.Index2 != 4 {
		t.Fatalf("expected bullish divergence (1,4), got %+v ok=%v", div, ok)
	}
	if _, ok := FindDivergence(Bullish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 4}); ok {
		t.Fatal("first swing lies outside the lookback")
	}
}

func TestFindDivergenceTolerance(t *testing.T) {
	prices := []float64{1, 1, 5, 1, 1, 1, 7, 1}
	rsi := []float64{50, 70, 50, 50, 50, 60, 50, 50}
	if _, ok := FindDivergence(Bearish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50}); ok {
		t.Fatal("RSI swings one candle early must not align with zero tolerance")
	}
	div, ok := FindDivergence(Bearish, prices, rsi, DivergenceOptions{Window: 1, Lookback: 50, Tolerance: 1})
	if !ok || div.Index2 != 6 || div.RSI1 != 70 {
		t.Fatalf("expected aligned divergence, got %+v ok=%v", div, ok)
	}
}

func TestSwingPricesFallback(t *testing.T) {
	closes := []float64{1, 2, 3}
	highs := []float64{1.5, math.NaN(), 3.5}
	got := SwingPrices(Bearish, highs, nil, closes)
	if got[0] != 1.5 || got[1] != 2 || got[2] != 3.5 {
		t.Fatalf("unexpected swing prices %v", got)
	}
	got = SwingPrices(Bullish, highs, nil, closes)
	if got[0] != 1 || got[2] != 3 {
		t.Fatalf("missing lows should fall back to closes: %v", got)
	}
}
