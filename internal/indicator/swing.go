package indicator

import "math"

// SwingHighs returns, in ascending order, the indices whose value strictly
// exceeds every value within window positions on both sides.
func SwingHighs(values []float64, window int) []int {
	return swings(values, window, func(center, neighbour float64) bool { return center > neighbour })
}

// SwingLows is the mirror of SwingHighs.
func SwingLows(values []float64, window int) []int {
	return swings(values, window, func(center, neighbour float64) bool { return center < neighbour })
}

func swings(values []float64, window int, beats func(center, neighbour float64) bool) []int {
	if window < 1 {
		window = 1
	}
	var idx []int
	for i := window; i+window < len(values); i++ {
		center := values[i]
		if math.IsNaN(center) {
			continue
		}
		ok := true
		for j := i - window; j <= i+window && ok; j++ {
			if j == i {
				continue
			}
			if math.IsNaN(values[j]) || !beats(center, values[j]) {
				ok = false
			}
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}
