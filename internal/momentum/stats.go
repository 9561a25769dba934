package momentum

import "math"

// Welford accumulates a running mean and sum of squared deviations in one pass.
type Welford struct {
	Count int
	mean  float64
	m2    float64
}

// Add folds x into the accumulator.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.mean
	w.mean += delta / float64(w.Count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

// Mean returns the running mean, 0 when empty.
func (w *Welford) Mean() float64 {
	return w.mean
}

// PopulationStdDev returns σ over every value added. Fewer than two values give 0.
func (w *Welford) PopulationStdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.Count))
}

func accumulate(values []float64) Welford {
	var w Welford
	for _, v := range values {
		w.Add(v)
	}
	return w
}

// Mean is the arithmetic mean, 0 for an empty slice.
// It sums directly so integer-valued inputs give the same result in any order.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationStdDev is the population standard deviation of values.
func PopulationStdDev(values []float64) float64 {
	w := accumulate(values)
	return w.PopulationStdDev()
}

// Streak counts the run of most-recent-first values on the same side of line.
// Positive is an over run, negative an under run, 0 when the latest value sits on the line.
func Streak(values []float64, line float64) int {
	if len(values) == 0 {
		return 0
	}
	dir := 0
	switch {
	case values[0] > line:
		dir = 1
	case values[0] < line:
		dir = -1
	default:
		return 0
	}
	streak := 0
	for _, v := range values {
		if (dir > 0 && v > line) || (dir < 0 && v < line) {
			streak += dir
			continue
		}
		break
	}
	return streak
}

// HitRate is the fraction of values strictly above line, 0 when there are none.
func HitRate(values []float64, line float64) float64 {
	if len(values) == 0 {
		return 0
	}
	hits := 0
	for _, v := range values {
		if v > line {
			hits++
		}
	}
	return float64(hits) / float64(len(values))
}

// Round1 rounds to one decimal place.
func Round1(x float64) float64 { return math.Round(x*10) / 10 }

// Round2 rounds to two decimal places.
func Round2(x float64) float64 { return math.Round(x*100) / 100 }
