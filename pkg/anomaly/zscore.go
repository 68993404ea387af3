// Package anomaly scores how far the latest sample of a series sits from
// its recent mean, and decides when a monitor should raise an alarm.
package anomaly

import "math"

// ZScore returns the standard score of the last sample against the mean
// of all samples, using the population variance. It is undefined (ok is
// false) for fewer than two samples and exactly 0 when every sample is
// equal.
func ZScore(samples []float64) (score float64, ok bool) {
	k := len(samples)
	if k < 2 {
		return 0, false
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(k)

	var sumSquares float64
	for _, s := range samples {
		diff := s - mean
		sumSquares += diff * diff
	}
	stdDev := math.Sqrt(sumSquares / float64(k))

	if stdDev == 0 {
		return 0.0, true
	}
	return (samples[k-1] - mean) / stdDev, true
}

// WaterAlarm fires when the pH score deviates beyond threshold in either
// direction.
func WaterAlarm(score, threshold float64) bool {
	return math.Abs(score) > threshold
}

// StockAlarm fires when both fish-count scores stay inside threshold: the
// counts are flat and low, so the pond needs restocking. Note this is the
// opposite sense of WaterAlarm.
func StockAlarm(camera, sonar, threshold float64) bool {
	return math.Max(math.Abs(camera), math.Abs(sonar)) < threshold
}
