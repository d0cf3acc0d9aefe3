package calibration

import "math"

// BrierScore is the mean squared error between probabilities and outcomes.
func BrierScore(probs []float64, outcomes []bool) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for i, p := range probs {
		y := 0.0
		if outcomes[i] {
			y = 1
		}
		sum += (p - y) * (p - y)
	}
	return sum / float64(len(probs))
}

// ExpectedCalibrationError bins predictions into equal-width buckets over
// [0, 1] and averages |mean predicted - observed rate| weighted by bucket size.
func ExpectedCalibrationError(probs []float64, outcomes []bool, bins int) float64 {
	if len(probs) == 0 || bins <= 0 {
		return 0
	}
	count := make([]float64, bins)
	predSum := make([]float64, bins)
	hitSum := make([]float64, bins)

	for i, p := range probs {
		b := int(math.Floor(p * float64(bins)))
		if b >= bins {
			b = bins - 1
		}
		if b < 0 {
			b = 0
		}
		count[b]++
		predSum[b] += p
		if outcomes[i] {
			hitSum[b]++
		}
	}

	var ece float64
	n := float64(len(probs))
	for b := 0; b < bins; b++ {
		if count[b] == 0 {
			continue
		}
		ece += count[b] / n * math.Abs(predSum[b]/count[b]-hitSum[b]/count[b])
	}
	return ece
}
