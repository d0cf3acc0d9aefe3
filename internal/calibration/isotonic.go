package calibration

import (
	"fmt"
	"sort"

	"github.com/yourusername/furlong/internal/models"
)

// Isotonic is a non-decreasing step function. Values[i] applies from
// Thresholds[i] up to the next threshold; scores outside the fitted range
// are clipped to the first and last step.
type Isotonic struct {
	Thresholds []float64
	Values     []float64
}

// Predict implements Calibrator.
func (m *Isotonic) Predict(raw float64) float64 {
	i := sort.SearchFloat64s(m.Thresholds, raw)
	if i < len(m.Thresholds) && m.Thresholds[i] == raw {
		return m.Values[i]
	}
	if i == 0 {
		return m.Values[0]
	}
	return m.Values[i-1]
}

// Method implements Calibrator.
func (m *Isotonic) Method() models.CalibrationMethod {
	return models.CalibrationIsotonic
}

// Params implements Calibrator.
func (m *Isotonic) Params() models.CalibrationParams {
	return models.CalibrationParams{Thresholds: m.Thresholds, Values: m.Values}
}

type block struct {
	lo     float64
	sum    float64
	weight float64
}

func (b block) mean() float64 { return b.sum / b.weight }

// FitIsotonic runs pool-adjacent-violators over score-sorted samples. Equal
// scores are pooled before fitting so ties always share one value.
func FitIsotonic(samples []Sample) (*Isotonic, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("isotonic fit needs at least one sample")
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })

	var blocks []block
	for _, s := range sorted {
		y := 0.0
		if s.Outcome {
			y = 1
		}
		if n := len(blocks); n > 0 && blocks[n-1].lo == s.Score {
			blocks[n-1].sum += y
			blocks[n-1].weight++
			continue
		}
		blocks = append(blocks, block{lo: s.Score, sum: y, weight: 1})
	}

	stack := make([]block, 0, len(blocks))
	for _, b := range blocks {
		stack = append(stack, b)
		for len(stack) > 1 {
			n := len(stack)
			prev, cur := stack[n-2], stack[n-1]
			if prev.mean() <= cur.mean() {
				break
			}
			stack[n-2] = block{lo: prev.lo, sum: prev.sum + cur.sum, weight: prev.weight + cur.weight}
			stack = stack[:n-1]
		}
	}

	m := &Isotonic{
		Thresholds: make([]float64, len(stack)),
		Values:     make([]float64, len(stack)),
	}
	for i, b := range stack {
		m.Thresholds[i] = b.lo
		m.Values[i] = b.mean()
	}
	return m, nil
}
