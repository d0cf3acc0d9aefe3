package calibration

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/models"
)

// syntheticSamples draws outcomes from a known logistic curve.
func syntheticSamples(n int, seed int64) []Sample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Sample, n)
	for i := range out {
		score := rng.NormFloat64()
		p := 1 / (1 + math.Exp(-(1.5*score - 1)))
		out[i] = Sample{Score: score, Outcome: rng.Float64() < p}
	}
	return out
}

func assertMonotonic(t *testing.T, c Calibrator) {
	t.Helper()
	prev := -1.0
	for x := -5.0; x <= 5.0; x += 0.01 {
		p := c.Predict(x)
		require.True(t, p >= 0 && p <= 1, "prediction %v out of range at %v", p, x)
		require.GreaterOrEqual(t, p, prev, "prediction decreased at %v", x)
		prev = p
	}
}

func TestPlattRecoversCurve(t *testing.T) {
	p, err := FitPlatt(syntheticSamples(5000, 1), 100)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, p.A, 0.2)
	assert.InDelta(t, -1.0, p.B, 0.2)
	assertMonotonic(t, p)
}

func TestPlattNegativeSlopeFallsBackToIntercept(t *testing.T) {
	samples := syntheticSamples(2000, 2)
	for i := range samples {
		samples[i].Score = -samples[i].Score
	}
	p, err := FitPlatt(samples, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.A)
	assertMonotonic(t, p)
}

func TestPlattNonConvergence(t *testing.T) {
	_, err := FitPlatt(syntheticSamples(500, 3), 1)
	var ce *ConvergenceError
	assert.True(t, errors.As(err, &ce))
}

func TestIsotonicPAV(t *testing.T) {
	samples := []Sample{
		{Score: 1, Outcome: false},
		{Score: 2, Outcome: true},
		{Score: 3, Outcome: false},
		{Score: 4, Outcome: true},
		{Score: 4, Outcome: true},
	}
	m, err := FitIsotonic(samples)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2, 4}, m.Thresholds)
	assert.Equal(t, []float64{0, 0.5, 1}, m.Values)
	assert.Equal(t, 0.0, m.Predict(-10), "clipped below")
	assert.Equal(t, 0.5, m.Predict(3.5))
	assert.Equal(t, 1.0, m.Predict(99), "clipped above")
	assertMonotonic(t, m)
}

func TestIsotonicMonotonicOnNoisyData(t *testing.T) {
	m, err := FitIsotonic(syntheticSamples(3000, 4))
	require.NoError(t, err)
	assertMonotonic(t, m)
	for i := 1; i < len(m.Values); i++ {
		assert.GreaterOrEqual(t, m.Values[i], m.Values[i-1])
	}
}

func TestQualityMetrics(t *testing.T) {
	probs := []float64{0.9, 0.1, 0.8, 0.3}
	outcomes := []bool{true, false, false, true}
	assert.InDelta(t, (0.01+0.01+0.64+0.49)/4, BrierScore(probs, outcomes), 1e-12)

	perfect := ExpectedCalibrationError([]float64{0, 1}, []bool{false, true}, 10)
	assert.InDelta(t, 0, perfect, 1e-12)

	// one prediction per bucket, so ECE is the mean absolute miss
	ece := ExpectedCalibrationError(probs, outcomes, 10)
	assert.InDelta(t, (0.1+0.1+0.8+0.7)/4, ece, 1e-12)

	// two buckets: [0, 0.5) holds 0.1 and 0.3, [0.5, 1] holds 0.9 and 0.8
	ece = ExpectedCalibrationError(probs, outcomes, 2)
	assert.InDelta(t, 0.5*0.3+0.5*0.35, ece, 1e-12)
}

func TestFitSamplesInsufficientData(t *testing.T) {
	_, err := FitSamples(models.CalibrationPlatt, syntheticSamples(50, 5), Options{MinSamples: 200})
	var ide *models.InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 50, ide.Have)
	assert.Equal(t, 200, ide.Need)
}

func TestFromModelRoundTrip(t *testing.T) {
	fit, err := FitSamples(models.CalibrationIsotonic, syntheticSamples(400, 6), DefaultOptions())
	require.NoError(t, err)

	rebuilt, err := FromModel(&models.CalibrationModel{Method: models.CalibrationIsotonic, Params: fit.Calibrator.Params()})
	require.NoError(t, err)
	for _, x := range []float64{-2, -0.5, 0, 0.7, 3} {
		assert.Equal(t, fit.Calibrator.Predict(x), rebuilt.Predict(x))
	}

	_, err = FromModel(&models.CalibrationModel{Method: models.CalibrationIsotonic})
	assert.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("isotonic")
	require.NoError(t, err)
	assert.Equal(t, models.CalibrationIsotonic, m)
	_, err = ParseMethod("beta")
	assert.Error(t, err)
}
