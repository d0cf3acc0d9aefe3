package factor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourusername/furlong/internal/models"
)

func TestCanTransition(t *testing.T) {
	d, ts, a, dep := models.FactorStatusDraft, models.FactorStatusTesting, models.FactorStatusApproved, models.FactorStatusDeprecated
	assert.True(t, CanTransition(d, ts))
	assert.True(t, CanTransition(ts, a))
	assert.True(t, CanTransition(ts, d))
	assert.True(t, CanTransition(a, dep))
	assert.True(t, CanTransition(dep, d))

	assert.False(t, CanTransition(d, a))
	assert.False(t, CanTransition(a, d))
	assert.False(t, CanTransition(dep, a))
	assert.False(t, CanTransition(a, ts))
}

func TestCheckTransitionGuards(t *testing.T) {
	acc := Acceptance{MinBets: 100, MinROI: 0, MinHitRate: 0.1}
	complete := models.FactorRule{Name: "fav", Category: "market", Weight: 1, Expression: "is_favorite", Status: models.FactorStatusDraft}

	tests := []struct {
		name    string
		rule    models.FactorRule
		to      models.FactorStatus
		reason  string
		wantErr bool
	}{
		{"complete draft to testing", complete, models.FactorStatusTesting, "", false},
		{"draft missing weight", func() models.FactorRule { r := complete; r.Weight = 0; return r }(), models.FactorStatusTesting, "", true},
		{"draft bad expression", func() models.FactorRule { r := complete; r.Expression = "nope"; return r }(), models.FactorStatusTesting, "", true},
		{"approval below sample", func() models.FactorRule {
			r := complete
			r.Status = models.FactorStatusTesting
			r.Stats = models.FactorStats{SampleSize: 50, ROI: 0.1, HitRate: 0.2}
			return r
		}(), models.FactorStatusApproved, "", true},
		{"approval meets criteria", func() models.FactorRule {
			r := complete
			r.Status = models.FactorStatusTesting
			r.Stats = models.FactorStats{SampleSize: 150, ROI: 0.05, HitRate: 0.2}
			return r
		}(), models.FactorStatusApproved, "", false},
		{"rule-level min sample dominates", func() models.FactorRule {
			r := complete
			r.Status = models.FactorStatusTesting
			r.MinSampleSize = 500
			r.Stats = models.FactorStats{SampleSize: 150, ROI: 0.05, HitRate: 0.2}
			return r
		}(), models.FactorStatusApproved, "", true},
		{"deprecate needs reason", func() models.FactorRule { r := complete; r.Status = models.FactorStatusApproved; return r }(), models.FactorStatusDeprecated, "", true},
		{"deprecate with reason", func() models.FactorRule { r := complete; r.Status = models.FactorStatusApproved; return r }(), models.FactorStatusDeprecated, "manual", false},
		{"skip testing", complete, models.FactorStatusApproved, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := CheckTransition(&rule, tt.to, tt.reason, acc)
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrInvalidTransition), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDegradationRule(t *testing.T) {
	low := models.FactorStats{SampleSize: 100, ValidationScore: 0.4, DecayRate: 0.5, ROI: -0.1}

	degraded, why := DegradationRule{Statistic: "validation_score", MinSample: 50, Threshold: 0.5}.Degraded(low)
	assert.True(t, degraded)
	assert.Contains(t, why, "validation_score")

	degraded, _ = DegradationRule{Statistic: "decay_rate", Threshold: 0.3}.Degraded(low)
	assert.True(t, degraded)

	degraded, _ = DegradationRule{Statistic: "roi", MinSample: 500, Threshold: 0}.Degraded(low)
	assert.False(t, degraded, "below minimum sample is never degraded")
}
