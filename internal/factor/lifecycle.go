package factor

import (
	"fmt"
	"math"
	"strings"

	"github.com/yourusername/furlong/internal/models"
)

var transitions = map[models.FactorStatus][]models.FactorStatus{
	models.FactorStatusDraft:      {models.FactorStatusTesting},
	models.FactorStatusTesting:    {models.FactorStatusApproved, models.FactorStatusDraft},
	models.FactorStatusApproved:   {models.FactorStatusDeprecated},
	models.FactorStatusDeprecated: {models.FactorStatusDraft},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to models.FactorStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError explains why a lifecycle change was refused.
type TransitionError struct {
	From   models.FactorStatus
	To     models.FactorStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move factor from %s to %s: %s", e.From, e.To, e.Reason)
}

// Unwrap lets callers match on models.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return models.ErrInvalidTransition
}

// Acceptance holds the thresholds a factor must meet before approval.
type Acceptance struct {
	MinBets    int
	MinROI     float64
	MinHitRate float64
}

// CheckTransition validates the edge and its guard for rule.
func CheckTransition(rule *models.FactorRule, to models.FactorStatus, reason string, acc Acceptance) error {
	from := rule.Status
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to, Reason: "not a lifecycle edge"}
	}

	switch {
	case from == models.FactorStatusDraft && to == models.FactorStatusTesting:
		if missing := incomplete(rule); missing != "" {
			return &TransitionError{From: from, To: to, Reason: "incomplete definition: " + missing}
		}
	case from == models.FactorStatusTesting && to == models.FactorStatusApproved:
		if why := acc.unmet(rule); why != "" {
			return &TransitionError{From: from, To: to, Reason: why}
		}
	case to == models.FactorStatusDeprecated, from == models.FactorStatusDeprecated:
		if strings.TrimSpace(reason) == "" {
			return &TransitionError{From: from, To: to, Reason: "a reason is required"}
		}
	}
	return nil
}

func incomplete(rule *models.FactorRule) string {
	var missing []string
	if strings.TrimSpace(rule.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(rule.Category) == "" {
		missing = append(missing, "category")
	}
	if rule.Weight == 0 || math.IsNaN(rule.Weight) || math.IsInf(rule.Weight, 0) {
		missing = append(missing, "weight")
	}
	if _, err := Compile(rule.Expression); err != nil {
		missing = append(missing, "expression")
	}
	return strings.Join(missing, ", ")
}

func (a Acceptance) unmet(rule *models.FactorRule) string {
	need := a.MinBets
	if rule.MinSampleSize > need {
		need = rule.MinSampleSize
	}
	s := rule.Stats
	if s.SampleSize < need {
		return fmt.Sprintf("sample size %d below %d", s.SampleSize, need)
	}
	if s.ROI < a.MinROI {
		return fmt.Sprintf("roi %.4f below %.4f", s.ROI, a.MinROI)
	}
	if s.HitRate < a.MinHitRate {
		return fmt.Sprintf("hit rate %.4f below %.4f", s.HitRate, a.MinHitRate)
	}
	return ""
}

// DegradationRule decides when an approved factor is no longer fit for live scoring.
type DegradationRule struct {
	Statistic string
	MinSample int
	Threshold float64
}

// Degraded reports whether stats breach the rule, with a human-readable reason.
// decay_rate degrades upward; the other statistics degrade downward.
func (d DegradationRule) Degraded(stats models.FactorStats) (bool, string) {
	if stats.SampleSize < d.MinSample {
		return false, ""
	}
	var value float64
	switch d.Statistic {
	case "roi":
		value = stats.ROI
	case "hit_rate":
		value = stats.HitRate
	case "validation_score":
		value = stats.ValidationScore
	case "decay_rate":
		if stats.DecayRate > d.Threshold {
			return true, fmt.Sprintf("decay_rate %.4f above %.4f", stats.DecayRate, d.Threshold)
		}
		return false, ""
	default:
		return false, ""
	}
	if value < d.Threshold {
		return true, fmt.Sprintf("%s %.4f below %.4f", d.Statistic, value, d.Threshold)
	}
	return false, ""
}
