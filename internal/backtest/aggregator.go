package backtest

import (
	"math"
)

// Recommendations
const (
	RecommendAccept = "ACCEPT"
	RecommendReview = "NEEDS_REVIEW"
	RecommendReject = "REJECT"
)

// Assessment condenses replay, walk-forward and Monte Carlo results into one
// score and a recommendation for the factor set under test
type Assessment struct {
	CompositeScore float64 `json:"composite_score"`
	Recommendation string  `json:"recommendation"`
}

// Assess scores a report. Walk-forward and Monte Carlo sections are optional.
func Assess(replay KPIs, walkForward *WalkForwardResult, monteCarlo *MonteCarloResult) Assessment {
	score := CalculateCompositeScore(replay)
	consistency := 1.0
	oosROI := replay.ROI
	if walkForward != nil && walkForward.Evaluated > 0 {
		score = 0.6*score + 0.4*CalculateCompositeScore(walkForward.OutOfSample)
		consistency = walkForward.ConsistencyScore
		oosROI = walkForward.OutOfSample.ROI
	}
	ruin := 0.0
	if monteCarlo != nil {
		ruin = monteCarlo.ProbabilityOfRuin
	}
	return Assessment{
		CompositeScore: score,
		Recommendation: GenerateRecommendation(score, consistency, replay.ROI, oosROI, ruin),
	}
}

// CalculateCompositeScore blends the KPIs into [0, 1]
func CalculateCompositeScore(k KPIs) float64 {
	sharpeScore := normalize(k.SharpeRatio, -2, 3)
	roiScore := normalize(k.ROI, -0.5, 0.5)
	profitFactorScore := normalize(k.ProfitFactor, 0, 3)
	drawdownPenalty := 1.0 - normalize(k.MaxDrawdown, 0, 0.5)
	hitRateScore := normalize(k.HitRate, 0, 1)

	weighted := 0.0
	weighted += sharpeScore * 0.30
	weighted += roiScore * 0.20
	weighted += profitFactorScore * 0.20
	weighted += drawdownPenalty * 0.15
	weighted += hitRateScore * 0.15
	return weighted
}

// GenerateRecommendation determines if the factor set is acceptable
func GenerateRecommendation(score, consistency, replayROI, outOfSampleROI, ruin float64) string {
	if score > 0.7 && replayROI > 0 && outOfSampleROI > 0 && consistency > 0.6 && ruin < 0.01 {
		return RecommendAccept
	}
	if score < 0.4 || replayROI < 0 || outOfSampleROI < 0 || consistency < 0.4 || ruin > 0.05 {
		return RecommendReject
	}
	return RecommendReview
}

func normalize(value, min, max float64) float64 {
	if max-min == 0 {
		return 0
	}
	v := (value - min) / (max - min)
	return math.Max(0, math.Min(1, v))
}
