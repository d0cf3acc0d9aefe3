package strategy

import (
	"sort"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/models"
)

// Decision pairs a candidate with the strategy's evaluation
type Decision struct {
	Candidate  Candidate
	Evaluation Evaluation
}

// BuildCandidates turns a race's scores into candidates for the requested bet
// types, ordered by runner number then bet type. WIN uses the calibrated
// probability directly. PLACE uses the Harville top-k probability over the
// field's normalised win probabilities and is only offered when the field
// pays places.
func BuildCandidates(race *models.Race, scores []*models.RunnerScore, betTypes []models.BetType) []Candidate {
	byRunner := make(map[uuid.UUID]*models.RunnerScore, len(scores))
	for _, s := range scores {
		byRunner[s.RunnerID] = s
	}

	runners := race.ActiveRunners()
	places := models.PlacesPaid(len(runners))

	var winProbs []float64
	index := make(map[uuid.UUID]int, len(runners))
	var total float64
	for _, rn := range runners {
		s, ok := byRunner[rn.ID]
		if !ok {
			continue
		}
		index[rn.ID] = len(winProbs)
		p := NormalizeProbability(s.Probability)
		winProbs = append(winProbs, p)
		total += p
	}
	if total > 0 {
		for i := range winProbs {
			winProbs[i] /= total
		}
	}

	var out []Candidate
	for _, rn := range runners {
		s, ok := byRunner[rn.ID]
		if !ok {
			continue
		}
		for _, bt := range betTypes {
			c := Candidate{Race: race, Runner: rn, BetType: bt, Score: s, Odds: rn.OddsFor(bt)}
			switch bt {
			case models.BetTypeWin:
				c.Probability = s.Probability
			case models.BetTypePlace:
				if places == 0 || total <= 0 {
					continue
				}
				c.Probability = PlaceProbability(winProbs, index[rn.ID], places)
			default:
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// EvaluateAll runs the strategy over every candidate in order
func EvaluateAll(s Strategy, candidates []Candidate) []Decision {
	out := make([]Decision, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Decision{Candidate: c, Evaluation: s.Evaluate(c)})
	}
	return out
}

// Accepted filters decisions to the accepted ones, highest EV first. Every
// qualifying runner is kept.
func Accepted(decisions []Decision) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Evaluation.Accepted {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Evaluation.EV > out[j].Evaluation.EV })
	return out
}

// PlaceProbability returns the Harville probability that runner i finishes in
// the first k positions, given win probabilities that sum to one.
func PlaceProbability(winProbs []float64, i, k int) float64 {
	if i < 0 || i >= len(winProbs) || k <= 0 {
		return 0
	}
	if k > len(winProbs) {
		k = len(winProbs)
	}
	used := make([]bool, len(winProbs))
	return NormalizeProbability(harville(winProbs, used, i, k, 1, 1))
}

// harville sums the probability of i finishing at or before depth k over
// every ordering of the runners placed ahead of it.
func harville(p []float64, used []bool, i, k int, remaining, weight float64) float64 {
	if remaining <= 0 {
		return 0
	}
	total := weight * p[i] / remaining
	if k == 1 {
		return total
	}
	for j := range p {
		if j == i || used[j] || p[j] <= 0 {
			continue
		}
		used[j] = true
		total += harville(p, used, i, k-1, remaining-p[j], weight*p[j]/remaining)
		used[j] = false
	}
	return total
}
