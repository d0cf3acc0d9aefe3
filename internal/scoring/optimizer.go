package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/models"
)

// OptimizerOptions controls factor weight fitting.
type OptimizerOptions struct {
	// Regularization is the inverse L2 strength; larger means weaker
	Regularization float64
	// TargetPosition counts a finish at or inside this position as a hit
	TargetPosition int
	MaxWeight      float64
	MinWeight      float64
	MinPositives   int
	MaxIterations  int
}

// DefaultOptimizerOptions returns win-targeted settings with weights in [0.1, 3].
func DefaultOptimizerOptions() OptimizerOptions {
	return OptimizerOptions{
		Regularization: 1,
		TargetPosition: 1,
		MaxWeight:      3,
		MinWeight:      0.1,
		MinPositives:   10,
		MaxIterations:  100,
	}
}

// WeightFit is a proposed weight per rule from a class-balanced logistic
// regression of finishing outcome on the rules' unweighted values.
type WeightFit struct {
	Weights      map[string]float64 `json:"weights"`
	Current      map[string]float64 `json:"current_weights"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
	Accuracy     float64            `json:"accuracy"`
	LogLoss      float64            `json:"log_loss"`
	Samples      int                `json:"samples"`
	Positives    int                `json:"positives"`
	From         time.Time          `json:"from"`
	To           time.Time          `json:"to"`
}

// OptimizeWeights evaluates rules on every runner of races and fits one
// coefficient per rule. Proposed weights are the coefficients' magnitudes
// scaled so the largest equals MaxWeight, floored at MinWeight.
func (e *Engine) OptimizeWeights(ctx context.Context, rules []models.FactorRule, races []models.HistoricalRace, opts OptimizerOptions) (*WeightFit, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no factor rules to optimise")
	}
	if opts.TargetPosition < 1 {
		opts.TargetPosition = 1
	}
	if opts.Regularization <= 0 {
		return nil, fmt.Errorf("regularization must be positive")
	}

	names := make([]string, len(rules))
	unit := make([]models.FactorRule, len(rules))
	current := make(map[string]float64, len(rules))
	for i, r := range rules {
		names[i] = r.Name
		current[r.Name] = r.Weight
		unit[i] = r
		unit[i].Weight = 1
	}

	var (
		x        [][]float64
		y        []bool
		from, to time.Time
	)
	for i := range races {
		hr := &races[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := e.RawScores(ctx, &hr.Race, unit)
		if err != nil {
			return nil, fmt.Errorf("failed to score race %s: %w", hr.Race.ID, err)
		}
		for _, rs := range raw {
			row := make([]float64, len(names))
			for j, name := range names {
				row[j] = rs.Contributions[name]
			}
			pos, ok := hr.Result.PositionOf(rs.RunnerID)
			x = append(x, row)
			y = append(y, ok && pos <= opts.TargetPosition)
		}
		start := hr.Race.ScheduledStart
		if from.IsZero() || start.Before(from) {
			from = start
		}
		if start.After(to) {
			to = start
		}
	}

	positives := 0
	for _, hit := range y {
		if hit {
			positives++
		}
	}
	if have := min(positives, len(y)-positives); have < max(opts.MinPositives, 1) {
		return nil, &models.InsufficientDataError{What: "weight optimisation", Have: have, Need: max(opts.MinPositives, 1)}
	}

	coef, intercept := fitLogistic(x, y, 1/opts.Regularization, opts.MaxIterations)

	fit := &WeightFit{
		Weights:      normaliseWeights(names, coef, opts.MaxWeight, opts.MinWeight),
		Current:      current,
		Coefficients: make(map[string]float64, len(names)),
		Intercept:    intercept,
		Samples:      len(y),
		Positives:    positives,
		From:         from,
		To:           to,
	}
	for j, name := range names {
		fit.Coefficients[name] = coef[j]
	}

	var correct int
	for i, row := range x {
		p := sigmoid(dot(coef, row) + intercept)
		if (p >= 0.5) == y[i] {
			correct++
		}
		fit.LogLoss -= logLikelihood(p, y[i])
	}
	fit.Accuracy = float64(correct) / float64(len(y))
	fit.LogLoss /= float64(len(y))

	e.log.WithFields(logrus.Fields{
		"samples":   fit.Samples,
		"positives": fit.Positives,
		"factors":   len(names),
		"accuracy":  fit.Accuracy,
		"log_loss":  fit.LogLoss,
	}).Info("Factor weights optimised")
	return fit, nil
}

// Changed lists the rules whose proposed weight differs from the current one
// by at least minDelta, sorted by name.
func (f *WeightFit) Changed(minDelta float64) []string {
	var out []string
	for name, w := range f.Weights {
		if math.Abs(w-f.Current[name]) >= minDelta {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// WeightUpdater stores a fitted weight with the period it was fitted on
type WeightUpdater interface {
	RetrainWeight(ctx context.Context, id uuid.UUID, weight float64, from, to time.Time, reason, changedBy string) (*models.FactorRule, error)
}

// ApplyWeights writes the proposed weights of fit that moved by at least
// minDelta back to the matching rules.
func ApplyWeights(ctx context.Context, updater WeightUpdater, rules []models.FactorRule, fit *WeightFit, minDelta float64, changedBy string) ([]*models.FactorRule, error) {
	var updated []*models.FactorRule
	for _, r := range rules {
		w, ok := fit.Weights[r.Name]
		if !ok || math.Abs(w-r.Weight) < minDelta {
			continue
		}
		reason := fmt.Sprintf("optimised %.2f -> %.2f on %s..%s", r.Weight, w,
			fit.From.Format("2006-01-02"), fit.To.Format("2006-01-02"))
		rule, err := updater.RetrainWeight(ctx, r.ID, w, fit.From, fit.To, reason, changedBy)
		if err != nil {
			return updated, fmt.Errorf("failed to apply weight to %s: %w", r.Name, err)
		}
		updated = append(updated, rule)
	}
	return updated, nil
}

func normaliseWeights(names []string, coef []float64, maxWeight, minWeight float64) map[string]float64 {
	var largest float64
	for _, c := range coef {
		largest = math.Max(largest, math.Abs(c))
	}
	if largest == 0 {
		largest = 1
	}
	out := make(map[string]float64, len(names))
	for j, name := range names {
		w := math.Max(minWeight, math.Abs(coef[j])/largest*maxWeight)
		out[name] = math.Round(w*100) / 100
	}
	return out
}

// fitLogistic minimises the class-balanced log loss plus lambda/2·‖coef‖²
// by Newton's method with backtracking. The intercept is not penalised.
func fitLogistic(x [][]float64, y []bool, lambda float64, maxIter int) ([]float64, float64) {
	n, k := len(x), len(x[0])
	var pos float64
	for _, hit := range y {
		if hit {
			pos++
		}
	}
	wPos, wNeg := float64(n)/(2*pos), float64(n)/(2*(float64(n)-pos))
	sw := func(i int) float64 {
		if y[i] {
			return wPos
		}
		return wNeg
	}

	theta := make([]float64, k+1) // coefficients then intercept
	loss := func(t []float64) float64 {
		var l float64
		for i, row := range x {
			l -= sw(i) * logLikelihood(sigmoid(dot(t[:k], row)+t[k]), y[i])
		}
		for j := 0; j < k; j++ {
			l += lambda / 2 * t[j] * t[j]
		}
		return l
	}
	current := loss(theta)

	for iter := 0; iter < maxIter; iter++ {
		grad := make([]float64, k+1)
		hess := make([][]float64, k+1)
		for j := range hess {
			hess[j] = make([]float64, k+1)
		}
		for i, row := range x {
			p := sigmoid(dot(theta[:k], row) + theta[k])
			d := sw(i) * (p - boolFloat(y[i]))
			h := sw(i) * p * (1 - p)
			for a := 0; a <= k; a++ {
				xa := feature(row, a)
				grad[a] += d * xa
				for b := a; b <= k; b++ {
					hess[a][b] += h * xa * feature(row, b)
				}
			}
		}
		for a := 0; a <= k; a++ {
			if a < k {
				grad[a] += lambda * theta[a]
				hess[a][a] += lambda
			}
			hess[a][a] += 1e-9
			for b := 0; b < a; b++ {
				hess[a][b] = hess[b][a]
			}
		}
		if norm(grad) < 1e-8*float64(n) {
			break
		}

		step, ok := solveLinear(hess, grad)
		if !ok {
			break
		}
		t := 1.0
		improved := false
		for t > 1e-10 {
			next := make([]float64, k+1)
			for j := range next {
				next[j] = theta[j] - t*step[j]
			}
			if l := loss(next); l < current {
				theta, current, improved = next, l, true
				break
			}
			t /= 2
		}
		if !improved {
			break
		}
	}
	return theta[:k], theta[k]
}

// solveLinear solves a·s = b by Gaussian elimination with partial pivoting.
func solveLinear(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-15 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	s := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		v := m[r][n]
		for c := r + 1; c < n; c++ {
			v -= m[r][c] * s[c]
		}
		s[r] = v / m[r][r]
	}
	return s, true
}

// feature returns column a of row, with the intercept column as 1
func feature(row []float64, a int) float64 {
	if a == len(row) {
		return 1
	}
	return row[a]
}

func logLikelihood(p float64, hit bool) float64 {
	const eps = 1e-15
	p = math.Min(math.Max(p, eps), 1-eps)
	if hit {
		return math.Log(p)
	}
	return math.Log(1 - p)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
