package calibration

import (
	"math"

	"github.com/yourusername/furlong/internal/models"
)

// Platt is the logistic map p = 1 / (1 + exp(-(A*s + B))) with A >= 0.
type Platt struct {
	A float64
	B float64
}

// Predict implements Calibrator.
func (p *Platt) Predict(raw float64) float64 {
	return sigmoid(p.A*raw + p.B)
}

// Method implements Calibrator.
func (p *Platt) Method() models.CalibrationMethod {
	return models.CalibrationPlatt
}

// Params implements Calibrator.
func (p *Platt) Params() models.CalibrationParams {
	return models.CalibrationParams{A: p.A, B: p.B}
}

const (
	plattTolerance = 1e-7
	plattRidge     = 1e-12
	minStep        = 1e-10
)

// FitPlatt fits A and B by Newton's method with backtracking on the
// prior-smoothed targets of Platt (2000). A negative slope would make the
// map decreasing, so it is replaced by the intercept-only maximum likelihood fit.
func FitPlatt(samples []Sample, maxIter int) (*Platt, error) {
	if maxIter <= 0 {
		maxIter = 100
	}

	var pos, neg float64
	for _, s := range samples {
		if s.Outcome {
			pos++
		} else {
			neg++
		}
	}
	hi := (pos + 1) / (pos + 2)
	lo := 1 / (neg + 2)

	scores := make([]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = s.Score
		if s.Outcome {
			targets[i] = hi
		} else {
			targets[i] = lo
		}
	}

	a, b := 0.0, math.Log((pos+1)/(neg+1))
	loss := plattLoss(scores, targets, a, b)

	var gradNorm float64
	for iter := 0; iter < maxIter; iter++ {
		var ga, gb, haa, hab, hbb float64
		for i, s := range scores {
			p := sigmoid(a*s + b)
			d := p - targets[i]
			w := p * (1 - p)
			ga += d * s
			gb += d
			haa += w * s * s
			hab += w * s
			hbb += w
		}
		gradNorm = math.Hypot(ga, gb)
		if gradNorm < plattTolerance*float64(len(scores)) {
			return constrain(a, b, targets), nil
		}

		haa += plattRidge
		hbb += plattRidge
		det := haa*hbb - hab*hab
		if det <= 0 {
			break
		}
		da := -(hbb*ga - hab*gb) / det
		db := -(haa*gb - hab*ga) / det
		slope := ga*da + gb*db

		step := 1.0
		for step >= minStep {
			na, nb := a+step*da, b+step*db
			nl := plattLoss(scores, targets, na, nb)
			if nl <= loss+1e-4*step*slope {
				a, b, loss = na, nb, nl
				break
			}
			step /= 2
		}
		if step < minStep {
			// No descent left: accept if the gradient is already negligible.
			if gradNorm < 1e-5*float64(len(scores)) {
				return constrain(a, b, targets), nil
			}
			return nil, &ConvergenceError{Iterations: iter + 1, Gradient: gradNorm}
		}
	}

	return nil, &ConvergenceError{Iterations: maxIter, Gradient: gradNorm}
}

func constrain(a, b float64, targets []float64) *Platt {
	if a >= 0 {
		return &Platt{A: a, B: b}
	}
	var mean float64
	for _, t := range targets {
		mean += t
	}
	mean /= float64(len(targets))
	return &Platt{A: 0, B: math.Log(mean / (1 - mean))}
}

func plattLoss(scores, targets []float64, a, b float64) float64 {
	var l float64
	for i, s := range scores {
		z := a*s + b
		t := targets[i]
		l += t*log1pExp(-z) + (1-t)*log1pExp(z)
	}
	return l
}

// log1pExp computes log(1 + e^x) without overflow.
func log1pExp(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
