package calibration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/furlong/internal/models"
)

// Distance bands in metres, upper bounds inclusive
var distanceBands = []struct {
	name string
	max  int
}{
	{"sprint", 1400},
	{"mile", 1800},
	{"middle", 2200},
	{"long", 1 << 30},
}

// Each side of a stratum needs this many outcomes before it gets its own fit
const minStratumClass = 5

// StratumOf names the surface and distance band of a race, for example
// "TURF/mile". Races missing either attribute have no stratum.
func StratumOf(surface models.Surface, distance int) string {
	if surface == "" || distance <= 0 {
		return ""
	}
	for _, b := range distanceBands {
		if distance <= b.max {
			return strings.ToUpper(string(surface)) + "/" + b.name
		}
	}
	return ""
}

// RaceStratum is StratumOf for a race card.
func RaceStratum(race *models.Race) string {
	if race == nil {
		return ""
	}
	return StratumOf(race.Surface, race.Distance)
}

// StratumPredictor is a Calibrator whose mapping depends on race conditions.
type StratumPredictor interface {
	PredictFor(raw float64, stratum string) float64
}

// PredictRace applies cal to a raw score from race, using the race's stratum
// when cal distinguishes them.
func PredictRace(cal Calibrator, raw float64, race *models.Race) float64 {
	if sp, ok := cal.(StratumPredictor); ok {
		return sp.PredictFor(raw, RaceStratum(race))
	}
	return cal.Predict(raw)
}

// Stratified holds one calibrator per surface and distance band plus a
// fallback fit on every sample. Strata that were too thin to fit use the
// fallback.
type Stratified struct {
	Base     models.CalibrationMethod
	Fallback Calibrator
	Strata   map[string]Calibrator
}

// Predict applies the fallback.
func (s *Stratified) Predict(raw float64) float64 {
	return s.Fallback.Predict(raw)
}

// PredictFor applies the stratum's own calibrator when it has one.
func (s *Stratified) PredictFor(raw float64, stratum string) float64 {
	if cal, ok := s.Strata[stratum]; ok {
		return cal.Predict(raw)
	}
	return s.Fallback.Predict(raw)
}

// Method implements Calibrator.
func (s *Stratified) Method() models.CalibrationMethod {
	return models.CalibrationStratified
}

// Params stores the fallback's parameters at the top level and each stratum
// under its name.
func (s *Stratified) Params() models.CalibrationParams {
	p := s.Fallback.Params()
	p.Base = s.Base
	if len(s.Strata) > 0 {
		p.Strata = make(map[string]models.CalibrationParams, len(s.Strata))
		for name, cal := range s.Strata {
			p.Strata[name] = cal.Params()
		}
	}
	return p
}

// Names lists the strata with their own fit, sorted.
func (s *Stratified) Names() []string {
	names := make([]string, 0, len(s.Strata))
	for name := range s.Strata {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FitStratified fits the base method on all samples, then on every stratum
// with at least minPerStratum samples and both outcomes represented.
func FitStratified(base models.CalibrationMethod, samples []Sample, minPerStratum, maxIter int) (*Stratified, error) {
	if base != models.CalibrationPlatt && base != models.CalibrationIsotonic {
		return nil, fmt.Errorf("stratified calibration needs a PLATT or ISOTONIC base, got %q", base)
	}
	fallback, err := fitBase(base, samples, maxIter)
	if err != nil {
		return nil, fmt.Errorf("failed to fit fallback: %w", err)
	}
	out := &Stratified{Base: base, Fallback: fallback, Strata: map[string]Calibrator{}}

	groups := make(map[string][]Sample)
	for _, s := range samples {
		if s.Stratum != "" {
			groups[s.Stratum] = append(groups[s.Stratum], s)
		}
	}
	for name, group := range groups {
		if len(group) < minPerStratum {
			continue
		}
		wins := 0
		for _, s := range group {
			if s.Outcome {
				wins++
			}
		}
		if wins < minStratumClass || len(group)-wins < minStratumClass {
			continue
		}
		cal, err := fitBase(base, group, maxIter)
		if err != nil {
			// the fallback covers it
			continue
		}
		out.Strata[name] = cal
	}
	return out, nil
}

func fitBase(method models.CalibrationMethod, samples []Sample, maxIter int) (Calibrator, error) {
	if method == models.CalibrationIsotonic {
		return FitIsotonic(samples)
	}
	return FitPlatt(samples, maxIter)
}

func stratifiedFromParams(m *models.CalibrationModel) (Calibrator, error) {
	rebuild := func(p models.CalibrationParams) (Calibrator, error) {
		return FromModel(&models.CalibrationModel{Version: m.Version, Method: m.Params.Base, Params: p})
	}
	if m.Params.Base != models.CalibrationPlatt && m.Params.Base != models.CalibrationIsotonic {
		return nil, fmt.Errorf("stratified model %d has unknown base %q", m.Version, m.Params.Base)
	}
	top := m.Params
	top.Base, top.Strata = "", nil
	fallback, err := rebuild(top)
	if err != nil {
		return nil, err
	}
	out := &Stratified{Base: m.Params.Base, Fallback: fallback, Strata: make(map[string]Calibrator, len(m.Params.Strata))}
	for name, p := range m.Params.Strata {
		cal, err := rebuild(p)
		if err != nil {
			return nil, fmt.Errorf("stratum %s: %w", name, err)
		}
		out.Strata[name] = cal
	}
	return out, nil
}
