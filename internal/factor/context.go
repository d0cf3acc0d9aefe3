// Package factor holds factor rule definitions, the sandbox that evaluates
// them against a runner, and the lifecycle that governs which rules score live.
package factor

import (
	"math"
	"sort"
	"strings"

	"github.com/yourusername/furlong/internal/models"
)

// Context is the variable environment a factor expression is evaluated against.
// Unknown values are omitted rather than zeroed.
type Context map[string]interface{}

// Variable kinds
const (
	kindNumber = "number"
	kindFlag   = "flag"
)

// ContextSchema lists every variable an expression may reference.
var ContextSchema = map[string]string{
	"odds":               kindNumber,
	"place_odds":         kindNumber,
	"implied_prob":       kindNumber,
	"popularity":         kindNumber,
	"market_rank":        kindNumber,
	"number":             kindNumber,
	"draw":               kindNumber,
	"field_size":         kindNumber,
	"gate_position":      kindNumber,
	"age":                kindNumber,
	"body_weight":        kindNumber,
	"weight_change":      kindNumber,
	"carried_weight":     kindNumber,
	"distance":           kindNumber,
	"running_style":      kindNumber,
	"days_since_prev":    kindNumber,
	"prev_finish":        kindNumber,
	"prev_last_3f":       kindNumber,
	"prev_last_3f_rank":  kindNumber,
	"prev_running_style": kindNumber,
	"prev_corner4_pos":   kindNumber,

	"is_inner_gate":   kindFlag,
	"is_outer_gate":   kindFlag,
	"is_front_runner": kindFlag,
	"is_closer":       kindFlag,
	"is_favorite":     kindFlag,
	"is_longshot":     kindFlag,
	"is_sprint":       kindFlag,
	"is_mile":         kindFlag,
	"is_middle":       kindFlag,
	"is_long":         kindFlag,
	"is_turf":         kindFlag,
	"is_dirt":         kindFlag,
	"is_male":         kindFlag,
	"is_female":       kindFlag,
	"is_gelding":      kindFlag,
	"has_prev":        kindFlag,
}

// schemaEnv is the typed sample environment used for compile-time checking.
func schemaEnv() map[string]interface{} {
	env := make(map[string]interface{}, len(ContextSchema))
	for name, kind := range ContextSchema {
		if kind == kindFlag {
			env[name] = false
		} else {
			env[name] = 0.0
		}
	}
	return env
}

// SchemaVariables returns the schema variable names, sorted.
func SchemaVariables() []string {
	names := make([]string, 0, len(ContextSchema))
	for name := range ContextSchema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildContext derives the evaluation context for one runner. Only attributes
// known before the off are exposed.
func BuildContext(race *models.Race, runner models.Runner) Context {
	ctx := Context{}
	n := race.FieldSize()
	if n == 0 {
		n = len(race.Runners)
	}

	if runner.Odds > 0 {
		ctx["odds"] = runner.Odds
		ctx["implied_prob"] = 1 / runner.Odds
	}
	if runner.PlaceOdds > 0 {
		ctx["place_odds"] = runner.PlaceOdds
	}

	ctx["field_size"] = float64(n)
	if runner.Number > 0 && n > 0 {
		num := float64(runner.Number)
		ctx["number"] = num
		ctx["gate_position"] = num / float64(n)
		ctx["is_inner_gate"] = num <= math.Max(float64(n)/3, 1)
		ctx["is_outer_gate"] = num > float64(n)*2/3
	}
	if runner.Draw > 0 {
		ctx["draw"] = float64(runner.Draw)
	}

	if runner.Popularity > 0 {
		pop := float64(runner.Popularity)
		ctx["popularity"] = pop
		ctx["is_favorite"] = runner.Popularity <= 3
		ctx["is_longshot"] = pop >= math.Max(float64(n-3), 4)
	}

	// An unranked runner is treated as the outsider
	if runner.MarketRank > 0 {
		ctx["market_rank"] = float64(runner.MarketRank)
	} else {
		ctx["market_rank"] = float64(n)
	}

	if runner.Age > 0 {
		ctx["age"] = float64(runner.Age)
	}
	if runner.BodyWeight > 0 {
		ctx["body_weight"] = runner.BodyWeight
		ctx["weight_change"] = runner.WeightChange
	}
	if runner.CarriedWeight > 0 {
		ctx["carried_weight"] = runner.CarriedWeight
	}

	if runner.RunningStyle > 0 {
		ctx["running_style"] = float64(runner.RunningStyle)
		ctx["is_front_runner"] = runner.RunningStyle <= 2
		ctx["is_closer"] = runner.RunningStyle >= 3
	}

	if race.Distance > 0 {
		d := race.Distance
		ctx["distance"] = float64(d)
		ctx["is_sprint"] = d <= 1400
		ctx["is_mile"] = d > 1400 && d <= 1800
		ctx["is_middle"] = d > 1800 && d <= 2200
		ctx["is_long"] = d > 2200
	}
	if race.Surface != "" {
		ctx["is_turf"] = race.Surface == models.SurfaceTurf
		ctx["is_dirt"] = race.Surface == models.SurfaceDirt
	}

	switch strings.ToUpper(runner.Sex) {
	case "M", "C", "H", "MALE":
		ctx["is_male"], ctx["is_female"], ctx["is_gelding"] = true, false, false
	case "F", "FEMALE":
		ctx["is_male"], ctx["is_female"], ctx["is_gelding"] = false, true, false
	case "G", "GELDING":
		ctx["is_male"], ctx["is_female"], ctx["is_gelding"] = false, false, true
	}

	ctx["has_prev"] = runner.Previous != nil
	if prev := runner.Previous; prev != nil {
		if prev.Finish > 0 {
			ctx["prev_finish"] = float64(prev.Finish)
		}
		if prev.Last3F > 0 {
			ctx["prev_last_3f"] = prev.Last3F
			ctx["prev_last_3f_rank"] = float64(last3FRank(race, prev.Last3F))
		}
		if prev.RunningStyle > 0 {
			ctx["prev_running_style"] = float64(prev.RunningStyle)
		}
		if prev.Corner4Position > 0 {
			ctx["prev_corner4_pos"] = float64(prev.Corner4Position)
		}
		if !prev.Date.IsZero() && !race.ScheduledStart.IsZero() {
			ctx["days_since_prev"] = math.Floor(race.ScheduledStart.Sub(prev.Date).Hours() / 24)
		}
	}

	return ctx
}

// last3FRank ranks a previous-run closing sectional among the field, fastest first.
func last3FRank(race *models.Race, t float64) int {
	rank := 1
	for _, rn := range race.Runners {
		if rn.Scratched || rn.Previous == nil || rn.Previous.Last3F <= 0 {
			continue
		}
		if rn.Previous.Last3F < t {
			rank++
		}
	}
	return rank
}
