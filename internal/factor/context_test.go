package factor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/models"
)

func sampleRace() *models.Race {
	start := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	race := &models.Race{ID: uuid.New(), ScheduledStart: start, Distance: 1200, Surface: models.SurfaceTurf}
	for i := 1; i <= 9; i++ {
		rn := models.Runner{
			ID:         uuid.New(),
			RaceID:     race.ID,
			Number:     i,
			Popularity: i,
			Odds:       float64(i) + 1,
			Sex:        "F",
		}
		if i <= 3 {
			rn.Previous = &models.PreviousRun{Date: start.AddDate(0, 0, -21), Finish: i, Last3F: 33.0 + float64(i)/10}
		}
		race.Runners = append(race.Runners, rn)
	}
	return race
}

func TestBuildContextDerivedVariables(t *testing.T) {
	race := sampleRace()
	ctx := BuildContext(race, race.Runners[0])

	assert.Equal(t, 9.0, ctx["field_size"])
	assert.Equal(t, true, ctx["is_inner_gate"])
	assert.Equal(t, false, ctx["is_outer_gate"])
	assert.Equal(t, true, ctx["is_favorite"])
	assert.Equal(t, true, ctx["is_sprint"])
	assert.Equal(t, true, ctx["is_turf"])
	assert.Equal(t, true, ctx["is_female"])
	assert.Equal(t, 9.0, ctx["market_rank"])
	assert.Equal(t, 1.0, ctx["prev_last_3f_rank"])
	assert.Equal(t, 21.0, ctx["days_since_prev"])
	assert.InDelta(t, 0.5, ctx["implied_prob"].(float64), 1e-9)

	last := BuildContext(race, race.Runners[8])
	assert.Equal(t, true, last["is_longshot"])
	assert.Equal(t, true, last["is_outer_gate"])
	assert.Equal(t, false, last["has_prev"])
	_, ok := last["prev_finish"]
	assert.False(t, ok, "unknown previous run must be omitted, not zeroed")
}

func TestBuildContextOnlySchemaVariables(t *testing.T) {
	race := sampleRace()
	for _, rn := range race.Runners {
		for name := range BuildContext(race, rn) {
			_, ok := ContextSchema[name]
			require.True(t, ok, "variable %s not in schema", name)
		}
	}
}
