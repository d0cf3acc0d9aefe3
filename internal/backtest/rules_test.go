package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
)

func TestApprovedRulesIgnoreLaterApprovalsAndWeights(t *testing.T) {
	ctx := context.Background()
	repos, err := repository.NewRepositories(database.NewTestStore(t))
	require.NoError(t, err)
	reg := factor.NewRegistry(repos.Factor, factor.Acceptance{MinBets: 10}, nil, quietLogger())

	rule, err := reg.Create(ctx, factor.NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1})
	require.NoError(t, err)
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusTesting, "", "tester")
	require.NoError(t, err)
	_, err = reg.UpdateStats(ctx, rule.ID, models.FactorStats{SampleSize: 20, ROI: 0.1, HitRate: 0.3})
	require.NoError(t, err)
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusApproved, "", "tester")
	require.NoError(t, err)
	_, err = reg.UpdateWeight(ctx, rule.ID, 5, "boost", "tester")
	require.NoError(t, err)

	source := &ApprovedRules{Registry: reg}
	past, err := source.Rules(ctx, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, past, "a rule approved today must not score an old race")

	later, err := source.Rules(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, 5.0, later[0].Weight)
}

func TestRunWithRegistryRulesLeavesOldRacesUnscored(t *testing.T) {
	ctx := context.Background()
	repos, err := repository.NewRepositories(database.NewTestStore(t))
	require.NoError(t, err)
	reg := factor.NewRegistry(repos.Factor, factor.Acceptance{MinBets: 10}, nil, quietLogger())

	rule, err := reg.Create(ctx, factor.NewFactor{Name: "rank", Expression: "1 / market_rank", Category: "market", Weight: 1})
	require.NoError(t, err)
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusTesting, "", "tester")
	require.NoError(t, err)
	_, err = reg.UpdateStats(ctx, rule.ID, models.FactorStats{SampleSize: 20, ROI: 0.1, HitRate: 0.3})
	require.NoError(t, err)
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusApproved, "", "tester")
	require.NoError(t, err)

	e := newTestEngine(t, testConfig(), &ApprovedRules{Registry: reg})
	races := history(2, 2, 3)
	res, err := e.Run(ctx, races, snapshot(base.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, len(races), res.Unscored)
	assert.Empty(t, res.Bets)
}
