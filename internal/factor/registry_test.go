package factor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
)

type fakeFactorRepo struct {
	mu      sync.Mutex
	rules   map[uuid.UUID]models.FactorRule
	changes []*models.FactorChange
}

func newFakeFactorRepo() *fakeFactorRepo {
	return &fakeFactorRepo{rules: map[uuid.UUID]models.FactorRule{}}
}

func (f *fakeFactorRepo) Create(_ context.Context, rule *models.FactorRule, change *models.FactorChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.Name == rule.Name {
			return models.ErrDuplicateKey
		}
	}
	f.rules[rule.ID] = *rule
	f.changes = append(f.changes, change)
	return nil
}

func (f *fakeFactorRepo) GetByID(_ context.Context, id uuid.UUID) (*models.FactorRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (f *fakeFactorRepo) GetByName(_ context.Context, name string) (*models.FactorRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.Name == name {
			r := r
			return &r, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeFactorRepo) List(_ context.Context, filter repository.FactorFilter) ([]*models.FactorRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FactorRule
	for _, r := range f.rules {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (f *fakeFactorRepo) Update(_ context.Context, rule *models.FactorRule, expected models.FactorStatus, change *models.FactorChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rules[rule.ID].Status != expected {
		return models.ErrInvalidTransition
	}
	f.rules[rule.ID] = *rule
	f.changes = append(f.changes, change)
	return nil
}

func (f *fakeFactorRepo) Changes(_ context.Context, id uuid.UUID) ([]*models.FactorChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FactorChange
	for _, c := range f.changes {
		if c.FactorID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newTestRegistry() (*Registry, *fakeFactorRepo, *recordingPublisher) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	repo := newFakeFactorRepo()
	pub := &recordingPublisher{}
	return NewRegistry(repo, Acceptance{MinBets: 10}, pub, log), repo, pub
}

func approve(t *testing.T, reg *Registry, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := reg.Transition(ctx, id, models.FactorStatusTesting, "", "tester")
	require.NoError(t, err)
	_, err = reg.UpdateStats(ctx, id, models.FactorStats{SampleSize: 20, ROI: 0.1, HitRate: 0.3, ValidationScore: 0.8})
	require.NoError(t, err)
	_, err = reg.Transition(ctx, id, models.FactorStatusApproved, "", "tester")
	require.NoError(t, err)
}

func TestRegistryCreateValidatesAtSave(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Create(ctx, NewFactor{Name: "bad", Expression: "horse_iq > 3", Category: "form", Weight: 1})
	var ce *CompileError
	assert.True(t, errors.As(err, &ce))

	rule, err := reg.Create(ctx, NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1, CreatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.FactorStatusDraft, rule.Status)

	_, err = reg.Create(ctx, NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1})
	assert.True(t, errors.Is(err, models.ErrDuplicateKey))
}

func TestRegistryLifecycleAndAuditLog(t *testing.T) {
	reg, _, pub := newTestRegistry()
	ctx := context.Background()

	rule, err := reg.Create(ctx, NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1})
	require.NoError(t, err)

	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusApproved, "", "bob")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	approve(t, reg, rule.ID)

	active, err := reg.Active(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)

	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusDeprecated, "manual review", "bob")
	require.NoError(t, err)

	active, err = reg.Active(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := reg.History(ctx, rule.ID)
	require.NoError(t, err)
	var transitions int
	for _, c := range history {
		if c.Action == ActionTransition {
			transitions++
		}
	}
	assert.Equal(t, 3, transitions)
	assert.Len(t, pub.events, 3)
}

func TestRegistryActiveExcludesRulesTrainedOnOrAfterAsOf(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	from := cutoff.AddDate(0, -6, 0)

	early, late := cutoff.AddDate(0, 0, -1), cutoff
	a, err := reg.Create(ctx, NewFactor{Name: "a", Expression: "odds", Category: "m", Weight: 1, TrainingFrom: &from, TrainingTo: &early})
	require.NoError(t, err)
	b, err := reg.Create(ctx, NewFactor{Name: "b", Expression: "odds", Category: "m", Weight: 1, TrainingFrom: &from, TrainingTo: &late})
	require.NoError(t, err)
	approve(t, reg, a.ID)
	approve(t, reg, b.ID)

	active, err := reg.Active(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Name)

	overlap, err := reg.CheckTrainingOverlap(ctx, b.ID, cutoff, cutoff.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, overlap)
}

func TestRegistrySweepDegraded(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	good, err := reg.Create(ctx, NewFactor{Name: "good", Expression: "odds", Category: "m", Weight: 1})
	require.NoError(t, err)
	bad, err := reg.Create(ctx, NewFactor{Name: "bad", Expression: "odds", Category: "m", Weight: 1})
	require.NoError(t, err)
	approve(t, reg, good.ID)
	approve(t, reg, bad.ID)

	_, err = reg.UpdateStats(ctx, bad.ID, models.FactorStats{SampleSize: 200, ValidationScore: 0.2})
	require.NoError(t, err)

	deprecated, err := reg.SweepDegraded(ctx, DegradationRule{Statistic: "validation_score", MinSample: 10, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, deprecated, 1)
	assert.Equal(t, "bad", deprecated[0].Name)
	assert.Equal(t, models.FactorStatusDeprecated, deprecated[0].Status)
}

func TestRegistryUpdateExpressionOnlyInDraft(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	rule, err := reg.Create(ctx, NewFactor{Name: "f", Expression: "odds", Category: "m", Weight: 1})
	require.NoError(t, err)
	_, err = reg.UpdateExpression(ctx, rule.ID, "1 / odds", "alice")
	require.NoError(t, err)

	approve(t, reg, rule.ID)
	_, err = reg.UpdateExpression(ctx, rule.ID, "odds * 2", "alice")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestRegistryActiveAsOfReplaysChangeLog(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}

	rule, err := reg.Create(ctx, NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1})
	require.NoError(t, err)
	created := clock
	approve(t, reg, rule.ID)
	approved := clock
	_, err = reg.UpdateWeight(ctx, rule.ID, 5, "boost", "bob")
	require.NoError(t, err)
	reweighted := clock
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusDeprecated, "retired", "bob")
	require.NoError(t, err)
	retired := clock

	active, err := reg.ActiveAsOf(ctx, created.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active, "rule did not exist yet")

	active, err = reg.ActiveAsOf(ctx, approved)
	require.NoError(t, err)
	assert.Empty(t, active, "approval at the instant itself does not count")

	active, err = reg.ActiveAsOf(ctx, approved.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1.0, active[0].Weight)
	assert.Equal(t, "is_favorite", active[0].Expression)

	active, err = reg.ActiveAsOf(ctx, reweighted.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 5.0, active[0].Weight)

	active, err = reg.ActiveAsOf(ctx, retired.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTimelineRestoresEarlierExpression(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}

	rule, err := reg.Create(ctx, NewFactor{Name: "rank", Expression: "1 / market_rank", Category: "market", Weight: 1})
	require.NoError(t, err)
	approve(t, reg, rule.ID)
	firstLife := clock.Add(time.Minute)

	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusDeprecated, "stale", "bob")
	require.NoError(t, err)
	_, err = reg.Transition(ctx, rule.ID, models.FactorStatusDraft, "rework", "bob")
	require.NoError(t, err)
	_, err = reg.UpdateExpression(ctx, rule.ID, "is_favorite", "bob")
	require.NoError(t, err)
	approve(t, reg, rule.ID)

	timeline, err := reg.Timeline(ctx)
	require.NoError(t, err)
	then := timeline.ActiveAsOf(firstLife)
	require.Len(t, then, 1)
	assert.Equal(t, "1 / market_rank", then[0].Expression)

	now := timeline.ActiveAsOf(clock.Add(time.Minute))
	require.Len(t, now, 1)
	assert.Equal(t, "is_favorite", now[0].Expression)
}

func TestRegistryRetrainWeightRecordsPeriod(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	rule, err := reg.Create(ctx, NewFactor{Name: "fav", Expression: "is_favorite", Category: "market", Weight: 1})
	require.NoError(t, err)
	approve(t, reg, rule.ID)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	got, err := reg.RetrainWeight(ctx, rule.ID, 2.5, from, to, "optimised", "optimizer")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Weight)
	require.NotNil(t, got.TrainingTo)
	assert.True(t, got.TrainingTo.Equal(to))

	active, err := reg.Active(ctx, to)
	require.NoError(t, err)
	assert.Empty(t, active, "a race inside the fitting window cannot use the refitted rule")

	history, err := reg.History(ctx, rule.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ActionWeight, last.Action)
	require.NotNil(t, last.OldWeight)
	assert.Equal(t, 1.0, *last.OldWeight)

	_, err = reg.RetrainWeight(ctx, rule.ID, 2.5, to, from, "backwards", "optimizer")
	assert.Error(t, err)
}
