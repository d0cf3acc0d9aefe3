package factor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
)

// Timeline is every rule with its change log, loaded once so the registry can
// be rebuilt as it stood at any past instant.
type Timeline struct {
	rules   []*models.FactorRule
	changes map[uuid.UUID][]*models.FactorChange
}

// Timeline loads all rules and their audit trails.
func (r *Registry) Timeline(ctx context.Context) (*Timeline, error) {
	rules, err := r.repo.List(ctx, repository.FactorFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list factors: %w", err)
	}
	t := &Timeline{rules: rules, changes: make(map[uuid.UUID][]*models.FactorChange, len(rules))}
	for _, rule := range rules {
		changes, err := r.repo.Changes(ctx, rule.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load changes of factor %s: %w", rule.Name, err)
		}
		sort.SliceStable(changes, func(i, j int) bool { return changes[i].ChangedAt.Before(changes[j].ChangedAt) })
		t.changes[rule.ID] = changes
	}
	return t, nil
}

// ActiveAsOf returns the rules that were APPROVED at asOf, with the weight and
// expression they carried then. Only changes strictly before asOf count.
func (r *Registry) ActiveAsOf(ctx context.Context, asOf time.Time) ([]models.FactorRule, error) {
	t, err := r.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	return t.ActiveAsOf(asOf), nil
}

// ActiveAsOf replays each rule's change log up to asOf.
func (t *Timeline) ActiveAsOf(asOf time.Time) []models.FactorRule {
	active := make([]models.FactorRule, 0, len(t.rules))
	for _, current := range t.rules {
		rule, ok := replayChanges(current, t.changes[current.ID], asOf)
		if ok && rule.IsActive() && rule.TrainedBefore(asOf) {
			active = append(active, rule)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active
}

// replayChanges rebuilds a rule from its changes before asOf. It reports false
// when the rule did not exist yet.
func replayChanges(current *models.FactorRule, changes []*models.FactorChange, asOf time.Time) (models.FactorRule, bool) {
	rule := *current
	seen := false
	for _, c := range changes {
		if !c.ChangedAt.Before(asOf) {
			break
		}
		seen = true
		switch c.Action {
		case ActionCreate:
			rule.Status = c.ToStatus
			if c.Reason != "" {
				rule.Expression = c.Reason
			}
		case ActionTransition:
			rule.Status = c.ToStatus
		case ActionExpression:
			rule.Expression = c.Reason
		}
		if c.NewWeight != nil {
			rule.Weight = *c.NewWeight
		}
	}
	return rule, seen
}
