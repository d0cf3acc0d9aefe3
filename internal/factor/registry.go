package factor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
)

// Change actions recorded in the factor audit log
const (
	ActionCreate     = "create"
	ActionTransition = "transition"
	ActionWeight     = "weight"
	ActionExpression = "expression"
	ActionStats      = "stats"
)

// NewFactor is the input for creating a draft factor rule.
type NewFactor struct {
	Name          string
	Description   string
	Expression    string
	Category      string
	Weight        float64
	MinSampleSize int
	TrainingFrom  *time.Time
	TrainingTo    *time.Time
	CreatedBy     string
}

// Registry is the factor store: it validates, versions and transitions rules.
type Registry struct {
	repo       repository.FactorRepository
	acceptance Acceptance
	audit      *logger.AuditLogger
	publisher  notify.Publisher
	log        *logrus.Entry
	now        func() time.Time
}

// NewRegistry creates a factor registry.
func NewRegistry(repo repository.FactorRepository, acceptance Acceptance, publisher notify.Publisher, log *logrus.Logger) *Registry {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Registry{
		repo:       repo,
		acceptance: acceptance,
		audit:      logger.NewAuditLogger(log),
		publisher:  publisher,
		log:        log.WithField("component", "factor_registry"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the expression against the runner schema and stores a DRAFT rule.
func (r *Registry) Create(ctx context.Context, in NewFactor) (*models.FactorRule, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("factor name is required")
	}
	if _, err := Compile(in.Expression); err != nil {
		return nil, err
	}
	if in.TrainingFrom != nil && in.TrainingTo != nil && in.TrainingTo.Before(*in.TrainingFrom) {
		return nil, fmt.Errorf("training period ends before it starts")
	}

	now := r.now()
	rule := &models.FactorRule{
		ID:            uuid.New(),
		Name:          in.Name,
		Description:   in.Description,
		Expression:    in.Expression,
		Category:      in.Category,
		Weight:        in.Weight,
		Status:        models.FactorStatusDraft,
		MinSampleSize: in.MinSampleSize,
		TrainingFrom:  in.TrainingFrom,
		TrainingTo:    in.TrainingTo,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	change := r.change(rule, ActionCreate, "", models.FactorStatusDraft, in.Expression, in.CreatedBy)
	w := in.Weight
	change.NewWeight = &w

	if err := r.repo.Create(ctx, rule, change); err != nil {
		return nil, fmt.Errorf("failed to create factor %q: %w", in.Name, err)
	}
	return rule, nil
}

// Get returns a rule by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.FactorRule, error) {
	return r.repo.GetByID(ctx, id)
}

// List returns rules, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status *models.FactorStatus) ([]*models.FactorRule, error) {
	return r.repo.List(ctx, repository.FactorFilter{Status: status})
}

// History returns the audit log of a rule.
func (r *Registry) History(ctx context.Context, id uuid.UUID) ([]*models.FactorChange, error) {
	return r.repo.Changes(ctx, id)
}

// Transition moves a rule along the lifecycle after checking the edge guard.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, to models.FactorStatus, reason, changedBy string) (*models.FactorRule, error) {
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(rule, to, reason, r.acceptance); err != nil {
		return nil, err
	}

	from := rule.Status
	rule.Status = to
	rule.UpdatedAt = r.now()
	change := r.change(rule, ActionTransition, from, to, reason, changedBy)

	if err := r.repo.Update(ctx, rule, from, change); err != nil {
		return nil, fmt.Errorf("failed to transition factor %s: %w", rule.Name, err)
	}

	r.audit.LogFactorTransition(rule.ID.String(), rule.Name, string(from), string(to), reason, changedBy)
	r.publisher.Publish(ctx, notify.NewEvent(notify.EventFactorTransition, rule.ID.String(), map[string]interface{}{
		"name":   rule.Name,
		"from":   from,
		"to":     to,
		"reason": reason,
	}))
	return rule, nil
}

// UpdateWeight changes a rule's weight and records old and new values.
func (r *Registry) UpdateWeight(ctx context.Context, id uuid.UUID, weight float64, reason, changedBy string) (*models.FactorRule, error) {
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	old := rule.Weight
	rule.Weight = weight
	rule.UpdatedAt = r.now()

	change := r.change(rule, ActionWeight, rule.Status, rule.Status, reason, changedBy)
	change.OldWeight, change.NewWeight = &old, &weight

	if err := r.repo.Update(ctx, rule, rule.Status, change); err != nil {
		return nil, fmt.Errorf("failed to update factor weight: %w", err)
	}
	return rule, nil
}

// RetrainWeight sets a weight fitted on [from, to] and records that period as
// the rule's training period, so replays before to no longer use the rule.
func (r *Registry) RetrainWeight(ctx context.Context, id uuid.UUID, weight float64, from, to time.Time, reason, changedBy string) (*models.FactorRule, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("training period ends before it starts")
	}
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	old := rule.Weight
	rule.Weight = weight
	rule.TrainingFrom, rule.TrainingTo = &from, &to
	rule.UpdatedAt = r.now()

	change := r.change(rule, ActionWeight, rule.Status, rule.Status, reason, changedBy)
	change.OldWeight, change.NewWeight = &old, &weight

	if err := r.repo.Update(ctx, rule, rule.Status, change); err != nil {
		return nil, fmt.Errorf("failed to update factor weight: %w", err)
	}
	return rule, nil
}

// UpdateExpression replaces the expression of a DRAFT rule.
func (r *Registry) UpdateExpression(ctx context.Context, id uuid.UUID, expression, changedBy string) (*models.FactorRule, error) {
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Status != models.FactorStatusDraft {
		return nil, &TransitionError{From: rule.Status, To: rule.Status, Reason: "only draft rules can be edited"}
	}
	if _, err := Compile(expression); err != nil {
		return nil, err
	}
	rule.Expression = expression
	rule.UpdatedAt = r.now()

	change := r.change(rule, ActionExpression, rule.Status, rule.Status, expression, changedBy)
	if err := r.repo.Update(ctx, rule, rule.Status, change); err != nil {
		return nil, fmt.Errorf("failed to update factor expression: %w", err)
	}
	return rule, nil
}

// UpdateStats records fresh rolling performance for a rule.
func (r *Registry) UpdateStats(ctx context.Context, id uuid.UUID, stats models.FactorStats) (*models.FactorRule, error) {
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if stats.EvaluatedAt == nil {
		stats.EvaluatedAt = &now
	}
	rule.Stats = stats
	rule.UpdatedAt = now

	change := r.change(rule, ActionStats, rule.Status, rule.Status, "stats refreshed", "system")
	if err := r.repo.Update(ctx, rule, rule.Status, change); err != nil {
		return nil, fmt.Errorf("failed to update factor stats: %w", err)
	}
	return rule, nil
}

// Active returns APPROVED rules whose training period ended strictly before asOf,
// ordered by name for a stable evaluation order.
func (r *Registry) Active(ctx context.Context, asOf time.Time) ([]models.FactorRule, error) {
	status := models.FactorStatusApproved
	rules, err := r.repo.List(ctx, repository.FactorFilter{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to list active factors: %w", err)
	}
	active := make([]models.FactorRule, 0, len(rules))
	for _, rule := range rules {
		if rule.TrainedBefore(asOf) {
			active = append(active, *rule)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

// Select loads an explicit rule set of any status, for backtests.
func (r *Registry) Select(ctx context.Context, ids []uuid.UUID) ([]models.FactorRule, error) {
	out := make([]models.FactorRule, 0, len(ids))
	for _, id := range ids {
		rule, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load factor %s: %w", id, err)
		}
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CheckTrainingOverlap reports whether a rule's training period intersects [from, to].
func (r *Registry) CheckTrainingOverlap(ctx context.Context, id uuid.UUID, from, to time.Time) (bool, error) {
	rule, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return TrainingOverlaps(rule, from, to), nil
}

// TrainingOverlaps reports whether rule's training period intersects [from, to].
func TrainingOverlaps(rule *models.FactorRule, from, to time.Time) bool {
	if rule.TrainingFrom == nil || rule.TrainingTo == nil {
		return false
	}
	return !rule.TrainingTo.Before(from) && !rule.TrainingFrom.After(to)
}

// SweepDegraded deprecates every APPROVED rule that breaches the degradation rule.
func (r *Registry) SweepDegraded(ctx context.Context, rule DegradationRule) ([]*models.FactorRule, error) {
	status := models.FactorStatusApproved
	approved, err := r.repo.List(ctx, repository.FactorFilter{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to list approved factors: %w", err)
	}

	var deprecated []*models.FactorRule
	for _, f := range approved {
		degraded, why := rule.Degraded(f.Stats)
		if !degraded {
			continue
		}
		updated, err := r.Transition(ctx, f.ID, models.FactorStatusDeprecated, "auto: "+why, "degradation_sweep")
		if err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				r.log.WithError(err).WithField("factor", f.Name).Warn("Skipping factor changed during sweep")
				continue
			}
			return deprecated, err
		}
		deprecated = append(deprecated, updated)
	}

	r.log.WithFields(logrus.Fields{
		"checked":    len(approved),
		"deprecated": len(deprecated),
		"statistic":  rule.Statistic,
	}).Info("Degradation sweep completed")
	return deprecated, nil
}

func (r *Registry) change(rule *models.FactorRule, action string, from, to models.FactorStatus, reason, by string) *models.FactorChange {
	if by == "" {
		by = "system"
	}
	return &models.FactorChange{
		ID:         uuid.New(),
		FactorID:   rule.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		ChangedBy:  by,
		ChangedAt:  rule.UpdatedAt,
	}
}
