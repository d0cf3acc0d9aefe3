package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

const factorColumns = `id, name, description, expression, category, weight, status, min_sample_size,
	training_from, training_to, stats, created_by, created_at, updated_at`

const changeColumns = `id, factor_id, action, from_status, to_status, old_weight, new_weight, reason, changed_by, changed_at`

type factorRepository struct {
	db database.Store
}

// NewFactorRepository creates a factor repository
func NewFactorRepository(db database.Store) FactorRepository {
	return &factorRepository{db: db}
}

// Create inserts a rule together with its creation record
func (r *factorRepository) Create(ctx context.Context, rule *models.FactorRule, change *models.FactorChange) error {
	stats, err := encodeJSON(rule.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode factor stats: %w", err)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO factor_rules (`+factorColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			rule.ID, rule.Name, rule.Description, rule.Expression, rule.Category, rule.Weight, rule.Status,
			rule.MinSampleSize, utcPtr(rule.TrainingFrom), utcPtr(rule.TrainingTo), stats, rule.CreatedBy,
			utc(rule.CreatedAt), utc(rule.UpdatedAt),
		)
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("factor %q: %w", rule.Name, models.ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("failed to insert factor: %w", err)
		}
		return r.insertChange(ctx, change)
	})
}

// GetByID retrieves a rule by id
func (r *factorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FactorRule, error) {
	row := r.db.QueryRow(ctx, `SELECT `+factorColumns+` FROM factor_rules WHERE id = $1`, id)
	rule, err := scanFactor(row)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get factor: %w", err)
	}
	return rule, nil
}

// GetByName retrieves a rule by its unique name
func (r *factorRepository) GetByName(ctx context.Context, name string) (*models.FactorRule, error) {
	row := r.db.QueryRow(ctx, `SELECT `+factorColumns+` FROM factor_rules WHERE name = $1`, name)
	rule, err := scanFactor(row)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get factor: %w", err)
	}
	return rule, nil
}

// List returns rules ordered by name
func (r *factorRepository) List(ctx context.Context, filter FactorFilter) ([]*models.FactorRule, error) {
	query := `SELECT ` + factorColumns + ` FROM factor_rules`
	var args []interface{}
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list factors: %w", err)
	}
	defer rows.Close()

	var rules []*models.FactorRule
	for rows.Next() {
		rule, err := scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Update saves the rule when its stored status still matches expected
func (r *factorRepository) Update(ctx context.Context, rule *models.FactorRule, expected models.FactorStatus, change *models.FactorChange) error {
	stats, err := encodeJSON(rule.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode factor stats: %w", err)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		n, err := r.db.Exec(ctx, `
			UPDATE factor_rules
			SET description = $3, expression = $4, category = $5, weight = $6, status = $7,
			    min_sample_size = $8, training_from = $9, training_to = $10, stats = $11, updated_at = $12
			WHERE id = $1 AND status = $2`,
			rule.ID, expected, rule.Description, rule.Expression, rule.Category, rule.Weight, rule.Status,
			rule.MinSampleSize, utcPtr(rule.TrainingFrom), utcPtr(rule.TrainingTo), stats, utc(rule.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to update factor: %w", err)
		}
		if n == 0 {
			if _, err := r.GetByID(ctx, rule.ID); err != nil {
				return err
			}
			return fmt.Errorf("factor %s is no longer %s: %w", rule.Name, expected, models.ErrInvalidTransition)
		}
		return r.insertChange(ctx, change)
	})
}

// Changes returns the audit trail of a rule, oldest first
func (r *factorRepository) Changes(ctx context.Context, factorID uuid.UUID) ([]*models.FactorChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+changeColumns+` FROM factor_changes
		WHERE factor_id = $1
		ORDER BY changed_at, id`, factorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor changes: %w", err)
	}
	defer rows.Close()

	var changes []*models.FactorChange
	for rows.Next() {
		c := &models.FactorChange{}
		if err := rows.Scan(&c.ID, &c.FactorID, &c.Action, &c.FromStatus, &c.ToStatus, &c.OldWeight,
			&c.NewWeight, &c.Reason, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan factor change: %w", err)
		}
		c.ChangedAt = utc(c.ChangedAt)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *factorRepository) insertChange(ctx context.Context, c *models.FactorChange) error {
	if c == nil {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO factor_changes (`+changeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.FactorID, c.Action, c.FromStatus, c.ToStatus, c.OldWeight, c.NewWeight, c.Reason,
		c.ChangedBy, utc(c.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record factor change: %w", err)
	}
	return nil
}

func scanFactor(row database.Row) (*models.FactorRule, error) {
	rule := &models.FactorRule{}
	var stats []byte
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Expression, &rule.Category, &rule.Weight,
		&rule.Status, &rule.MinSampleSize, &rule.TrainingFrom, &rule.TrainingTo, &stats, &rule.CreatedBy,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(stats, &rule.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode factor stats: %w", err)
	}
	rule.TrainingFrom, rule.TrainingTo = utcPtr(rule.TrainingFrom), utcPtr(rule.TrainingTo)
	rule.CreatedAt, rule.UpdatedAt = utc(rule.CreatedAt), utc(rule.UpdatedAt)
	return rule, nil
}
