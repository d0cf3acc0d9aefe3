package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

const calibrationColumns = `id, version, method, params, trained_from, trained_to, sample_size,
	brier_score, ece, active, created_at`

type calibrationRepository struct {
	db database.Store
}

// NewCalibrationRepository creates a calibration model repository
func NewCalibrationRepository(db database.Store) CalibrationRepository {
	return &calibrationRepository{db: db}
}

// Create assigns the next version and stores the model inactive
func (r *calibrationRepository) Create(ctx context.Context, m *models.CalibrationModel) error {
	params, err := encodeJSON(m.Params)
	if err != nil {
		return fmt.Errorf("failed to encode calibration params: %w", err)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		var version int
		if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM calibration_models`).Scan(&version); err != nil {
			return fmt.Errorf("failed to allocate calibration version: %w", err)
		}

		_, err := r.db.Exec(ctx, `
			INSERT INTO calibration_models (`+calibrationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)`,
			m.ID, version, m.Method, params, utc(m.TrainedFrom), utc(m.TrainedTo), m.SampleSize,
			m.BrierScore, m.ECE, utc(m.CreatedAt),
		)
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("calibration version %d: %w", version, models.ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("failed to insert calibration model: %w", err)
		}
		m.Version, m.Active = version, false
		return nil
	})
}

// GetByID retrieves a model by id
func (r *calibrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error) {
	return r.getOne(ctx, `SELECT `+calibrationColumns+` FROM calibration_models WHERE id = $1`, id)
}

// GetByVersion retrieves a model by version number
func (r *calibrationRepository) GetByVersion(ctx context.Context, version int) (*models.CalibrationModel, error) {
	return r.getOne(ctx, `SELECT `+calibrationColumns+` FROM calibration_models WHERE version = $1`, version)
}

// GetActive returns the active model or ErrNoActiveModel
func (r *calibrationRepository) GetActive(ctx context.Context) (*models.CalibrationModel, error) {
	m, err := r.getOne(ctx, `SELECT `+calibrationColumns+` FROM calibration_models WHERE active = TRUE`)
	if err == models.ErrNotFound {
		return nil, models.ErrNoActiveModel
	}
	return m, err
}

// List returns every model, newest version first
func (r *calibrationRepository) List(ctx context.Context) ([]*models.CalibrationModel, error) {
	rows, err := r.db.Query(ctx, `SELECT `+calibrationColumns+` FROM calibration_models ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration models: %w", err)
	}
	defer rows.Close()

	var out []*models.CalibrationModel
	for rows.Next() {
		m, err := scanCalibration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calibration model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Activate deactivates the current model and activates id in one transaction
func (r *calibrationRepository) Activate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		if _, err := r.db.Exec(ctx, `UPDATE calibration_models SET active = FALSE WHERE active = TRUE`); err != nil {
			return fmt.Errorf("failed to deactivate calibration models: %w", err)
		}
		if _, err := r.db.Exec(ctx, `UPDATE calibration_models SET active = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to activate calibration model: %w", err)
		}
		return nil
	})
}

func (r *calibrationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.CalibrationModel, error) {
	m, err := scanCalibration(r.db.QueryRow(ctx, query, args...))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration model: %w", err)
	}
	return m, nil
}

func scanCalibration(row database.Row) (*models.CalibrationModel, error) {
	m := &models.CalibrationModel{}
	var params []byte
	if err := row.Scan(&m.ID, &m.Version, &m.Method, &params, &m.TrainedFrom, &m.TrainedTo, &m.SampleSize,
		&m.BrierScore, &m.ECE, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &m.Params); err != nil {
		return nil, fmt.Errorf("failed to decode calibration params: %w", err)
	}
	m.TrainedFrom, m.TrainedTo, m.CreatedAt = utc(m.TrainedFrom), utc(m.TrainedTo), utc(m.CreatedAt)
	return m, nil
}
