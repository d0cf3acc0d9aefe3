package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

type scoreRepository struct {
	db database.Store
}

// NewScoreRepository creates an insert-only score repository
func NewScoreRepository(db database.Store) ScoreRepository {
	return &scoreRepository{db: db}
}

// Insert stores one score record
func (r *scoreRepository) Insert(ctx context.Context, s *models.RunnerScore) error {
	contributions, err := encodeJSON(s.Contributions)
	if err != nil {
		return fmt.Errorf("failed to encode contributions: %w", err)
	}
	failures, err := encodeJSON(s.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO runner_scores (id, race_id, runner_id, raw_score, probability, odds, ev,
		                           model_id, model_version, contributions, failures, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.RaceID, s.RunnerID, s.RawScore, s.Probability, s.Odds, s.EV,
		s.ModelID, s.ModelVersion, contributions, failures, utc(s.ScoredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert runner score: %w", err)
	}
	return nil
}

// InsertBatch stores scores atomically
func (r *scoreRepository) InsertBatch(ctx context.Context, scores []*models.RunnerScore) error {
	if len(scores) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, s := range scores {
			if err := r.Insert(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByRaceID returns every score recorded for a race, oldest first
func (r *scoreRepository) GetByRaceID(ctx context.Context, raceID uuid.UUID) ([]*models.RunnerScore, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, race_id, runner_id, raw_score, probability, odds, ev, model_id, model_version,
		       contributions, failures, scored_at
		FROM runner_scores
		WHERE race_id = $1
		ORDER BY scored_at, runner_id`, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runner scores: %w", err)
	}
	defer rows.Close()

	var scores []*models.RunnerScore
	for rows.Next() {
		s := &models.RunnerScore{}
		var contributions, failures []byte
		if err := rows.Scan(&s.ID, &s.RaceID, &s.RunnerID, &s.RawScore, &s.Probability, &s.Odds, &s.EV,
			&s.ModelID, &s.ModelVersion, &contributions, &failures, &s.ScoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan runner score: %w", err)
		}
		if err := decodeJSON(contributions, &s.Contributions); err != nil {
			return nil, fmt.Errorf("failed to decode contributions: %w", err)
		}
		if err := decodeJSON(failures, &s.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode failures: %w", err)
		}
		s.ScoredAt = utc(s.ScoredAt)
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
