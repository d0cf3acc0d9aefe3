package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

const raceColumns = `id, track, race_number, scheduled_start, distance, surface, going, runners, created_at, updated_at`

type raceRepository struct {
	db database.Store
}

// NewRaceRepository creates a race card and result repository
func NewRaceRepository(db database.Store) RaceRepository {
	return &raceRepository{db: db}
}

// Save upserts a race card
func (r *raceRepository) Save(ctx context.Context, race *models.Race) error {
	runners, err := encodeJSON(race.Runners)
	if err != nil {
		return fmt.Errorf("failed to encode runners: %w", err)
	}
	now := time.Now().UTC()
	if race.CreatedAt.IsZero() {
		race.CreatedAt = now
	}
	race.UpdatedAt = now

	_, err = r.db.Exec(ctx, `
		INSERT INTO races (`+raceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			track = excluded.track,
			race_number = excluded.race_number,
			scheduled_start = excluded.scheduled_start,
			distance = excluded.distance,
			surface = excluded.surface,
			going = excluded.going,
			runners = excluded.runners,
			updated_at = excluded.updated_at`,
		race.ID, race.Track, race.RaceNumber, utc(race.ScheduledStart), race.Distance, race.Surface,
		race.Going, runners, utc(race.CreatedAt), utc(race.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save race: %w", err)
	}
	return nil
}

// GetByID retrieves a race by ID
func (r *raceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	race, err := scanRace(r.db.QueryRow(ctx, `SELECT `+raceColumns+` FROM races WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}
	return race, nil
}

// GetByDateRange retrieves races starting in [start, end)
func (r *raceRepository) GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Race, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+raceColumns+` FROM races
		WHERE scheduled_start >= $1 AND scheduled_start < $2
		ORDER BY scheduled_start, id`, utc(start), utc(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []*models.Race
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		races = append(races, race)
	}
	return races, rows.Err()
}

// SaveResult upserts a race result
func (r *raceRepository) SaveResult(ctx context.Context, result *models.RaceResult) error {
	positions, err := encodeJSON(result.Positions)
	if err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}
	scratched := result.Scratched
	if scratched == nil {
		scratched = []uuid.UUID{}
	}
	scratchedJSON, err := encodeJSON(scratched)
	if err != nil {
		return fmt.Errorf("failed to encode scratched runners: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO race_results (race_id, positions, scratched, official, settled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (race_id) DO UPDATE SET
			positions = excluded.positions,
			scratched = excluded.scratched,
			official = excluded.official,
			settled_at = excluded.settled_at`,
		result.RaceID, positions, scratchedJSON, result.Official, utc(result.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save race result: %w", err)
	}
	return nil
}

// GetResult retrieves the result of a race
func (r *raceRepository) GetResult(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error) {
	result, err := scanResult(r.db.QueryRow(ctx, `
		SELECT race_id, positions, scratched, official, settled_at
		FROM race_results WHERE race_id = $1`, raceID))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race result: %w", err)
	}
	return result, nil
}

// Historical returns officially resulted races in [start, end), oldest first
func (r *raceRepository) Historical(ctx context.Context, start, end time.Time) ([]models.HistoricalRace, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.track, r.race_number, r.scheduled_start, r.distance, r.surface, r.going, r.runners,
		       r.created_at, r.updated_at, res.positions, res.scratched, res.official, res.settled_at
		FROM races r
		JOIN race_results res ON res.race_id = r.id
		WHERE res.official = TRUE AND r.scheduled_start >= $1 AND r.scheduled_start < $2
		ORDER BY r.scheduled_start, r.id`, utc(start), utc(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query historical races: %w", err)
	}
	defer rows.Close()

	var out []models.HistoricalRace
	for rows.Next() {
		var (
			h                               models.HistoricalRace
			runners, positions, scratchedJS []byte
		)
		if err := rows.Scan(&h.Race.ID, &h.Race.Track, &h.Race.RaceNumber, &h.Race.ScheduledStart,
			&h.Race.Distance, &h.Race.Surface, &h.Race.Going, &runners, &h.Race.CreatedAt, &h.Race.UpdatedAt,
			&positions, &scratchedJS, &h.Result.Official, &h.Result.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan historical race: %w", err)
		}
		if err := decodeJSON(runners, &h.Race.Runners); err != nil {
			return nil, fmt.Errorf("failed to decode runners: %w", err)
		}
		if err := decodeJSON(positions, &h.Result.Positions); err != nil {
			return nil, fmt.Errorf("failed to decode positions: %w", err)
		}
		if err := decodeJSON(scratchedJS, &h.Result.Scratched); err != nil {
			return nil, fmt.Errorf("failed to decode scratched runners: %w", err)
		}
		h.Result.RaceID = h.Race.ID
		h.Race.ScheduledStart = utc(h.Race.ScheduledStart)
		h.Result.SettledAt = utc(h.Result.SettledAt)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	models.SortHistorical(out)
	return out, nil
}

func scanRace(row database.Row) (*models.Race, error) {
	race := &models.Race{}
	var runners []byte
	if err := row.Scan(&race.ID, &race.Track, &race.RaceNumber, &race.ScheduledStart, &race.Distance,
		&race.Surface, &race.Going, &runners, &race.CreatedAt, &race.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(runners, &race.Runners); err != nil {
		return nil, fmt.Errorf("failed to decode runners: %w", err)
	}
	race.ScheduledStart, race.CreatedAt, race.UpdatedAt = utc(race.ScheduledStart), utc(race.CreatedAt), utc(race.UpdatedAt)
	return race, nil
}

func scanResult(row database.Row) (*models.RaceResult, error) {
	result := &models.RaceResult{}
	var positions, scratched []byte
	if err := row.Scan(&result.RaceID, &positions, &scratched, &result.Official, &result.SettledAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(positions, &result.Positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	if err := decodeJSON(scratched, &result.Scratched); err != nil {
		return nil, fmt.Errorf("failed to decode scratched runners: %w", err)
	}
	result.SettledAt = utc(result.SettledAt)
	return result, nil
}
