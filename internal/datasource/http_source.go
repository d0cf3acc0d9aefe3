package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
)

const httpSourceName = "race_api"

// wireRace is the provider's race card
type wireRace struct {
	ID             uuid.UUID    `json:"id"`
	Track          string       `json:"track"`
	RaceNumber     int          `json:"race_number"`
	ScheduledStart time.Time    `json:"scheduled_start"`
	Distance       int          `json:"distance"`
	Surface        string       `json:"surface"`
	Going          string       `json:"going"`
	Runners        []wireRunner `json:"runners"`
}

type wireRunner struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Number        int              `json:"number"`
	Draw          int              `json:"draw"`
	Age           int              `json:"age"`
	Sex           string           `json:"sex"`
	BodyWeight    *decimal.Decimal `json:"body_weight"`
	WeightChange  *decimal.Decimal `json:"weight_change"`
	CarriedWeight *decimal.Decimal `json:"carried_weight"`
	Popularity    int              `json:"popularity"`
	RunningStyle  int              `json:"running_style"`
	WinOdds       *decimal.Decimal `json:"win_odds"`
	PlaceOdds     *decimal.Decimal `json:"place_odds"`
	Status        string           `json:"status"`
	Previous      *wirePrevious    `json:"previous"`
}

type wirePrevious struct {
	Date            string           `json:"date"`
	Finish          int              `json:"finish"`
	Last3F          *decimal.Decimal `json:"last_3f"`
	RunningStyle    int              `json:"running_style"`
	Corner4Position int              `json:"corner4_position"`
}

type wireOdds struct {
	RaceID  uuid.UUID `json:"race_id"`
	Time    time.Time `json:"time"`
	Runners []struct {
		RunnerID uuid.UUID        `json:"runner_id"`
		Win      *decimal.Decimal `json:"win"`
		Place    *decimal.Decimal `json:"place"`
	} `json:"runners"`
}

type wireResult struct {
	RaceID    uuid.UUID `json:"race_id"`
	Official  bool      `json:"official"`
	SettledAt time.Time `json:"settled_at"`
	Positions []struct {
		RunnerID uuid.UUID `json:"runner_id"`
		Position int       `json:"position"`
	} `json:"positions"`
	Scratched []uuid.UUID `json:"scratched"`
}

// HTTPSource reads the provider's REST API
type HTTPSource struct {
	client  *RateLimitedHTTPClient
	baseURL string
	apiKey  string
	log     *logrus.Entry
}

// NewHTTPSource creates an HTTP race source
func NewHTTPSource(cfg config.DataSourceConfig, log *logrus.Logger) *HTTPSource {
	return &HTTPSource{
		client:  NewRateLimitedHTTPClient(HTTPClientConfigFrom(cfg), log),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		log:     log.WithField("component", "datasource"),
	}
}

// Race fetches one race card
func (s *HTTPSource) Race(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	var w wireRace
	path := "/races/" + id.String()
	if err := s.get(ctx, path, &w); err != nil {
		return nil, err
	}
	race := w.toModel()
	if problems := ValidateRace(race); len(problems) > 0 {
		return nil, unavailable(httpSourceName, path, ErrCodeInvalidData, strings.Join(problems, "; "), nil)
	}
	return race, nil
}

// RacesOn lists the races scheduled on day's calendar date
func (s *HTTPSource) RacesOn(ctx context.Context, day time.Time) ([]*models.Race, error) {
	var ws []wireRace
	if err := s.get(ctx, "/races?date="+day.Format("2006-01-02"), &ws); err != nil {
		return nil, err
	}
	races := make([]*models.Race, 0, len(ws))
	for i := range ws {
		race := ws[i].toModel()
		if problems := ValidateRace(race); len(problems) > 0 {
			s.log.WithFields(logrus.Fields{
				"race_id":  race.ID,
				"track":    race.Track,
				"problems": problems,
			}).Warn("Skipping invalid race card")
			continue
		}
		races = append(races, race)
	}
	return races, nil
}

// Odds fetches the current market for a race
func (s *HTTPSource) Odds(ctx context.Context, raceID uuid.UUID) (*models.OddsSnapshot, error) {
	var w wireOdds
	if err := s.get(ctx, "/races/"+raceID.String()+"/odds", &w); err != nil {
		return nil, err
	}
	snap := &models.OddsSnapshot{RaceID: raceID, Time: w.Time.UTC(), Runner: make(map[uuid.UUID]models.RunnerOdds, len(w.Runners))}
	for _, r := range w.Runners {
		snap.Runner[r.RunnerID] = models.RunnerOdds{Win: toFloat(r.Win), Place: toFloat(r.Place)}
	}
	return snap, nil
}

// Result fetches the official result. models.ErrNotFound means not yet run.
func (s *HTTPSource) Result(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error) {
	var w wireResult
	if err := s.get(ctx, "/races/"+raceID.String()+"/result", &w); err != nil {
		return nil, err
	}
	result := &models.RaceResult{
		RaceID:    raceID,
		Official:  w.Official,
		SettledAt: w.SettledAt.UTC(),
		Positions: make(map[uuid.UUID]int, len(w.Positions)),
		Scratched: w.Scratched,
	}
	for _, p := range w.Positions {
		result.Positions[p.RunnerID] = p.Position
	}
	return result, nil
}

// Close releases idle connections
func (s *HTTPSource) Close() error {
	return s.client.Close()
}

func (s *HTTPSource) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return unavailable(httpSourceName, path, ErrCodeNetworkError, "failed to create request", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		s.log.WithError(err).WithField("path", path).Warn("Race data request failed")
		return unavailable(httpSourceName, path, ErrCodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, models.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return unavailable(httpSourceName, path, ErrCodeAuthenticationFailed, "invalid API key", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return unavailable(httpSourceName, path, ErrCodeRateLimitExceeded, "rate limit exceeded", nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return unavailable(httpSourceName, path, ErrCodeServerError,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable(httpSourceName, path, ErrCodeInvalidData, "failed to parse response", err)
	}
	return nil
}

func (w wireRace) toModel() *models.Race {
	race := &models.Race{
		ID:             w.ID,
		Track:          w.Track,
		RaceNumber:     w.RaceNumber,
		ScheduledStart: w.ScheduledStart.UTC(),
		Distance:       w.Distance,
		Surface:        models.Surface(strings.ToUpper(w.Surface)),
		Going:          w.Going,
		Runners:        make([]models.Runner, 0, len(w.Runners)),
	}
	for _, wr := range w.Runners {
		rn := models.Runner{
			ID:            wr.ID,
			RaceID:        w.ID,
			Name:          wr.Name,
			Number:        wr.Number,
			Draw:          wr.Draw,
			Age:           wr.Age,
			Sex:           wr.Sex,
			BodyWeight:    toFloat(wr.BodyWeight),
			WeightChange:  toFloat(wr.WeightChange),
			CarriedWeight: toFloat(wr.CarriedWeight),
			Popularity:    wr.Popularity,
			RunningStyle:  wr.RunningStyle,
			Odds:          toFloat(wr.WinOdds),
			PlaceOdds:     toFloat(wr.PlaceOdds),
			Scratched:     strings.EqualFold(wr.Status, "scratched") || strings.EqualFold(wr.Status, "withdrawn"),
		}
		if p := wr.Previous; p != nil {
			prev := &models.PreviousRun{
				Finish:          p.Finish,
				Last3F:          toFloat(p.Last3F),
				RunningStyle:    p.RunningStyle,
				Corner4Position: p.Corner4Position,
			}
			if d, err := time.Parse("2006-01-02", p.Date); err == nil {
				prev.Date = d
			}
			rn.Previous = prev
		}
		race.Runners = append(race.Runners, rn)
	}
	assignMarketRanks(race.Runners)
	return race
}

// assignMarketRanks ranks active runners by win odds, shortest first
func assignMarketRanks(runners []models.Runner) {
	for i := range runners {
		if runners[i].Scratched || runners[i].Odds <= 0 {
			continue
		}
		rank := 1
		for j := range runners {
			if j == i || runners[j].Scratched || runners[j].Odds <= 0 {
				continue
			}
			if runners[j].Odds < runners[i].Odds || (runners[j].Odds == runners[i].Odds && runners[j].Number < runners[i].Number) {
				rank++
			}
		}
		runners[i].MarketRank = rank
	}
}

func toFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
