package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
)

var (
	raceID   = uuid.MustParse("6f1c2d4e-0000-4000-8000-000000000001")
	runnerA  = uuid.MustParse("6f1c2d4e-0000-4000-8000-0000000000a1")
	runnerB  = uuid.MustParse("6f1c2d4e-0000-4000-8000-0000000000b2")
	runnerC  = uuid.MustParse("6f1c2d4e-0000-4000-8000-0000000000c3")
	raceCard = fmt.Sprintf(`{
		"id": %q, "track": "York", "race_number": 4, "scheduled_start": "2024-06-01T14:05:00Z",
		"distance": 2000, "surface": "turf", "going": "Good to Firm",
		"runners": [
			{"id": %q, "name": "Alpha", "number": 1, "win_odds": "3.50", "place_odds": "1.60", "body_weight": 480,
			 "previous": {"date": "2024-05-10", "finish": 2, "last_3f": "34.8"}},
			{"id": %q, "name": "Bravo", "number": 2, "win_odds": 2.25},
			{"id": %q, "name": "Charlie", "number": 3, "win_odds": "9.0", "status": "withdrawn"}
		]}`, raceID, runnerA, runnerB, runnerC)
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func testConfig(url string) config.DataSourceConfig {
	return config.DataSourceConfig{
		BaseURL: url, APIKey: "secret", RequestsPerSecond: 1000, Burst: 10, TimeoutSeconds: 2, RetryMax: 1,
	}
}

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/races/"+raceID.String(), func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, raceCard)
	})
	mux.HandleFunc("/races", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") != "2024-06-01" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, "["+raceCard+"]")
	})
	mux.HandleFunc("/races/"+raceID.String()+"/odds", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"race_id": %q, "time": "2024-06-01T14:00:00Z",
			"runners": [{"runner_id": %q, "win": "3.75", "place": "1.70"}, {"runner_id": %q, "win": 2.1}]}`,
			raceID, runnerA, runnerB)
	})
	mux.HandleFunc("/races/"+raceID.String()+"/result", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		fmt.Fprintf(w, `{"race_id": %q, "official": true, "settled_at": "2024-06-01T14:20:00Z",
			"positions": [{"runner_id": %q, "position": 1}, {"runner_id": %q, "position": 2}],
			"scratched": [%q]}`, raceID, runnerB, runnerA, runnerC)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceRace(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	src := NewHTTPSource(testConfig(srv.URL), quietLogger())

	race, err := src.Race(context.Background(), raceID)
	require.NoError(t, err)
	assert.Equal(t, "York", race.Track)
	assert.Equal(t, models.SurfaceTurf, race.Surface)
	require.Len(t, race.Runners, 3)

	alpha := race.Runners[0]
	assert.Equal(t, 3.5, alpha.Odds)
	assert.Equal(t, 1.6, alpha.PlaceOdds)
	assert.Equal(t, 480.0, alpha.BodyWeight)
	require.NotNil(t, alpha.Previous)
	assert.Equal(t, 34.8, alpha.Previous.Last3F)
	assert.Equal(t, 2, alpha.MarketRank)
	assert.Equal(t, 1, race.Runners[1].MarketRank)
	assert.True(t, race.Runners[2].Scratched)
	assert.Zero(t, race.Runners[2].MarketRank)
	assert.Equal(t, 2, race.FieldSize())
}

func TestHTTPSourceOddsAndResult(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	src := NewHTTPSource(testConfig(srv.URL), quietLogger())
	ctx := context.Background()

	snap, err := src.Odds(ctx, raceID)
	require.NoError(t, err)
	assert.Equal(t, 3.75, snap.Price(runnerA, models.BetTypeWin))
	assert.Equal(t, 1.7, snap.Price(runnerA, models.BetTypePlace))
	assert.Zero(t, snap.Price(runnerC, models.BetTypeWin))

	result, err := src.Result(ctx, raceID)
	require.NoError(t, err)
	assert.True(t, result.Official)
	pos, ok := result.PositionOf(runnerB)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.True(t, result.IsScratched(runnerC))

	races, err := src.RacesOn(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, races, 1)
}

func TestHTTPSourceErrors(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	ctx := context.Background()

	_, err := NewHTTPSource(testConfig(srv.URL), quietLogger()).Race(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	cfg := testConfig(srv.URL)
	cfg.APIKey = "wrong"
	_, err = NewHTTPSource(cfg, quietLogger()).Race(ctx, raceID)
	var unavailable *models.DataUnavailableError
	require.ErrorAs(t, err, &unavailable)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeAuthenticationFailed, se.Code)
}

func TestHTTPSourceRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, raceCard)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	src := NewHTTPSource(cfg, quietLogger())
	src.client.client.RetryWaitMin = time.Millisecond
	src.client.client.RetryWaitMax = time.Millisecond

	race, err := src.Race(context.Background(), raceID)
	require.NoError(t, err)
	assert.Equal(t, raceID, race.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultHTTPClientConfig()
	cfg.MaxRetries = 0
	cfg.RateLimit = 1000
	cfg.CircuitBreakerMax = 2
	cfg.CircuitCooldown = time.Hour
	client := NewRateLimitedHTTPClient(cfg, quietLogger())

	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), srv.URL)
		if err == nil {
			resp.Body.Close()
		}
	}
	_, err := client.Get(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

type countingSource struct {
	RaceSource
	races, results int
	official       bool
}

func (c *countingSource) Race(_ context.Context, id uuid.UUID) (*models.Race, error) {
	c.races++
	return &models.Race{ID: id}, nil
}

func (c *countingSource) Result(_ context.Context, id uuid.UUID) (*models.RaceResult, error) {
	c.results++
	return &models.RaceResult{RaceID: id, Official: c.official}, nil
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{}
	src := NewCachedSource(inner, time.Minute)
	id := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := src.Race(ctx, id)
		require.NoError(t, err)
		_, err = src.Result(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.races)
	assert.Equal(t, 3, inner.results, "provisional results are not cached")

	inner.official = true
	for i := 0; i < 2; i++ {
		_, err := src.Result(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, inner.results)
}

func TestLoadHistory(t *testing.T) {
	early, late := uuid.New(), uuid.New()
	runner := uuid.New()
	body := fmt.Sprintf(`[
		{"race": {"id": %q, "scheduled_start": "2024-06-02T15:00:00+01:00", "runners": [{"id": %q, "number": 1, "odds": 3}]},
		 "result": {"positions": {%q: 1}, "official": true}},
		{"race": {"id": %q, "scheduled_start": "2024-06-01T15:00:00Z", "runners": []},
		 "result": {"race_id": %q, "official": true}}
	]`, late, runner, runner, early, early)
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	races, err := LoadHistory(path)
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, early, races[0].Race.ID)
	assert.Equal(t, late, races[1].Result.RaceID)
	assert.Equal(t, late, races[1].Race.Runners[0].RaceID)
	assert.Equal(t, time.UTC, races[1].Race.ScheduledStart.Location())

	src := NewHistorySource(races)
	ctx := context.Background()
	snap, err := src.Odds(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap.Price(runner, models.BetTypeWin))

	onDay, err := src.RacesOn(ctx, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, onDay, 1)
	assert.Equal(t, late, onDay[0].ID)

	_, err = src.Result(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoadHistoryRejectsMismatchedResult(t *testing.T) {
	body := fmt.Sprintf(`[{"race": {"id": %q}, "result": {"race_id": %q}}]`, uuid.New(), uuid.New())
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := LoadHistory(path)
	assert.Error(t, err)
}
