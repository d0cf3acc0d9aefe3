package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/metrics"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndLive(t *testing.T) {
	s := NewServer(Config{ServiceName: "furlong-bot", Version: "1.2.0"})

	rec := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.0", body.Version)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/live").Code)
}

func TestReady(t *testing.T) {
	log := logrus.New()
	stop := killswitch.NewLocal(log, nil)

	s := NewServer(Config{ServiceName: "furlong-bot", DB: pinger{}, KillSwitch: stop, Logger: log})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/ready").Code)

	s.SetReady(true)
	rec := get(t, s.Handler(), "/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, stop.Engage(context.Background(), "drawdown"))
	rec = get(t, s.Handler(), "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var body ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "engaged: drawdown", body.Checks["emergency_stop"])

	down := NewServer(Config{ServiceName: "furlong-bot", DB: pinger{err: errors.New("refused")}})
	down.SetReady(true)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down.Handler(), "/ready").Code)
}

func TestStatusAndMetrics(t *testing.T) {
	metrics.RecordBetSettled("WON")
	s := NewServer(Config{
		ServiceName: "furlong-bot",
		Metrics:     metrics.Handler(),
		Status: func(context.Context) interface{} {
			return map[string]int{"cycles": 3}
		},
	})

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cycles":3}`, rec.Body.String())

	rec = get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bets_settled_total"))
}
