// Package datasource fetches race cards, live odds and official results from
// the external race-data provider.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/models"
)

// RaceSource is the read side of the race-data provider. Transport failures
// surface as *models.DataUnavailableError; a resource the provider does not
// have yet (such as an unrun race's result) is models.ErrNotFound.
type RaceSource interface {
	Race(ctx context.Context, id uuid.UUID) (*models.Race, error)
	Odds(ctx context.Context, raceID uuid.UUID) (*models.OddsSnapshot, error)
	Result(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error)
	RacesOn(ctx context.Context, day time.Time) ([]*models.Race, error)
}

// Error codes carried in a SourceError
const (
	ErrCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeInvalidData          = "invalid_data"
	ErrCodeNetworkError         = "network_error"
	ErrCodeServerError          = "server_error"
	ErrCodeCircuitOpen          = "circuit_open"
)

// ErrCircuitOpen is returned while the client refuses requests after repeated failures
var ErrCircuitOpen = errors.New("circuit breaker open")

// SourceError describes a provider failure
type SourceError struct {
	Code    string
	Message string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// unavailable wraps a provider failure so callers can match on DataUnavailableError
func unavailable(source, resource, code, message string, err error) error {
	return &models.DataUnavailableError{
		Source:   source,
		Resource: resource,
		Err:      &SourceError{Code: code, Message: message, Err: err},
	}
}
