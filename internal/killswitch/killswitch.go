// Package killswitch holds the emergency stop. Once engaged it stays engaged
// until an operator releases it; the daily reset does not clear it.
package killswitch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/notify"
)

// State is a snapshot of the emergency stop
type State struct {
	Engaged bool      `json:"engaged"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Switch is the emergency stop shared by the bankroll manager and the safety gate
type Switch interface {
	// Engage sets the stop. Engaging an engaged switch keeps the first reason.
	Engage(ctx context.Context, reason string) error
	// Release clears the stop. Only operators call this.
	Release(ctx context.Context, by string) error
	State(ctx context.Context) (State, error)
}

// Callback runs after the switch moves from released to engaged
type Callback func(reason string)

// announcer records every transition the same way for all backends
type announcer struct {
	audit     *logger.AuditLogger
	log       *logrus.Entry
	publisher notify.Publisher
	callbacks []Callback
}

func newAnnouncer(log *logrus.Logger, publisher notify.Publisher) announcer {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return announcer{
		audit:     logger.NewAuditLogger(log),
		log:       log.WithField("component", "killswitch"),
		publisher: publisher,
	}
}

func (a *announcer) engaged(ctx context.Context, state State) {
	a.audit.LogEmergencyStop(true, state.Reason, map[string]interface{}{"since": state.Since})
	metrics.RecordEmergencyStop(true, state.Reason)
	a.publisher.Publish(ctx, notify.NewEvent(notify.EventEmergencyStop, "engaged", map[string]interface{}{
		"reason": state.Reason,
		"since":  state.Since,
	}))
	for _, cb := range a.callbacks {
		cb(state.Reason)
	}
}

func (a *announcer) released(ctx context.Context, by string) {
	a.audit.LogEmergencyStop(false, "released by "+by, nil)
	metrics.RecordEmergencyStop(false, "")
	a.publisher.Publish(ctx, notify.NewEvent(notify.EventEmergencyStop, "released", map[string]interface{}{
		"released_by": by,
	}))
}

// New builds the configured backend
func New(cfg config.KillSwitchConfig, log *logrus.Logger, publisher notify.Publisher) (Switch, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(log, publisher), nil
	case "redis":
		return NewRedis(cfg.Redis, log, publisher)
	default:
		return nil, fmt.Errorf("unknown kill switch backend %q", cfg.Backend)
	}
}

// IsEngaged is a convenience wrapper around State
func IsEngaged(ctx context.Context, s Switch) (bool, string, error) {
	st, err := s.State(ctx)
	if err != nil {
		return false, "", err
	}
	return st.Engaged, st.Reason, nil
}
