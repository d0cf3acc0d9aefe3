package killswitch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/notify"
)

// Local is an in-process switch, used by single-node bots and backtests
type Local struct {
	announcer
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// NewLocal creates a released in-process switch
func NewLocal(log *logrus.Logger, publisher notify.Publisher) *Local {
	return &Local{
		announcer: newAnnouncer(log, publisher),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnEngage registers a callback run after every engage transition
func (l *Local) OnEngage(cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

// Engage implements Switch
func (l *Local) Engage(ctx context.Context, reason string) error {
	l.mu.Lock()
	if l.state.Engaged {
		l.mu.Unlock()
		l.log.WithField("reason", reason).Warn("Emergency stop already engaged, ignoring duplicate call")
		return nil
	}
	l.state = State{Engaged: true, Reason: reason, Since: l.now()}
	st := l.state
	l.mu.Unlock()

	l.engaged(ctx, st)
	return nil
}

// Release implements Switch
func (l *Local) Release(ctx context.Context, by string) error {
	l.mu.Lock()
	was := l.state.Engaged
	l.state = State{}
	l.mu.Unlock()

	if was {
		l.released(ctx, by)
	}
	return nil
}

// State implements Switch
func (l *Local) State(context.Context) (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, nil
}
