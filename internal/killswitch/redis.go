package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
)

const defaultRedisKey = "furlong:emergency_stop"

// redisClient is the subset of the go-redis client the switch needs
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis shares the emergency stop between bot processes. The key carries no
// expiry, so a stop survives restarts until released.
type Redis struct {
	announcer
	client redisClient
	closer func() error
	key    string
	now    func() time.Time
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg config.RedisConfig, log *logrus.Logger, publisher notify.Publisher) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := newRedis(client, cfg.Key, log, publisher)
	r.closer = client.Close
	return r, nil
}

func newRedis(client redisClient, key string, log *logrus.Logger, publisher notify.Publisher) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{
		announcer: newAnnouncer(log, publisher),
		client:    client,
		key:       key,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Engage implements Switch. SETNX keeps the first reason when several
// processes trip the stop at once.
func (r *Redis) Engage(ctx context.Context, reason string) error {
	st := State{Engaged: true, Reason: reason, Since: r.now()}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	set, err := r.client.SetNX(ctx, r.key, data, 0).Result()
	if err != nil {
		return &models.DataUnavailableError{Source: "redis", Resource: r.key, Err: err}
	}
	if !set {
		r.log.WithField("reason", reason).Warn("Emergency stop already engaged, ignoring duplicate call")
		return nil
	}
	r.engaged(ctx, st)
	return nil
}

// Release implements Switch
func (r *Redis) Release(ctx context.Context, by string) error {
	n, err := r.client.Del(ctx, r.key).Result()
	if err != nil {
		return &models.DataUnavailableError{Source: "redis", Resource: r.key, Err: err}
	}
	if n > 0 {
		r.released(ctx, by)
	}
	return nil
}

// State implements Switch. An unreachable store is reported as an error so
// callers can fail closed.
func (r *Redis) State(ctx context.Context) (State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, &models.DataUnavailableError{Source: "redis", Resource: r.key, Err: err}
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// An unreadable value still means someone engaged the stop
		return State{Engaged: true, Reason: "unreadable emergency stop record"}, nil
	}
	st.Engaged = true
	return st, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
