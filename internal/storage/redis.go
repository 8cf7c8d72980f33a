package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pairchat/backend/internal/models"
)

// EventsChannel is the pub/sub channel every server instance listens on.
const EventsChannel = "pairchat:events"

// RedisStore holds the short-lived state kept outside the database: bans,
// rolling report scores and the realtime event bus.
type RedisStore struct {
	Redis *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{Redis: rdb}
}

func banKey(userID string) string     { return "ban:" + userID }
func scoreKey(userID string) string   { return "report_score:" + userID }
func lastBanKey(userID string) string { return "last_ban:" + userID }

// IsUserBanned checks the ban key in Redis.
func (r *RedisStore) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	status, err := r.Redis.Get(ctx, banKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status != "", nil
}

// BanUser sets a ban that expires after d. A zero duration bans permanently.
func (r *RedisStore) BanUser(ctx context.Context, userID, reason string, d time.Duration) error {
	if reason == "" {
		reason = "banned"
	}
	return r.Redis.Set(ctx, banKey(userID), reason, d).Err()
}

func (r *RedisStore) UnbanUser(ctx context.Context, userID string) error {
	return r.Redis.Del(ctx, banKey(userID), scoreKey(userID)).Err()
}

// BanTTL returns the remaining ban time; -1 means permanent, 0 means not banned.
func (r *RedisStore) BanTTL(ctx context.Context, userID string) (time.Duration, error) {
	ttl, err := r.Redis.TTL(ctx, banKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	switch {
	case ttl == -2*time.Nanosecond:
		return 0, nil
	case ttl < 0:
		return -1, nil
	}
	return ttl, nil
}

// GetLastBanDate returns the unix time of the user's last automatic ban, or 0.
func (r *RedisStore) GetLastBanDate(ctx context.Context, userID string) (int64, error) {
	v, err := r.Redis.Get(ctx, lastBanKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SetLastBanDate remembers when the user was last banned for keep.
func (r *RedisStore) SetLastBanDate(ctx context.Context, userID string, at time.Time, keep time.Duration) error {
	return r.Redis.Set(ctx, lastBanKey(userID), at.Unix(), keep).Err()
}

// AddReportScore adds weight to the user's rolling score and returns the new
// total. The window restarts with the first report after it lapses.
func (r *RedisStore) AddReportScore(ctx context.Context, userID string, weight int, window time.Duration) (int64, error) {
	key := scoreKey(userID)
	total, err := r.Redis.IncrBy(ctx, key, int64(weight)).Result()
	if err != nil {
		return 0, err
	}
	if total == int64(weight) {
		if err := r.Redis.Expire(ctx, key, window).Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// PublishEvent broadcasts an event to all hub instances.
func (r *RedisStore) PublishEvent(ctx context.Context, event models.Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.Redis.Publish(ctx, EventsChannel, payload).Err()
}

// SubscribeEvents subscribes to the event channel. The caller closes the
// returned subscription.
func (r *RedisStore) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return r.Redis.Subscribe(ctx, EventsChannel)
}

func prefsKey(userID string) string { return "prefs:" + userID }

// SetPreference stores one front-end preference of the user, e.g. the
// interface language.
func (r *RedisStore) SetPreference(ctx context.Context, userID, field, value string) error {
	return r.Redis.HSet(ctx, prefsKey(userID), field, value).Err()
}

// GetPreference returns "" when the field was never set.
func (r *RedisStore) GetPreference(ctx context.Context, userID, field string) (string, error) {
	v, err := r.Redis.HGet(ctx, prefsKey(userID), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
