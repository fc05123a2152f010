package util

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariebrainware/incident-watch/config"
	"github.com/redis/go-redis/v9"
)

func sessionKey(token string) string { return fmt.Sprintf("session:%s", token) }

func userSessionsKey(userID uint) string { return fmt.Sprintf("user_sessions:%d", userID) }

// StoreSession mirrors a session in Redis as session:<token> -> userID with ttl and
// records the token in the per-user set. A missing Redis client is not an error.
func StoreSession(ctx context.Context, userID uint, token string, ttl time.Duration) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	if err := rdb.Set(ctx, sessionKey(token), strconv.FormatUint(uint64(userID), 10), ttl).Err(); err != nil {
		return err
	}
	return AddSessionToUserSet(ctx, userID, token)
}

// LookupSession returns the user id mirrored for token. found is false on a cache miss
// or when Redis is not configured; callers then fall back to the database.
func LookupSession(ctx context.Context, token string) (userID uint, found bool, err error) {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return 0, false, nil
	}
	val, err := rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt session entry: %w", err)
	}
	return uint(id), true, nil
}

// AddSessionToUserSet adds the session token to the per-user Redis set.
// The set has no TTL and persists until explicitly cleaned up via
// RemoveSession or InvalidateUserSessions.
func AddSessionToUserSet(ctx context.Context, userID uint, token string) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	key := userSessionsKey(userID)
	if err := rdb.SAdd(ctx, key, token).Err(); err != nil {
		return err
	}
	return rdb.Persist(ctx, key).Err()
}

// removeTokenScript removes the token and deletes the set once it is empty.
const removeTokenScript = `
		local removed = redis.call('SREM', KEYS[1], ARGV[1])
		if removed > 0 then
			local count = redis.call('SCARD', KEYS[1])
			if count == 0 then
				redis.call('DEL', KEYS[1])
			end
		end
		return removed
	`

// RemoveSession deletes session:<token> and removes the token from the per-user set.
func RemoveSession(ctx context.Context, userID uint, token string) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	if err := rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		return err
	}
	return rdb.Eval(ctx, removeTokenScript, []string{userSessionsKey(userID)}, token).Err()
}

// InvalidateUserSessions deletes all session:<token> keys for the given user and
// removes the per-user set.
func InvalidateUserSessions(ctx context.Context, userID uint) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	key := userSessionsKey(userID)
	members, err := rdb.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, tok := range members {
		_ = rdb.Del(ctx, sessionKey(tok)).Err()
	}
	return rdb.Del(ctx, key).Err()
}
