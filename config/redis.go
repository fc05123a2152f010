package config

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// ConnectRedis initializes the Redis client used for the session mirror and rate limiting.
// Redis is optional: callers treat a nil client as "not available" and fall back to the database
// or to in-process state.
func ConnectRedis() (*redis.Client, error) {
	var err error
	redisOnce.Do(func() {
		cfg := LoadConfig()
		if !cfg.RedisEnabled || cfg.IsTest() {
			log.Println("Redis disabled, using database sessions and in-process rate limiting")
			return
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err = rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			err = fmt.Errorf("redis ping failed: %w", err)
			return
		}

		redisClient = rdb
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
	})
	return redisClient, err
}

// GetRedisClient returns the initialized Redis client (nil if ConnectRedis failed or was not called).
func GetRedisClient() *redis.Client {
	return redisClient
}

// SetRedisClientForTest injects client, typically a redismock client, as the shared client.
func SetRedisClientForTest(client *redis.Client) {
	redisClient = client
}

// ResetRedisClientForTest clears the client so the next ConnectRedis starts over.
func ResetRedisClientForTest() {
	redisClient = nil
	redisOnce = sync.Once{}
}
