package config

import (
	"os"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withEnv sets environment variables for the duration of fn, reloads the config and restores
// both afterwards. An empty value unsets the variable.
func withEnv(t *testing.T, vars map[string]string, fn func(t *testing.T)) {
	t.Helper()
	orig := make(map[string]string)
	origSet := make(map[string]bool)
	for k, v := range vars {
		if old, ok := os.LookupEnv(k); ok {
			orig[k] = old
			origSet[k] = true
		}
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
	}
	ResetConfigForTest()
	ResetRedisClientForTest()

	defer func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, orig[k])
			} else {
				os.Unsetenv(k)
			}
		}
		ResetConfigForTest()
		ResetRedisClientForTest()
	}()

	fn(t)
}

func TestConnectRedis_Disabled(t *testing.T) {
	withEnv(t, map[string]string{"APPENV": "dev", "REDIS_ENABLED": "false"}, func(t *testing.T) {
		rdb, err := ConnectRedis()
		assert.NoError(t, err)
		assert.Nil(t, rdb)
	})
}

func TestConnectRedis_DisabledByDefault(t *testing.T) {
	withEnv(t, map[string]string{"APPENV": "dev", "REDIS_ENABLED": "", "REDIS_ADDR": "", "REDIS_DB": ""}, func(t *testing.T) {
		cfg := LoadConfig()
		assert.False(t, cfg.RedisEnabled)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, 0, cfg.RedisDB)

		rdb, err := ConnectRedis()
		assert.NoError(t, err)
		assert.Nil(t, rdb)
	})
}

func TestConnectRedis_InvalidDBNumberFallsBack(t *testing.T) {
	withEnv(t, map[string]string{"APPENV": "dev", "REDIS_DB": "invalid"}, func(t *testing.T) {
		assert.Equal(t, 0, LoadConfig().RedisDB)
	})
}

func TestConnectRedis_UnreachableServer(t *testing.T) {
	withEnv(t, map[string]string{"APPENV": "dev", "REDIS_ENABLED": "true", "REDIS_ADDR": "127.0.0.1:1"}, func(t *testing.T) {
		rdb, err := ConnectRedis()
		assert.Error(t, err)
		assert.Nil(t, rdb)
		assert.Nil(t, GetRedisClient())
	})
}

func TestConnectRedis_ConcurrentCalls(t *testing.T) {
	withEnv(t, map[string]string{"APPENV": "dev", "REDIS_ENABLED": "false"}, func(t *testing.T) {
		type callResult struct {
			rdb interface{}
			err error
		}
		done := make(chan callResult, 5)
		for i := 0; i < 5; i++ {
			go func() {
				rdb, err := ConnectRedis()
				done <- callResult{rdb: rdb, err: err}
			}()
		}

		for i := 0; i < 5; i++ {
			res := <-done
			assert.NoError(t, res.err)
			assert.Nil(t, res.rdb)
		}
	})
}

func TestRedisTestHelpers_SetAndReset(t *testing.T) {
	original := GetRedisClient()
	defer SetRedisClientForTest(original)

	db, _ := redismock.NewClientMock()
	SetRedisClientForTest(db)
	require.Equal(t, db, GetRedisClient())

	ResetRedisClientForTest()
	assert.Nil(t, GetRedisClient())
}
