//go:build integration || e2e

package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
)

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, addr string, db int) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// WriteHash writes a hash at a full Redis key ("TABLE:key").
func WriteHash(t *testing.T, db int, redisKey string, fields map[string]string) {
	t.Helper()

	client := RedisClient(t, db)
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := client.HSet(context.Background(), redisKey, args...).Err(); err != nil {
		t.Fatalf("writing %s: %v", redisKey, err)
	}
}

// ReadHash reads a hash at a full Redis key.
func ReadHash(t *testing.T, db int, redisKey string) map[string]string {
	t.Helper()

	client := RedisClient(t, db)
	vals, err := client.HGetAll(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", redisKey, err)
	}
	return vals
}

// KeyExists checks if a key exists in a specific Redis DB.
func KeyExists(t *testing.T, db int, redisKey string) bool {
	t.Helper()

	client := RedisClient(t, db)
	n, err := client.Exists(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", redisKey, err)
	}
	return n > 0
}

// KeyCount returns the number of keys in a Redis database.
func KeyCount(t *testing.T, db int) int {
	t.Helper()

	client := RedisClient(t, db)
	n, err := client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("failed to get key count for DB %d: %v", db, err)
	}
	return int(n)
}
