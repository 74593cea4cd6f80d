package appldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// RedisKey returns the APPL_DB key of a table row.
func RedisKey(table, key string) string {
	return table + model.KeySeparator + key
}

// Write applies records in one MULTI/EXEC pipeline: either every record
// lands or none does. Records are applied in order.
func (c *Client) Write(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, rec := range records {
		queue(ctx, pipe, rec)
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		if isConnError(err) {
			c.setUp(false)
			return fmt.Errorf("%w: pipeline exec: %v", util.ErrNotConnected, err)
		}
		return fmt.Errorf("pipeline exec: %w", err)
	}
	c.setUp(true)
	return nil
}

func queue(ctx context.Context, pipe redis.Pipeliner, rec model.Record) {
	key := RedisKey(rec.Table, rec.Key)
	switch {
	case rec.Op == model.OpDelete:
		pipe.Del(ctx, key)
	case len(rec.Fields) == 0:
		// Empty entry: write NULL sentinel (SONiC convention)
		pipe.HSet(ctx, key, "NULL", "NULL")
	default:
		// A set replaces the whole row so fields dropped since the last
		// write do not linger.
		pipe.Del(ctx, key)
		args := make([]interface{}, 0, len(rec.Fields)*2)
		for k, v := range rec.Fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, key, args...)
	}
}

// isConnError reports whether err means Redis could not be reached, as
// opposed to Redis rejecting a command.
func isConnError(err error) bool {
	var redisErr redis.Error
	return !errors.As(err, &redisErr)
}
