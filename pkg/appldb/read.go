package appldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// scanCount is the SCAN COUNT hint.
const scanCount = 500

// Get returns a row's fields. A missing row returns nil, not an error.
func (c *Client) Get(ctx context.Context, table, key string) (map[string]string, error) {
	vals, err := c.client.HGetAll(ctx, RedisKey(table, key)).Result()
	if err != nil {
		c.setUp(!isConnError(err))
		return nil, fmt.Errorf("reading APPL_DB %s: %w", RedisKey(table, key), err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

// Keys returns the row keys (without the table prefix) of table.
func (c *Client) Keys(ctx context.Context, table string) ([]string, error) {
	prefix := table + model.KeySeparator
	keys, err := scanKeys(ctx, c.client, prefix+"*", scanCount)
	if err != nil {
		c.setUp(!isConnError(err))
		return nil, fmt.Errorf("scanning APPL_DB %s: %w", table, err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// LoadEntities reads every row of a netsyncd-managed table back into
// entities keyed by entity key. Rows that do not parse are skipped with a
// warning.
func (c *Client) LoadEntities(ctx context.Context, table string) (map[string]model.Entity, error) {
	keys, err := c.Keys(ctx, table)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.Entity, len(keys))
	for _, key := range keys {
		fields, err := c.Get(ctx, table, key)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			continue // deleted between SCAN and HGETALL
		}
		e, err := model.EntityFromFields(table, key, fields)
		if err != nil {
			util.WithEntity("appldb", RedisKey(table, key)).Warnf("Skipping unparseable row: %v", err)
			continue
		}
		out[e.Key()] = e
	}
	return out, nil
}

// scanKeys collects all keys matching pattern using SCAN.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
