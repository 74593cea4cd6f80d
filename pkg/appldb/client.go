// Package appldb is the APPL_DB (Redis DB 0) client netsyncd writes link
// and neighbor state through.
package appldb

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/util"
)

const (
	// DefaultAddr is the switch-local Redis instance.
	DefaultAddr = "127.0.0.1:6379"
	// DB is APPL_DB's database number.
	DB = 0
)

// Options configure a Client.
type Options struct {
	Addr string
	DB   int
	// Reconnect backoff bounds. Zero values select 100ms and 5s.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Client wraps a Redis client for APPL_DB access.
type Client struct {
	client *redis.Client
	opts   Options
	log    *logrus.Entry
	up     atomic.Bool
}

// NewClient creates an APPL_DB client. No connection is made until the
// first command.
func NewClient(opts Options) *Client {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 100 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = 5 * time.Second
	}
	network := "tcp"
	if strings.HasPrefix(opts.Addr, "/") {
		network = "unix" // SONiC exposes redis.sock to host daemons
	}
	return &Client{
		client: redis.NewClient(&redis.Options{
			Network: network,
			Addr:    opts.Addr,
			DB:      opts.DB,
		}),
		opts: opts,
		log:  util.WithComponent("appldb").WithField("addr", opts.Addr),
	}
}

// Ping tests the connection and records the result for Alive.
func (c *Client) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	c.setUp(err == nil)
	if err != nil {
		return fmt.Errorf("%w: ping %s: %v", util.ErrNotConnected, c.opts.Addr, err)
	}
	return nil
}

// Connect pings until Redis answers or ctx is done. Retries are unbounded
// with exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	b := NewBackOff(c.opts.RetryInitialInterval, c.opts.RetryMaxInterval)
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return c.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.log.Warnf("APPL_DB not reachable (attempt %d), retrying in %s: %v", attempt, wait.Round(time.Millisecond), err)
	})
	if err != nil {
		return err
	}
	c.log.Info("Connected to APPL_DB")
	return nil
}

// Alive reports whether the last command reached Redis.
func (c *Client) Alive() bool {
	return c.up.Load()
}

// Close closes the connection.
func (c *Client) Close() error {
	c.setUp(false)
	return c.client.Close()
}

func (c *Client) setUp(up bool) {
	if c.up.Swap(up) != up && !up {
		c.log.Warn("APPL_DB connection lost")
	}
}

// NewBackOff returns an exponential backoff that never gives up.
func NewBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
