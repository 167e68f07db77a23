package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/logger"
)

const namespace = "payflow"

// unlockScript deletes KEYS[1] only while it still holds the caller's token.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var errNotConnected = errors.New("redis: client not connected")

// commands is the slice of go-redis this package drives.
type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client backs the webhook event ledger and the sweep lock.
type Client struct {
	cmds  commands
	close func() error
}

// New dials redis and fails unless it answers PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_addr", opts.Addr), "redis connected")
	}
	return &Client{cmds: rdb, close: rdb.Close}, nil
}

// options prefers the URL; explicit pool and timeout settings fill whatever
// the URL left unset.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
		opts.DB = cmp.Or(opts.DB, cfg.DB)
	case cfg.Address == "":
		return nil, errors.New("redis: PAYFLOW_REDIS_URL or PAYFLOW_REDIS_ADDR must be set")
	}
	opts.PoolSize = cmp.Or(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = cmp.Or(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = cmp.Or(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = cmp.Or(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = cmp.Or(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

// Key joins non-empty parts under the payflow namespace.
func Key(parts ...string) string {
	out := []string{namespace}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}

// MarkSeen records key for ttl and reports whether this call was the first.
func (c *Client) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.cmds == nil {
		return false, errNotConnected
	}
	return c.cmds.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Forget drops a key written by MarkSeen.
func (c *Client) Forget(ctx context.Context, key string) error {
	if c.cmds == nil {
		return errNotConnected
	}
	return c.cmds.Del(ctx, key).Err()
}

// TryLock takes key for ttl. The returned token must be handed to Unlock.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if c.cmds == nil {
		return "", false, errNotConnected
	}
	token := uuid.NewString()
	ok, err := c.cmds.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Unlock releases key if token still owns it. A lock that expired or was
// taken over reports false without error.
func (c *Client) Unlock(ctx context.Context, key, token string) (bool, error) {
	if c.cmds == nil {
		return false, errNotConnected
	}
	n, err := c.cmds.Eval(ctx, unlockScript, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmds == nil {
		return errNotConnected
	}
	return c.cmds.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
