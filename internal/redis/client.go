package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// Client wraps a universal redis client plus a cache of named Lua
// scripts, so callers run atomic operations by name instead of shipping
// script text around.
type Client struct {
	rdb     redis.UniversalClient
	scripts *sync.Map
}

// NewClient connects to redis. For cluster mode addrs is a comma
// separated list "host1:port1,host2:port2".
func NewClient(redisAddrs string) (*Client, error) {
	addrs := strings.Split(redisAddrs, ",")

	var rdb redis.UniversalClient
	if len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr: addrs[0],
		})
	}

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	logger.Logger.Info().Strs("addrs", addrs).Msg("connected to redis")

	return &Client{
		rdb:     rdb,
		scripts: new(sync.Map),
	}, nil
}

// LoadScriptFromContent registers a Lua script under scriptName.
func (c *Client) LoadScriptFromContent(scriptName, content string) error {
	if _, loaded := c.scripts.Load(scriptName); loaded {
		return errors.Errorf("script %q is already loaded", scriptName)
	}
	c.scripts.Store(scriptName, redis.NewScript(content))
	return nil
}

// RunScript executes a previously loaded script. go-redis handles
// NOSCRIPT resends itself, so errors here are real failures.
func (c *Client) RunScript(ctx context.Context, scriptName string, keys []string, args ...interface{}) (interface{}, error) {
	val, ok := c.scripts.Load(scriptName)
	if !ok {
		return nil, errors.Errorf("script %q not loaded", scriptName)
	}
	script := val.(*redis.Script)

	result, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run script %q", scriptName)
	}
	return result, nil
}

// GetClient exposes the underlying client for plain commands.
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}
