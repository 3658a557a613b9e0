package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the shared Redis client.
type RedisOptions struct {
	// ClientName shows up in CLIENT LIST so API and worker connections can be told apart.
	ClientName  string
	MinPoolSize int
	PingTimeout time.Duration
}

// ConnectRedis parses url, applies opts and pings the server before
// returning the client.
func ConnectRedis(url string, opts RedisOptions) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.ClientName != "" {
		options.ClientName = opts.ClientName
	}
	// Blocking claims pin a connection for the whole poll.
	minPool := opts.MinPoolSize
	if minPool <= 0 {
		minPool = 10
	}
	if options.PoolSize < minPool {
		options.PoolSize = minPool
	}
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(options)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", options.Addr, err)
	}

	return client, nil
}
