package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions names the client and bounds how long startup waits for it.
// Redis backs the dashboard cache and cross-node session events; both
// degrade gracefully, so a slow server should not hold up boot.
type RedisOptions struct {
	ClientName  string
	DialTimeout time.Duration
}

// ConnectRedis parses url, applies opts and verifies the server answers.
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
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	options.DialTimeout = opts.DialTimeout

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
