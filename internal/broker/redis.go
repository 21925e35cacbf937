package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// NewClient connects to Redis and verifies the connection with a ping.
// The returned cleanup closes the client and logs the shutdown.
func NewClient(opts ClientOptions, logger *slog.Logger) (*redis.Client, func(), error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", slog.String("addr", opts.Addr))

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", slog.String("error", err.Error()))
			return
		}
		logger.Info("closed redis connection")
	}

	return client, cleanup, nil
}
