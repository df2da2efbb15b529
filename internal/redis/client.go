package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/config"
)

var client *redis.Client

// Connect initializes the Redis client, retrying the first ping with
// exponential backoff until it succeeds or maxWait elapses.
func Connect(ctx context.Context, cfg config.RedisConfig, maxWait time.Duration) error {
	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	ping := func() error {
		err := client.Ping(ctx).Err()
		if err != nil {
			logrus.WithError(err).WithField("addr", client.Options().Addr).Warn("Redis not reachable, retrying")
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		client.Close()
		client = nil
		return errors.Wrap(err, "failed to connect to Redis")
	}
	return nil
}

// Close closes the Redis connection
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}
