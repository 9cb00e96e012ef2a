package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel implements Channel using Redis as the backend.
type RedisChannel struct {
	client *redis.Client
	dedup
}

// RedisConfig holds connection settings for one job's broker.
type RedisConfig struct {
	Host     string
	Port     int
	Password string // optional
	DB       int    // database number
}

// DialRedis connects to the broker and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisChannel{client: client}, nil
}

// RedisDialer adapts DialRedis to the Dialer signature with a shared
// password/DB taken from service configuration.
func RedisDialer(password string, db int) Dialer {
	return func(ctx context.Context, host string, port int) (Channel, error) {
		return DialRedis(ctx, RedisConfig{Host: host, Port: port, Password: password, DB: db})
	}
}

// Publish stores the serialized snapshot under runID and notifies the
// runID channel. Identical snapshots are not rewritten.
func (c *RedisChannel) Publish(ctx context.Context, runID string, snapshot Snapshot) error {
	enc, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if !c.changed(runID, enc) {
		return nil
	}

	if err := c.client.Set(ctx, runID, enc, 0).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, runID, "updated").Err()
}

// Get returns the decoded snapshot for runID, or nil when absent.
func (c *RedisChannel) Get(ctx context.Context, runID string) (Snapshot, error) {
	val, err := c.client.Get(ctx, runID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Subscribe opens a pub/sub subscription on the runID channel.
func (c *RedisChannel) Subscribe(ctx context.Context, runID string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, runID)

	// Force the SUBSCRIBE to complete so a broken connection surfaces here
	// instead of on the first Next.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	return &redisSubscription{ps: ps}, nil
}

// Close closes the connection to the broker.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Next(ctx context.Context) error {
	_, err := s.ps.ReceiveMessage(ctx)
	return err
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

// Ensure RedisChannel implements Channel.
var _ Channel = (*RedisChannel)(nil)
