package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed directory publisher.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Prefix   string
	TTL      time.Duration
	Logger   *slog.Logger
}

// RedisPublisher stores one key per live stream with a TTL and refreshes it
// at half-TTL intervals while the stream stays published.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	refreshers map[string]chan struct{}
}

// NewRedisPublisher connects to Redis and verifies reachability. The caller
// is responsible for ensuring the Redis instance stays available.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "streambridge:streams:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		MaxRetries: 2,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		logger:     logger,
		refreshers: make(map[string]chan struct{}),
	}, nil
}

func (p *RedisPublisher) key(streamID string) string { return p.prefix + streamID }

func (p *RedisPublisher) Publish(ctx context.Context, streamID, playoutURL string) error {
	key := p.key(streamID)
	if err := p.client.Set(ctx, key, playoutURL, p.ttl).Err(); err != nil {
		return fmt.Errorf("publish stream %s: %w", streamID, err)
	}

	p.mu.Lock()
	if stop, ok := p.refreshers[streamID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	p.refreshers[streamID] = stop
	p.mu.Unlock()

	go p.refresh(key, streamID, stop)
	return nil
}

func (p *RedisPublisher) refresh(key, streamID string, stop <-chan struct{}) {
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.ttl/2)
			err := p.client.Expire(ctx, key, p.ttl).Err()
			cancel()
			if err != nil {
				p.logger.Warn("refresh directory entry", "stream_id", streamID, "error", err)
			}
		}
	}
}

func (p *RedisPublisher) Unpublish(ctx context.Context, streamID string) error {
	p.mu.Lock()
	if stop, ok := p.refreshers[streamID]; ok {
		close(stop)
		delete(p.refreshers, streamID)
	}
	p.mu.Unlock()

	if err := p.client.Del(ctx, p.key(streamID)).Err(); err != nil {
		return fmt.Errorf("unpublish stream %s: %w", streamID, err)
	}
	return nil
}

// Close stops all refreshers and releases the client. Published keys are left
// to expire via their TTL.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	for id, stop := range p.refreshers {
		close(stop)
		delete(p.refreshers, id)
	}
	p.mu.Unlock()
	return p.client.Close()
}
