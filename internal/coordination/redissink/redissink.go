// Package redissink mirrors coordination events into Redis: each event is
// published on a channel and appended to a capped history list.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Config describes the Redis connection and keys.
type Config struct {
	Addr     string `mapstructure:"redis_addr"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
	// Channel is the pub/sub channel events are published on.
	Channel string `mapstructure:"redis_channel"`
	// HistoryLen caps the history list. Zero disables the list.
	HistoryLen int64 `mapstructure:"history_len"`
}

// DefaultConfig returns the stock sink configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		Channel:    "hive:events",
		HistoryLen: 1000,
	}
}

// Sink implements coordination.EventSink on Redis.
type Sink struct {
	client     *redis.Client
	channel    string
	historyKey string
	historyLen int64
	logger     *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultConfig().Channel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Sink{
		client:     client,
		channel:    cfg.Channel,
		historyKey: cfg.Channel + ":history",
		historyLen: cfg.HistoryLen,
		logger:     logger.With(zap.String("component", "redissink")),
	}, nil
}

// Publish sends the event on the channel and appends it to the history.
func (s *Sink) Publish(ctx context.Context, event models.CoordinationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, data)
	if s.historyLen > 0 {
		pipe.RPush(ctx, s.historyKey, data)
		pipe.LTrim(ctx, s.historyKey, -s.historyLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n events from the history, oldest first.
func (s *Sink) Recent(ctx context.Context, n int64) ([]models.CoordinationEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.historyKey, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event history: %w", err)
	}
	events := make([]models.CoordinationEvent, 0, len(raw))
	for _, r := range raw {
		var e models.CoordinationEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			s.logger.Warn("skipping undecodable event", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Close closes the Redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}
