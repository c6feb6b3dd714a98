// Package redis provides a Redis implementation of the coconut.Storage interface.
// Writes use SETNX so a stored asset is never replaced.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Storage implements coconut.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "coconut:")
	KeyPrefix string

	// ImageTTL is the TTL for image keys (0 = no expiration)
	ImageTTL time.Duration

	// MetaTTL is the TTL for metadata keys (0 = no expiration)
	MetaTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "coconut:",
		ImageTTL:  0, // assets are permanent
		MetaTTL:   0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "coconut:"
	}

	return &Storage{
		client: client,
		config: config,
	}, nil
}

// GetImage implements coconut.Storage
func (s *Storage) GetImage(ctx context.Context, id coconut.RecipeID) (coconut.ImageAsset, error) {
	data, err := s.client.Get(ctx, s.imageKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", coconut.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get image: %w", err)
	}
	return coconut.ImageAsset(data), nil
}

// SaveImage implements coconut.Storage
func (s *Storage) SaveImage(ctx context.Context, id coconut.RecipeID, asset coconut.ImageAsset) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("recipe id is required")
	}
	written, err := s.client.SetNX(ctx, s.imageKey(id), string(asset), s.config.ImageTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to save image: %w", err)
	}
	return written, nil
}

// GetMeta implements coconut.Storage
func (s *Storage) GetMeta(ctx context.Context, id coconut.RecipeID) (*coconut.Meta, error) {
	data, err := s.client.Get(ctx, s.metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, coconut.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meta: %w", err)
	}

	var meta coconut.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return &meta, nil
}

// SaveMeta implements coconut.Storage
func (s *Storage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	if id == "" || meta == nil {
		return false, fmt.Errorf("invalid metadata record")
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("failed to marshal meta: %w", err)
	}

	written, err := s.client.SetNX(ctx, s.metaKey(id), data, s.config.MetaTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to save meta: %w", err)
	}
	return written, nil
}

func (s *Storage) imageKey(id coconut.RecipeID) string {
	return fmt.Sprintf("%simage:%s", s.config.KeyPrefix, id)
}

func (s *Storage) metaKey(id coconut.RecipeID) string {
	return fmt.Sprintf("%smeta:%s", s.config.KeyPrefix, id)
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
