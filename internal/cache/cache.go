// Package cache puts a Redis cache-aside layer in front of room lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/npezzotti/classbot/internal/database"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "classbot:"
	DefaultTTL    = 5 * time.Minute
)

type Config struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

// Cache stores JSON values under a common key prefix.
type Cache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func New(client redis.Cmdable, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get decodes the cached value into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RoomRepository serves GetRoomByRoomId from the cache and forwards every
// other call to the wrapped repository. Cache failures fall through to the
// repository. Missing rooms are not cached, so a room provisioned later is
// found on the next lookup.
type RoomRepository struct {
	database.Repository
	cache  *Cache
	logger *slog.Logger
}

func NewRoomRepository(repo database.Repository, cache *Cache, logger *slog.Logger) *RoomRepository {
	return &RoomRepository{
		Repository: repo,
		cache:      cache,
		logger:     logger,
	}
}

func roomKey(roomId string) string {
	return "room:" + roomId
}

func (r *RoomRepository) GetRoomByRoomId(ctx context.Context, roomId string) (*database.Room, error) {
	var cached database.Room
	found, err := r.cache.Get(ctx, roomKey(roomId), &cached)
	if err != nil {
		r.logger.Warn("room cache unavailable", "room_id", roomId, "error", err)
	}
	if found {
		return &cached, nil
	}

	room, err := r.Repository.GetRoomByRoomId(ctx, roomId)
	if err != nil || room == nil {
		return room, err
	}

	if err := r.cache.Set(ctx, roomKey(roomId), room); err != nil {
		r.logger.Warn("failed to cache room", "room_id", roomId, "error", err)
	}
	return room, nil
}
