package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"reelhouse/internal/models"
)

const (
	defaultCacheTTL       = 30 * time.Second
	defaultCacheKeyPrefix = "reelhouse:asset"
	latestCacheKey        = "latest"
)

// cacheClient is the slice of the Redis API the cache needs; tests substitute
// a fake while production wiring passes a redis.UniversalClient.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisCacheConfig configures the Redis-backed descriptor cache.
type RedisCacheConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	MasterName   string
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// cachedRepository layers a read-through Redis cache over another Repository.
// Cache failures degrade to the underlying store; they never fail a request.
type cachedRepository struct {
	next   Repository
	client cacheClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps next with a Redis descriptor cache. The caller is
// responsible for ensuring the Redis instance is reachable; an unreachable
// instance degrades every read to the underlying store.
func NewRedisCache(next Repository, cfg RedisCacheConfig) (Repository, error) {
	if next == nil {
		return nil, fmt.Errorf("repository is required")
	}
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.MasterName,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return newCachedRepository(next, client, cfg), nil
}

func newCachedRepository(next Repository, client cacheClient, cfg RedisCacheConfig) *cachedRepository {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultCacheKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedRepository{
		next:   next,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *cachedRepository) key(id string) string {
	return c.prefix + ":" + id
}

func (c *cachedRepository) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

func (c *cachedRepository) Close(ctx context.Context) error {
	if err := c.client.Close(); err != nil {
		c.logger.Warn("close redis cache", "error", err)
	}
	return c.next.Close(ctx)
}

func (c *cachedRepository) CreateAsset(ctx context.Context, params CreateAssetParams) (models.Asset, error) {
	asset, err := c.next.CreateAsset(ctx, params)
	if err != nil {
		return models.Asset{}, err
	}
	c.invalidate(ctx, asset.ID)
	return asset, nil
}

func (c *cachedRepository) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	if asset, ok := c.lookup(ctx, c.key(id)); ok {
		return asset, nil
	}
	asset, err := c.next.GetAsset(ctx, id)
	if err != nil {
		return models.Asset{}, err
	}
	c.store(ctx, c.key(id), asset)
	return asset, nil
}

// ListAssets always hits the underlying store; listings are cheap there and
// caching them would multiply invalidation keys.
func (c *cachedRepository) ListAssets(ctx context.Context, ownerID string) ([]models.Asset, error) {
	return c.next.ListAssets(ctx, ownerID)
}

func (c *cachedRepository) LatestAsset(ctx context.Context) (models.Asset, error) {
	if asset, ok := c.lookup(ctx, c.key(latestCacheKey)); ok {
		return asset, nil
	}
	asset, err := c.next.LatestAsset(ctx)
	if err != nil {
		return models.Asset{}, err
	}
	c.store(ctx, c.key(latestCacheKey), asset)
	return asset, nil
}

func (c *cachedRepository) UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.Asset, error) {
	asset, err := c.next.UpdateAsset(ctx, id, update)
	if err != nil {
		return models.Asset{}, err
	}
	c.invalidate(ctx, id)
	return asset, nil
}

func (c *cachedRepository) DeleteAsset(ctx context.Context, id string) error {
	if err := c.next.DeleteAsset(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *cachedRepository) lookup(ctx context.Context, key string) (models.Asset, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache read failed", "key", key, "error", err)
		}
		return models.Asset{}, false
	}
	var asset models.Asset
	if err := json.Unmarshal(payload, &asset); err != nil {
		c.logger.Debug("cache entry undecodable", "key", key, "error", err)
		c.invalidateKeys(ctx, key)
		return models.Asset{}, false
	}
	return asset, true
}

func (c *cachedRepository) store(ctx context.Context, key string, asset models.Asset) {
	payload, err := json.Marshal(asset)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", "key", key, "error", err)
	}
}

func (c *cachedRepository) invalidate(ctx context.Context, id string) {
	c.invalidateKeys(ctx, c.key(id), c.key(latestCacheKey))
}

func (c *cachedRepository) invalidateKeys(ctx context.Context, keys ...string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Debug("cache invalidation failed", "keys", keys, "error", err)
	}
}
