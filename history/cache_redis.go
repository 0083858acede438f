// Redis read-through cache for version manifests.
//
// Version manifests are immutable once written, which makes them ideal
// cache entries: the cache never needs invalidation, only TTL-based decay
// to bound memory. Live manifests and version listings change underneath
// callers and are deliberately never cached here.
//
// Cache failures are soft: a Redis error on read or write is logged and
// the call falls through to the underlying store.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisManifestPrefix = "vams:history:manifest:"

const defaultRedisManifestTTL = 15 * time.Minute

// RedisManifestCache decorates a ContentStore with Redis caching of
// GetVersionManifest. All other operations pass through unchanged.
type RedisManifestCache struct {
	Store  ContentStore
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
	Logger *slog.Logger
}

// NewRedisManifestCache wraps store with a Redis manifest cache. Prefix
// namespaces cache keys so multiple environments can share one Redis; when
// empty a default namespace is used.
func NewRedisManifestCache(store ContentStore, client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisManifestCache, error) {
	if store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisManifestPrefix
	}
	if ttl <= 0 {
		ttl = defaultRedisManifestTTL
	}
	return &RedisManifestCache{Store: store, Client: client, Prefix: prefix, TTL: ttl, Logger: slog.Default()}, nil
}

// cachedManifestDoc is the JSON schema of one cached manifest.
type cachedManifestDoc struct {
	VersionID int64       `json:"version_id"`
	Entries   []FileEntry `json:"entries"`
	Comment   string      `json:"comment"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

func (c *RedisManifestCache) key(assetRef string, versionID int64) string {
	return fmt.Sprintf("%s%s:%d", c.Prefix, assetRef, versionID)
}

func (c *RedisManifestCache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *RedisManifestCache) GetVersionManifest(ctx context.Context, assetRef string, versionID int64) (VersionManifest, error) {
	if err := ctx.Err(); err != nil {
		return VersionManifest{}, err
	}
	if assetRef == "" {
		return VersionManifest{}, ErrMissingAssetRef
	}

	key := c.key(assetRef, versionID)
	raw, err := c.Client.Get(ctx, key).Bytes()
	if err == nil {
		var doc cachedManifestDoc
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil {
			return VersionManifest{
				VersionID: doc.VersionID,
				Manifest:  NewManifest(doc.Entries),
				Comment:   doc.Comment,
				CreatedBy: doc.CreatedBy,
				CreatedAt: doc.CreatedAt,
			}, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.logger().WarnContext(ctx, "dropping corrupt cached manifest", "key", key)
		_ = c.Client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger().WarnContext(ctx, "manifest cache read failed", "key", key, "error", err)
	}

	vm, err := c.Store.GetVersionManifest(ctx, assetRef, versionID)
	if err != nil {
		return VersionManifest{}, err
	}

	data, err := json.Marshal(cachedManifestDoc{
		VersionID: vm.VersionID,
		Entries:   vm.Manifest.Entries(),
		Comment:   vm.Comment,
		CreatedBy: vm.CreatedBy,
		CreatedAt: vm.CreatedAt,
	})
	if err == nil {
		if setErr := c.Client.Set(ctx, key, data, c.TTL).Err(); setErr != nil {
			c.logger().WarnContext(ctx, "manifest cache write failed", "key", key, "error", setErr)
		}
	}
	return vm, nil
}

func (c *RedisManifestCache) ListVersions(ctx context.Context, assetRef string, pageSize int, token string) (VersionPage, error) {
	return c.Store.ListVersions(ctx, assetRef, pageSize, token)
}

func (c *RedisManifestCache) GetCurrentManifest(ctx context.Context, assetRef string, includeArchived bool) (*Manifest, error) {
	return c.Store.GetCurrentManifest(ctx, assetRef, includeArchived)
}

func (c *RedisManifestCache) CreateVersion(ctx context.Context, assetRef string, in CreateVersionInput) (int64, error) {
	return c.Store.CreateVersion(ctx, assetRef, in)
}

func (c *RedisManifestCache) RevertToVersion(ctx context.Context, assetRef string, versionID int64, comment string, revertMetadata bool) (int64, error) {
	return c.Store.RevertToVersion(ctx, assetRef, versionID, comment, revertMetadata)
}
