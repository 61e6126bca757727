package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a redirect may serve a destination that was
// changed without going through the invalidation hooks.
const DefaultTTL = time.Hour

const (
	linkKeyPrefix   = "link:"
	linkIDKeyPrefix = "linkid:"
)

// Entry is what the hot path needs to answer a redirect: the destination,
// plus the owning link id when the secondary key is still present. LinkID
// may be uuid.Nil on a hit; it is only used for analytics.
type Entry struct {
	DestinationURL string
	LinkID         uuid.UUID
}

type RedirectCacheInterface interface {
	Get(ctx context.Context, slug string) (*Entry, error)
	GetLinkID(ctx context.Context, slug string) (uuid.UUID, error)
	Set(ctx context.Context, slug string, destinationURL string, linkID uuid.UUID, ttl time.Duration) error
	Invalidate(ctx context.Context, slug string) error
}

type RedirectCache struct {
	client *redis.Client
}

func NewRedirectCache(client *redis.Client) *RedirectCache {
	return &RedirectCache{client: client}
}

// Get returns (nil, nil) on a miss. The linkid key is read best-effort in
// the same round trip; its absence does not turn a hit into a miss.
func (c *RedirectCache) Get(ctx context.Context, slug string) (*Entry, error) {
	vals, err := c.client.MGet(ctx, linkKeyPrefix+slug, linkIDKeyPrefix+slug).Result()
	if err != nil {
		return nil, err
	}

	dest, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}

	entry := &Entry{DestinationURL: dest}
	if raw, ok := vals[1].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			entry.LinkID = id
		}
	}
	return entry, nil
}

// GetLinkID resolves the secondary linkid key alone. Returns uuid.Nil on a
// miss without an error so callers can fall back to the store.
func (c *RedirectCache) GetLinkID(ctx context.Context, slug string) (uuid.UUID, error) {
	raw, err := c.client.Get(ctx, linkIDKeyPrefix+slug).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil
	}
	return id, nil
}

// Set writes both keys with the same TTL. A repeated Set refreshes the TTL
// rather than extending the existing one.
func (c *RedirectCache) Set(ctx context.Context, slug string, destinationURL string, linkID uuid.UUID, ttl time.Duration) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, linkKeyPrefix+slug, destinationURL, ttl)
	pipe.Set(ctx, linkIDKeyPrefix+slug, linkID.String(), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate removes all cache state for a slug. Mutation handlers must call
// this synchronously before reporting success, otherwise a client could
// observe stale cached behavior its own response implies is gone.
func (c *RedirectCache) Invalidate(ctx context.Context, slug string) error {
	return c.client.Del(ctx, linkKeyPrefix+slug, linkIDKeyPrefix+slug).Err()
}
