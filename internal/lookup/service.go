// Package lookup answers "which tenant owns this domain" with a tiered
// cache: in-process map, then Redis, then the domain store. Correctness
// under asynchronous state changes comes from explicit invalidation at
// every mutation site, bounded by the cache TTLs.
package lookup

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"
	"github.com/storeward/tenant-edge/internal/core"
	"github.com/storeward/tenant-edge/internal/storage/redis"
)

const redisKeyPrefix = "tenant:domain:"

// Store is the durable tier behind both caches.
type Store interface {
	ResolveTenantID(ctx context.Context, domainName string) (uuid.UUID, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error)
}

type Options struct {
	LocalTTL    time.Duration
	RedisTTL    time.Duration
	NegativeTTL time.Duration
}

// cachedTenant is the wire form shared by both cache tiers. NotFound
// entries absorb repeated lookups for bogus Host headers.
type cachedTenant struct {
	TenantID uuid.UUID         `json:"tenant_id"`
	Slug     string            `json:"slug"`
	Status   core.TenantStatus `json:"status"`
	NotFound bool              `json:"not_found,omitempty"`
}

type Service struct {
	store  Store
	cache  *redis.Client
	local  *memoryCache
	group  singleflight.Group
	logger *zap.Logger
	opts   Options
}

func NewService(store Store, cache *redis.Client, logger *zap.Logger, opts Options) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		local:  newMemoryCache(),
		logger: logger,
		opts:   opts,
	}
}

// Resolve maps a domain name to its owning tenant, walking the tiers
// in order and repopulating them on the way back up. Returns
// core.ErrNotFound for unknown domains, including cached negatives.
func (s *Service) Resolve(ctx context.Context, domainName string) (*core.TenantInfo, error) {
	key := core.NormalizeDomainName(domainName)

	if info, negative, ok := s.local.Get(key); ok {
		if negative {
			return nil, core.ErrNotFound
		}
		return info, nil
	}

	var cached cachedTenant
	err := s.cache.GetJSON(ctx, redisKeyPrefix+key, &cached)
	switch {
	case err == nil:
		if cached.NotFound {
			s.local.SetNegative(key, s.opts.NegativeTTL)
			return nil, core.ErrNotFound
		}
		info := &core.TenantInfo{TenantID: cached.TenantID, Slug: cached.Slug, Status: cached.Status}
		s.local.Set(key, info, s.opts.LocalTTL)
		return info, nil
	case errors.Is(err, goredis.Nil):
		// miss, fall through to the store
	default:
		// Degraded Redis must not take the request path down; the store
		// still answers.
		s.logger.Warn("redis lookup failed, falling back to store",
			zap.String("domain", key), zap.Error(err))
	}

	return s.resolveFromStore(ctx, key)
}

func (s *Service) resolveFromStore(ctx context.Context, key string) (*core.TenantInfo, error) {
	// Coalesce concurrent misses on the same key into one store read.
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		tenantID, err := s.store.ResolveTenantID(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			s.cacheNegative(ctx, key)
			return nil, core.ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		tenant, err := s.store.GetTenant(ctx, tenantID)
		if errors.Is(err, core.ErrNotFound) {
			// Domain row without its tenant; treat as unknown.
			s.cacheNegative(ctx, key)
			return nil, core.ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		info := &core.TenantInfo{TenantID: tenant.ID, Slug: tenant.Slug, Status: tenant.Status}
		s.cachePositive(ctx, key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*core.TenantInfo), nil
}

func (s *Service) cachePositive(ctx context.Context, key string, info *core.TenantInfo) {
	s.local.Set(key, info, s.opts.LocalTTL)

	cached := cachedTenant{TenantID: info.TenantID, Slug: info.Slug, Status: info.Status}
	if err := s.cache.SetJSON(ctx, redisKeyPrefix+key, cached, s.opts.RedisTTL); err != nil {
		s.logger.Warn("failed to populate redis cache", zap.String("domain", key), zap.Error(err))
	}
}

func (s *Service) cacheNegative(ctx context.Context, key string) {
	s.local.SetNegative(key, s.opts.NegativeTTL)

	if err := s.cache.SetJSON(ctx, redisKeyPrefix+key, cachedTenant{NotFound: true}, s.opts.NegativeTTL); err != nil {
		s.logger.Warn("failed to cache negative result", zap.String("domain", key), zap.Error(err))
	}
}

// Invalidate removes the domain from both tiers. Every writer of domain
// state calls this synchronously after persisting. Removing an absent
// entry is a no-op.
func (s *Service) Invalidate(ctx context.Context, domainName string) error {
	key := core.NormalizeDomainName(domainName)
	s.local.Remove(key)

	if err := s.cache.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return err
	}

	return nil
}
