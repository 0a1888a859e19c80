package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"semaphore/auth-core/internal/cache"
	"semaphore/auth-core/internal/model"
)

// CacheObserver counts read-through hits and misses.
type CacheObserver interface {
	ObserveCache(hit bool)
}

// CachedStore serves GetByID from Redis and invalidates the entry on every
// mutation. Cache failures degrade to the wrapped store.
type CachedStore struct {
	Store
	cache    *cache.Cache
	logger   *slog.Logger
	observer CacheObserver
}

func NewCachedStore(store Store, c *cache.Cache, logger *slog.Logger, observer CacheObserver) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: store, cache: c, logger: logger, observer: observer}
}

// UserCachePattern matches every cached user entry under the cache prefix.
const UserCachePattern = "user:*"

func userKey(id string) string {
	return "user:" + id
}

func (s *CachedStore) GetByID(ctx context.Context, id string) (model.User, error) {
	var user model.User
	err := s.cache.Get(ctx, userKey(id), &user)
	if err == nil {
		s.observe(true)
		return user, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("user cache read failed", "user_id", id, "error", err)
	}
	s.observe(false)

	user, err = s.Store.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if err := s.cache.Set(ctx, userKey(id), user, 0); err != nil {
		s.logger.Warn("user cache write failed", "user_id", id, "error", err)
	}
	return user, nil
}

// GetByIDFresh always goes to the wrapped store. A failed invalidation or a
// racing read-through can leave a stale entry behind for up to the cache TTL.
func (s *CachedStore) GetByIDFresh(ctx context.Context, id string) (model.User, error) {
	return s.Store.GetByIDFresh(ctx, id)
}

func (s *CachedStore) Update(ctx context.Context, user model.User) (model.User, error) {
	updated, err := s.Store.Update(ctx, user)
	s.invalidate(ctx, user.ID)
	return updated, err
}

func (s *CachedStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	err := s.Store.UpdatePassword(ctx, id, passwordHash, updatedAt)
	s.invalidate(ctx, id)
	return err
}

func (s *CachedStore) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	err := s.Store.Deactivate(ctx, id, updatedAt)
	s.invalidate(ctx, id)
	return err
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, userKey(id)); err != nil {
		s.logger.Warn("user cache invalidation failed", "user_id", id, "error", err)
	}
}

func (s *CachedStore) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCache(hit)
	}
}
