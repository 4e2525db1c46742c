package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedTokenStore adds read-aside caching of Fetch to any TokenStore.
// Writes go to the wrapped store first and then invalidate the cache.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

func (s *CachedTokenStore) Fetch(ctx context.Context, user urn.URN) ([]apns.DeviceToken, error) {
	key := s.cacheKey(user)

	var cached []apns.DeviceToken
	cacheErr := s.cache.Get(ctx, key, &cached)
	if cacheErr == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// Only refill on a clean miss; an unreachable cache is left alone.
	// A failed fill only costs the next caller a store read.
	if errors.Is(cacheErr, ErrCacheMiss) {
		_ = s.cache.Set(ctx, key, fresh, s.ttl)
	}
	return fresh, nil
}

// Register also invalidates the previous owner's entry, since registering
// a token moves it between users.
func (s *CachedTokenStore) Register(ctx context.Context, user urn.URN, token apns.DeviceToken) error {
	previous, ownerErr := s.realStore.Owner(ctx, token)
	if ownerErr != nil && !errors.Is(ownerErr, dispatch.ErrTokenNotFound) {
		return ownerErr
	}
	if err := s.realStore.Register(ctx, user, token); err != nil {
		return err
	}
	if ownerErr == nil && previous.User.String() != user.String() {
		if err := s.invalidate(ctx, previous.User); err != nil {
			return err
		}
	}
	return s.invalidate(ctx, user)
}

// Unregister clears the cache even when the store had nothing to delete, so
// a stale entry cannot keep a removed device receiving pushes.
func (s *CachedTokenStore) Unregister(ctx context.Context, user urn.URN, token apns.DeviceToken) error {
	if err := s.realStore.Unregister(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// Owner is not cached; the feedback sweep needs the current owner.
func (s *CachedTokenStore) Owner(ctx context.Context, token apns.DeviceToken) (dispatch.TokenOwner, error) {
	return s.realStore.Owner(ctx, token)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, user urn.URN) error {
	if err := s.cache.Del(ctx, s.cacheKey(user)); err != nil {
		return fmt.Errorf("failed to invalidate token cache for %s: %w", user.String(), err)
	}
	return nil
}

func (s *CachedTokenStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("apns:tokens:%s", user.String())
}
