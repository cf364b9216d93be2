// Package cache fronts a shortener.UserStore with an in-process ristretto
// cache. Users are never modified after Add, so entries never go stale;
// only misses reach the backing store.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

const DefaultMaxUsers = 10000

// Users is a read-through UserStore.
type Users struct {
	next  shortener.UserStore
	cache *ristretto.Cache
}

// NewUsers wraps next with a cache holding up to maxUsers entries.
func NewUsers(next shortener.UserStore, maxUsers int64) (*Users, error) {
	const op = "cache.NewUsers"

	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxUsers * 10,
		MaxCost:     maxUsers, // cost 1 per entry
		BufferItems: 64,
	})
	if err != nil {
		return nil, errx.E(op, errx.Internal, fmt.Errorf("ristretto: %w", err))
	}
	return &Users{next: next, cache: c}, nil
}

// Add stores user in the backing store and then caches it.
func (u *Users) Add(ctx context.Context, user shortener.User) error {
	if err := u.next.Add(ctx, user); err != nil {
		return err
	}
	u.cache.Set(key(user.ID), user, 1)
	return nil
}

// Get serves from the cache and falls back to the backing store. Misses
// are not cached, so a user added by another process is found later.
func (u *Users) Get(ctx context.Context, id uuid.UUID) (shortener.User, error) {
	if v, ok := u.cache.Get(key(id)); ok {
		return v.(shortener.User), nil
	}

	user, err := u.next.Get(ctx, id)
	if err != nil {
		return shortener.User{}, err
	}
	u.cache.Set(key(id), user, 1)
	return user, nil
}

// Wait blocks until buffered writes are visible to Get.
func (u *Users) Wait() { u.cache.Wait() }

func (u *Users) Close() { u.cache.Close() }

// ristretto hashes strings but not arrays, so ids are keyed by their text.
func key(id uuid.UUID) string { return id.String() }

var _ shortener.UserStore = (*Users)(nil)
