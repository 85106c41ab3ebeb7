// Package preferences caches the current user's notification settings.
package preferences

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chat-sync/internal/models"
)

// Store loads notification settings.
type Store interface {
	GetPreference(ctx context.Context, userID string) (models.NotificationPreference, error)
}

// Cache holds one user's preference. Values may be stale until Refresh; that is acceptable.
type Cache struct {
	store  Store
	userID string
	logger zerolog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	pref   models.NotificationPreference
	loaded bool
	gen    uint64
}

// NewCache builds an empty cache for userID.
func NewCache(store Store, userID string, logger zerolog.Logger) *Cache {
	return &Cache{store: store, userID: userID, logger: logger.With().Str("component", "preferences").Logger()}
}

// Latest returns the cached value without blocking. ok is false until a load succeeds.
func (c *Cache) Latest() (pref models.NotificationPreference, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pref, c.loaded
}

// Get returns the cached value, loading it on first need.
func (c *Cache) Get(ctx context.Context) models.NotificationPreference {
	if pref, ok := c.Latest(); ok {
		return pref
	}
	return c.load(ctx)
}

// Refresh reloads the value, e.g. after a settings change.
func (c *Cache) Refresh(ctx context.Context) models.NotificationPreference {
	return c.load(ctx)
}

// Reset drops the cached value; loads already in flight will not repopulate it.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.pref = models.NotificationPreference{}
	c.loaded = false
	c.gen++
	c.mu.Unlock()
}

// load collapses concurrent loads. A failed load reports push disabled and leaves the cache unloaded
// so the next caller retries.
func (c *Cache) load(ctx context.Context) models.NotificationPreference {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// Keyed by generation so a load started before Reset is never shared with one started after it.
	v, _, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		pref, err := c.store.GetPreference(ctx, c.userID)
		if err != nil {
			c.logger.Warn().Err(err).Str("user_id", c.userID).Msg("notification settings load failed")
			return models.NotificationPreference{UserID: c.userID}, nil
		}
		pref.UserID = c.userID

		c.mu.Lock()
		if c.gen == gen {
			c.pref = pref
			c.loaded = true
		}
		c.mu.Unlock()
		return pref, nil
	})
	return v.(models.NotificationPreference)
}
