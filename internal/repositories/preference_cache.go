package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
)

// CachedPreferenceRepo puts a Redis read-through cache in front of another PreferenceRepository.
// Redis failures fall through to the backing repository.
type CachedPreferenceRepo struct {
	next   PreferenceRepository
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedPreferenceRepo connects to Redis and wraps next.
func NewCachedPreferenceRepo(ctx context.Context, redisURL string, ttl time.Duration, next PreferenceRepository, logger zerolog.Logger) (*CachedPreferenceRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &CachedPreferenceRepo{next: next, client: client, ttl: ttl, logger: logger}, nil
}

func preferenceKey(userID string) string {
	return fmt.Sprintf("notification_settings:%s:push", userID)
}

// GetPreference serves from Redis when possible.
func (r *CachedPreferenceRepo) GetPreference(ctx context.Context, userID string) (models.NotificationPreference, error) {
	val, err := r.client.Get(ctx, preferenceKey(userID)).Result()
	if err == nil {
		if enabled, perr := strconv.ParseBool(val); perr == nil {
			return models.NotificationPreference{UserID: userID, PushNotificationsEnabled: enabled}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("preference cache read failed")
	}

	pref, err := r.next.GetPreference(ctx, userID)
	if err != nil {
		return models.NotificationPreference{}, err
	}
	if err := r.client.Set(ctx, preferenceKey(userID), strconv.FormatBool(pref.PushNotificationsEnabled), r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("preference cache write failed")
	}
	return pref, nil
}

// SetPreference writes through and invalidates the cached value.
func (r *CachedPreferenceRepo) SetPreference(ctx context.Context, pref models.NotificationPreference) error {
	if err := r.next.SetPreference(ctx, pref); err != nil {
		return err
	}
	if err := r.client.Del(ctx, preferenceKey(pref.UserID)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("user_id", pref.UserID).Msg("preference cache invalidation failed")
	}
	return nil
}

// Close closes the Redis connection.
func (r *CachedPreferenceRepo) Close() error {
	return r.client.Close()
}
