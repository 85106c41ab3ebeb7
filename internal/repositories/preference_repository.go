package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

// PreferenceRepository reads and writes notification settings.
type PreferenceRepository interface {
	GetPreference(ctx context.Context, userID string) (models.NotificationPreference, error)
	SetPreference(ctx context.Context, pref models.NotificationPreference) error
}

// PreferenceRepo is a sqlx implementation of PreferenceRepository.
type PreferenceRepo struct {
	db *sqlx.DB
}

// NewPreferenceRepo constructs a PreferenceRepo.
func NewPreferenceRepo(db *sqlx.DB) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

// GetPreference returns the user's settings; users without a row have push disabled.
func (r *PreferenceRepo) GetPreference(ctx context.Context, userID string) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := r.db.GetContext(ctx, &pref, `SELECT user_id, push_notifications_enabled FROM notification_settings WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotificationPreference{UserID: userID}, nil
	}
	return pref, err
}

// SetPreference upserts the user's settings.
func (r *PreferenceRepo) SetPreference(ctx context.Context, pref models.NotificationPreference) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_settings (user_id, push_notifications_enabled, updated_at) VALUES ($1, $2, NOW())
        ON CONFLICT (user_id) DO UPDATE SET push_notifications_enabled = EXCLUDED.push_notifications_enabled, updated_at = NOW()`,
		pref.UserID, pref.PushNotificationsEnabled)
	return err
}
