package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/audit"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type PreferenceHandler struct {
	prefs  repositories.PreferenceRepository
	audit  *audit.Emitter
	logger zerolog.Logger
}

func NewPreferenceHandler(prefs repositories.PreferenceRepository, emitter *audit.Emitter, logger zerolog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, audit: emitter, logger: logger}
}

// Get returns the caller's notification settings; an unset preference reads as disabled.
func (h *PreferenceHandler) Get(c *gin.Context) {
	pref, err := h.prefs.GetPreference(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", requestIDFromContext(c)).Msg("load notification settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notification settings"})
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *PreferenceHandler) Put(c *gin.Context) {
	var req struct {
		PushNotificationsEnabled *bool `json:"push_notifications_enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pref := models.NotificationPreference{UserID: userIDFromContext(c), PushNotificationsEnabled: *req.PushNotificationsEnabled}
	if err := h.prefs.SetPreference(c.Request.Context(), pref); err != nil {
		h.logger.Error().Err(err).Str("request_id", requestIDFromContext(c)).Msg("save notification settings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save notification settings"})
		return
	}
	h.audit.Emit(c.Request.Context(), "notification_settings.updated", requestIDFromContext(c), pref.UserID,
		map[string]any{"push_notifications_enabled": pref.PushNotificationsEnabled})
	c.JSON(http.StatusOK, pref)
}
