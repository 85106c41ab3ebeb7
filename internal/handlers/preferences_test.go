package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/audit"
	"chat-sync/internal/middleware"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupPreferenceRouter(repo *mocks.PreferenceRepositoryMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewPreferenceHandler(repo, nil, zerolog.Nop())
	r := gin.New()
	r.Use(middleware.RequireUser())
	r.GET("/users/me/notification-settings", handler.Get)
	r.PUT("/users/me/notification-settings", handler.Put)
	return r
}

func TestGetPreference(t *testing.T) {
	repo := new(mocks.PreferenceRepositoryMock)
	repo.On("GetPreference", mock.Anything, "u1").Return(models.NotificationPreference{UserID: "u1", PushNotificationsEnabled: true}, nil).Once()

	rec := do(setupPreferenceRouter(repo), http.MethodGet, "/users/me/notification-settings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"u1","push_notifications_enabled":true}`, rec.Body.String())
	repo.AssertExpectations(t)
}

func TestPutPreference(t *testing.T) {
	repo := new(mocks.PreferenceRepositoryMock)
	repo.On("SetPreference", mock.Anything, models.NotificationPreference{UserID: "u1"}).Return(nil).Once()

	rec := do(setupPreferenceRouter(repo), http.MethodPut, "/users/me/notification-settings", `{"push_notifications_enabled":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

func TestPutPreferenceEmitsAudit(t *testing.T) {
	repo := new(mocks.PreferenceRepositoryMock)
	pub := new(mocks.PublisherMock)
	repo.On("SetPreference", mock.Anything, models.NotificationPreference{UserID: "u1", PushNotificationsEnabled: true}).Return(nil).Once()
	pub.On("Publish", mock.Anything, audit.RoutingKey, mock.MatchedBy(func(e audit.Envelope) bool {
		return e.UserID == "u1" && e.Payload.Action == "notification_settings.updated"
	}), mock.Anything).Return(nil).Once()

	gin.SetMode(gin.TestMode)
	handler := NewPreferenceHandler(repo, audit.NewEmitter(pub, "chat-sync", "test", zerolog.Nop()), zerolog.Nop())
	r := gin.New()
	r.Use(middleware.RequireUser())
	r.PUT("/users/me/notification-settings", handler.Put)

	rec := do(r, http.MethodPut, "/users/me/notification-settings", `{"push_notifications_enabled":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPutPreferenceRequiresField(t *testing.T) {
	repo := new(mocks.PreferenceRepositoryMock)

	rec := do(setupPreferenceRouter(repo), http.MethodPut, "/users/me/notification-settings", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertNotCalled(t, "SetPreference", mock.Anything, mock.Anything)
}

func TestGetPreferenceError(t *testing.T) {
	repo := new(mocks.PreferenceRepositoryMock)
	repo.On("GetPreference", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	rec := do(setupPreferenceRouter(repo), http.MethodGet, "/users/me/notification-settings", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
