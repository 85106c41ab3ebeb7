package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRoomRead(ctx context.Context, roomID string, userID string) (int64, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, roomID string, userID string) (int, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Int(0), args.Error(1)
}

type PreferenceRepositoryMock struct {
	mock.Mock
}

func (m *PreferenceRepositoryMock) GetPreference(ctx context.Context, userID string) (models.NotificationPreference, error) {
	args := m.Called(ctx, userID)
	var pref models.NotificationPreference
	if val := args.Get(0); val != nil {
		pref = val.(models.NotificationPreference)
	}
	return pref, args.Error(1)
}

func (m *PreferenceRepositoryMock) SetPreference(ctx context.Context, pref models.NotificationPreference) error {
	args := m.Called(ctx, pref)
	return args.Error(0)
}

type PresenterMock struct {
	mock.Mock
}

func (m *PresenterMock) Present(ctx context.Context, n models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.PreferenceRepository = (*PreferenceRepositoryMock)(nil)
