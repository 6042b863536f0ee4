package mocks

import (
	"github.com/stretchr/testify/mock"

	"ride-messaging/internal/models"
)

type PresenceSourceMock struct {
	mock.Mock
}

func (m *PresenceSourceMock) Presence(userID string) models.UserStatusInfo {
	args := m.Called(userID)
	return args.Get(0).(models.UserStatusInfo)
}

func (m *PresenceSourceMock) OnlineUsers() []string {
	args := m.Called()
	if users := args.Get(0); users != nil {
		return users.([]string)
	}
	return nil
}
