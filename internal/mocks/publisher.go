package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ride-messaging/internal/observability"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ observability.Publisher = (*PublisherMock)(nil)
