package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ride-messaging/internal/store"
)

type KVMock struct {
	mock.Mock
}

func (m *KVMock) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	var value []byte
	if val := args.Get(0); val != nil {
		value = val.([]byte)
	}
	return value, args.Bool(1), args.Error(2)
}

func (m *KVMock) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

var _ store.KV = (*KVMock)(nil)
