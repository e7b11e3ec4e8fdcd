package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// FallbackStore is a testify mock of interfaces.FallbackStore.
type FallbackStore struct {
	mock.Mock
}

func (m *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *FallbackStore) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *FallbackStore) Remove(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}
