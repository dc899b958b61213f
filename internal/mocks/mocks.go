package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/identity"
)

type StoreMock struct {
	mock.Mock
}

var _ docstore.Store = (*StoreMock)(nil)

func (m *StoreMock) Upsert(ctx context.Context, collection, id string, fields docstore.Fields, mode docstore.WriteMode) error {
	args := m.Called(ctx, collection, id, fields, mode)
	return args.Error(0)
}

func (m *StoreMock) Append(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	args := m.Called(ctx, collection, fields)
	return args.String(0), args.Error(1)
}

func (m *StoreMock) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	args := m.Called(ctx, collection, id)
	return args.Get(0).(docstore.Document), args.Error(1)
}

func (m *StoreMock) LiveQuery(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	args := m.Called(ctx, q)
	sub, _ := args.Get(0).(*docstore.Subscription)
	return sub, args.Error(1)
}

func (m *StoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type ProviderMock struct {
	mock.Mock
}

var _ identity.Provider = (*ProviderMock)(nil)

func (m *ProviderMock) BeginInteractiveSignIn(ctx context.Context, cred identity.Credential) (identity.Identity, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(identity.Identity), args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

var _ events.Publisher = (*PublisherMock)(nil)

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
