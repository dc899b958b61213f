package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/docstore/memory"
	"github.com/PaulBabatuyi/directchat/internal/mocks"
)

func TestDeriveID(t *testing.T) {
	id, err := DeriveID("bob@x.com", "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com_bob@x.com", id)

	pairs := [][2]string{
		{"alice@x.com", "bob@x.com"},
		{"zed@y.org", "amy@z.net"},
		{"Bob@x.com", "bob@x.com"},
		{"same@x.com", "same@x.com"},
	}
	for _, p := range pairs {
		ab, err := DeriveID(p[0], p[1])
		require.NoError(t, err)
		ba, err := DeriveID(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, ab, ba, "DeriveID must be commutative for %v", p)
	}
}

func TestDeriveIDKeepsCase(t *testing.T) {
	upper, err := DeriveID("Alice@x.com", "bob@x.com")
	require.NoError(t, err)
	lower, err := DeriveID("alice@x.com", "bob@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, upper, lower)
}

func TestDeriveIDRejectsInvalid(t *testing.T) {
	for _, bad := range []string{"", "   ", "not-an-email", "Alice <alice@x.com>", "a/b@x.com", " alice@x.com"} {
		_, err := DeriveID(bad, "bob@x.com")
		assert.ErrorIs(t, err, chaterr.ErrInvalidParticipant, "input %q", bad)
	}
}

func TestResolveWritesConversation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	convs := data.NewConversationsStore(store)
	r := NewResolver(convs, false, nil, nil)

	id, err := r.Resolve(ctx, "bob@x.com", "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com_bob@x.com", id)

	c, err := convs.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@x.com", "bob@x.com"}, c.ParticipantEmails)
	assert.False(t, c.LastActivityAt.IsZero())

	first := c.LastActivityAt
	again, err := r.Resolve(ctx, "alice@x.com", "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	c, err = convs.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.LastActivityAt.After(first))
}

func TestResolveMergesExistingFields(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Upsert(ctx, data.ChatsCollection, "alice@x.com_bob@x.com",
		docstore.Fields{"topic": "lunch"}, docstore.Merge))

	_, err := NewResolver(data.NewConversationsStore(store), false, nil, nil).Resolve(ctx, "alice@x.com", "bob@x.com")
	require.NoError(t, err)

	doc, err := store.Get(ctx, data.ChatsCollection, "alice@x.com_bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, "lunch", doc.Fields.String("topic"))
}

func TestResolveFoldCase(t *testing.T) {
	r := NewResolver(data.NewConversationsStore(memory.New()), true, nil, nil)
	id, err := r.Resolve(context.Background(), " Bob@X.com", "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com_bob@x.com", id)
}

func TestResolvePersistFailure(t *testing.T) {
	store := &mocks.StoreMock{}
	store.On("Upsert", mock.Anything, data.ChatsCollection, "alice@x.com_bob@x.com", mock.Anything, docstore.Merge).
		Return(errors.New("unavailable")).Once()

	_, err := NewResolver(data.NewConversationsStore(store), false, nil, nil).Resolve(context.Background(), "alice@x.com", "bob@x.com")
	assert.ErrorIs(t, err, chaterr.ErrConversationPersist)
	store.AssertExpectations(t)
}

func TestResolveInvalidDoesNotWrite(t *testing.T) {
	store := &mocks.StoreMock{}
	_, err := NewResolver(data.NewConversationsStore(store), false, nil, nil).Resolve(context.Background(), "", "bob@x.com")
	assert.ErrorIs(t, err, chaterr.ErrInvalidParticipant)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolvePublishesEvent(t *testing.T) {
	pub := &mocks.PublisherMock{}
	pub.On("Publish", mock.Anything, "directchat.conversation.resolved", mock.Anything).Return(nil).Once()

	_, err := NewResolver(data.NewConversationsStore(memory.New()), false, pub, nil).Resolve(context.Background(), "alice@x.com", "bob@x.com")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}
