package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/directchat/internal/docstore/memory"
)

func TestUsersUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	users := NewUsersStore(memory.New())

	err := users.Upsert(ctx, User{ID: "u1", Email: "alice@x.com", DisplayName: "Alice"})
	require.NoError(t, err)

	got, err := users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", got.Email)
	assert.Equal(t, "Alice", got.Label())
	assert.False(t, got.LastSeen.IsZero(), "lastSeen should be stamped by the store")

	first := got.LastSeen
	require.NoError(t, users.Upsert(ctx, User{ID: "u1", Email: "alice@x.com", DisplayName: "Alice"}))
	got, err = users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.After(first))
}

func TestUsersWatchFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	users := NewUsersStore(memory.New())

	for _, u := range []User{{ID: "a", Email: "a@x.com"}, {ID: "b", Email: "b@x.com"}} {
		require.NoError(t, users.Upsert(ctx, u))
	}

	feed, err := users.Watch(ctx, func(u User) bool { return u.Email != "b@x.com" })
	require.NoError(t, err)
	defer feed.Cancel()

	select {
	case roster := <-feed.Updates():
		require.Len(t, roster, 1)
		assert.Equal(t, "a@x.com", roster[0].Email)
	case <-time.After(time.Second):
		t.Fatal("no roster snapshot")
	}
}

func TestUserLabelFallsBackToEmail(t *testing.T) {
	assert.Equal(t, "carol@x.com", User{Email: "carol@x.com"}.Label())
}
