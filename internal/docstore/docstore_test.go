package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeHub_RegisterAndPublish(t *testing.T) {
	hub := NewChangeHub()

	var a, b int
	idA := hub.Register("chats/c1/messages", func() { a++ })
	_ = hub.Register("chats/c1/messages", func() { b++ })

	assert.Equal(t, 2, hub.Publish("chats/c1/messages"))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	hub.Unregister("chats/c1/messages", idA)
	hub.Unregister("chats/c1/messages", idA)

	assert.Equal(t, 1, hub.Publish("chats/c1/messages"))
	assert.Equal(t, 1, a, "unregistered listener should not be woken")
	assert.Equal(t, 2, b)
	assert.Equal(t, 0, hub.Publish("users"))
}

func TestChangeHub_PublishAll(t *testing.T) {
	hub := NewChangeHub()
	var n int
	hub.Register("users", func() { n++ })
	hub.Register("chats", func() { n++ })

	hub.PublishAll()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, hub.Count("users"))
}

func TestSubscription_ConflatesAndCancelsOnce(t *testing.T) {
	var cancels int
	sub := NewSubscription(func() { cancels++ })

	require.True(t, sub.Deliver(Snapshot{Docs: []Document{{ID: "1"}}}))
	require.True(t, sub.Deliver(Snapshot{Docs: []Document{{ID: "2"}}}))

	snap := <-sub.Updates()
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, "2", snap.Docs[0].ID)

	sub.Cancel()
	sub.Cancel()
	sub.Fail(errors.New("late"))

	assert.Equal(t, 1, cancels)
	assert.NoError(t, sub.Err())
	assert.False(t, sub.Deliver(Snapshot{}))
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestSubscription_Fail(t *testing.T) {
	sub := NewSubscription(nil)
	cause := errors.New("permission denied")
	sub.Fail(cause)
	assert.ErrorIs(t, sub.Err(), cause)
}

func TestWatch_RefetchesOnChange(t *testing.T) {
	hub := NewChangeHub()
	docs := []Document{{ID: "a"}}
	fetched := make(chan struct{}, 10)
	fetch := func(ctx context.Context, q Query) ([]Document, error) {
		fetched <- struct{}{}
		return append([]Document(nil), docs...), nil
	}

	sub, err := Watch(context.Background(), hub, Query{Collection: "users"}, fetch)
	require.NoError(t, err)
	defer sub.Cancel()

	snap := recv(t, sub)
	assert.Len(t, snap.Docs, 1)
	<-fetched

	docs = append(docs, Document{ID: "b"})
	hub.Publish("users")
	snap = recv(t, sub)
	assert.Len(t, snap.Docs, 2)

	sub.Cancel()
	assert.Equal(t, 0, hub.Count("users"))
}

func TestWatch_FetchErrorFails(t *testing.T) {
	hub := NewChangeHub()
	cause := errors.New("unavailable")
	sub, err := Watch(context.Background(), hub, Query{Collection: "users"}, func(context.Context, Query) ([]Document, error) {
		return nil, cause
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not fail")
	}
	assert.ErrorIs(t, sub.Err(), cause)
	assert.Equal(t, 0, hub.Count("users"))
}

func TestWatch_InvalidQuery(t *testing.T) {
	hub := NewChangeHub()
	_, err := Watch(context.Background(), hub, Query{Collection: "chats/c1"}, nil)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Watch(context.Background(), hub, Query{Collection: "users", LimitToLast: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestFeed_DecodesSnapshots(t *testing.T) {
	sub := NewSubscription(nil)
	feed := NewFeed(sub, func(s Snapshot) int { return len(s.Docs) })
	defer feed.Cancel()

	sub.Deliver(Snapshot{Docs: make([]Document, 3)})
	select {
	case n := <-feed.Updates():
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("no decoded snapshot")
	}

	feed.Cancel()
	<-feed.Done()
	assert.NoError(t, feed.Err())
}

func TestPaths(t *testing.T) {
	assert.NoError(t, ValidatePath("users"))
	assert.NoError(t, ValidatePath(Join("chats", "a_b", "messages")))
	assert.Error(t, ValidatePath("chats/a_b"))
	assert.Error(t, ValidatePath("chats//messages"))
	assert.Error(t, ValidateID("a/b"))

	parent, name := Split("chats/a_b/messages")
	assert.Equal(t, "chats/a_b", parent)
	assert.Equal(t, "messages", name)

	parent, name = Split("users")
	assert.Equal(t, "", parent)
	assert.Equal(t, "users", name)
}

func TestCompareValues(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, -1, CompareValues(nil, "a"))
	assert.Equal(t, -1, CompareValues(t0, t0.Add(time.Millisecond)))
	assert.Equal(t, 1, CompareValues("b", "a"))
	assert.Equal(t, 0, CompareValues(int64(3), 3.0))
	assert.Equal(t, -1, CompareValues("z", t0))
}

func TestFieldsAccessors(t *testing.T) {
	f := Fields{
		"participants": []any{"a@x.com", "b@x.com"},
		"name":         "Alice",
	}
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, f.Strings("participants"))
	assert.Equal(t, "Alice", f.String("name"))
	assert.Equal(t, "", f.String("missing"))
	assert.True(t, f.Time("missing").IsZero())
	assert.True(t, IsServerTimestamp(ServerTimestamp))
}

func recv(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case s := <-sub.Updates():
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}
