package data

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

// MessagesStore provides message operations on chats/{id}/messages.
type MessagesStore struct {
	store docstore.Store
}

// NewMessagesStore returns a MessagesStore over the given document store.
func NewMessagesStore(store docstore.Store) *MessagesStore {
	return &MessagesStore{store: store}
}

// MessagesPath is the subcollection holding a conversation's messages.
func MessagesPath(conversationID string) string {
	return docstore.Join(ChatsCollection, conversationID, MessagesCollection)
}

// SaveMessage appends a message with a store-assigned id and a server
// timestamp, returning the new id.
func (m *MessagesStore) SaveMessage(ctx context.Context, conversationID, senderEmail, authorUserID, text string) (string, error) {
	fields := docstore.Fields{
		fieldText:      text,
		fieldSender:    senderEmail,
		fieldUserID:    authorUserID,
		fieldTimestamp: docstore.ServerTimestamp,
	}
	id, err := m.store.Append(ctx, MessagesPath(conversationID), fields)
	if err != nil {
		return "", fmt.Errorf("save message in %s: %w", conversationID, err)
	}
	return id, nil
}

// WatchRecent streams the most recent window messages of a conversation,
// oldest first. Every change re-delivers the whole window.
func (m *MessagesStore) WatchRecent(ctx context.Context, conversationID string, window int) (*docstore.Feed[[]Message], error) {
	sub, err := m.store.LiveQuery(ctx, docstore.Query{
		Collection:  MessagesPath(conversationID),
		OrderBy:     fieldTimestamp,
		Direction:   docstore.Ascending,
		Limit:       window,
		LimitToLast: true,
	})
	if err != nil {
		return nil, err
	}
	return docstore.NewFeed(sub, func(s docstore.Snapshot) []Message {
		msgs := make([]Message, 0, len(s.Docs))
		for _, d := range s.Docs {
			msgs = append(msgs, Message{
				ID:             d.ID,
				ConversationID: conversationID,
				Text:           d.Fields.String(fieldText),
				SenderEmail:    d.Fields.String(fieldSender),
				AuthorUserID:   d.Fields.String(fieldUserID),
				CreatedAt:      d.Fields.Time(fieldTimestamp),
			})
		}
		return msgs
	}), nil
}

// Indexes lists the query shapes the stores above run.
func Indexes() []docstore.Index {
	return []docstore.Index{
		{Name: UsersCollection},
		{Name: MessagesCollection, OrderBy: fieldTimestamp},
	}
}
