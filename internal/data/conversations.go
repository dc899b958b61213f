package data

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

// ConversationsStore provides chats/{id} operations.
type ConversationsStore struct {
	store docstore.Store
}

func NewConversationsStore(store docstore.Store) *ConversationsStore {
	return &ConversationsStore{store: store}
}

// Touch creates the conversation or refreshes it: participants and
// updatedAt are merged in, anything else on the record is kept.
func (c *ConversationsStore) Touch(ctx context.Context, id string, participants []string) error {
	fields := docstore.Fields{
		fieldParticipants: participants,
		fieldUpdatedAt:    docstore.ServerTimestamp,
	}
	if err := c.store.Upsert(ctx, ChatsCollection, id, fields, docstore.Merge); err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}

// MarkActivity bumps updatedAt after a message was appended.
func (c *ConversationsStore) MarkActivity(ctx context.Context, id string) error {
	fields := docstore.Fields{fieldUpdatedAt: docstore.ServerTimestamp}
	if err := c.store.Upsert(ctx, ChatsCollection, id, fields, docstore.Merge); err != nil {
		return fmt.Errorf("mark activity %s: %w", id, err)
	}
	return nil
}

// GetConversation returns docstore.ErrNotFound for an unknown id.
func (c *ConversationsStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	doc, err := c.store.Get(ctx, ChatsCollection, id)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:                doc.ID,
		ParticipantEmails: doc.Fields.Strings(fieldParticipants),
		LastActivityAt:    doc.Fields.Time(fieldUpdatedAt),
	}, nil
}
