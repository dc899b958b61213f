package data

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

// UsersStore provides user record operations.
type UsersStore struct {
	store docstore.Store
}

// NewUsersStore returns a UsersStore over the given document store.
func NewUsersStore(store docstore.Store) *UsersStore {
	return &UsersStore{store: store}
}

// Upsert merges the user's profile into users/{uid} and stamps lastSeen
// with the server time. Fields the write does not name are kept.
func (u *UsersStore) Upsert(ctx context.Context, user User) error {
	fields := docstore.Fields{
		fieldUID:      user.ID,
		fieldEmail:    user.Email,
		fieldName:     user.DisplayName,
		fieldPhotoURL: user.AvatarURL,
		fieldLastSeen: docstore.ServerTimestamp,
	}
	if err := u.store.Upsert(ctx, UsersCollection, user.ID, fields, docstore.Merge); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return nil
}

// GetUser returns the user with the given uid.
func (u *UsersStore) GetUser(ctx context.Context, uid string) (User, error) {
	doc, err := u.store.Get(ctx, UsersCollection, uid)
	if err != nil {
		return User{}, err
	}
	return decodeUser(doc), nil
}

// Watch streams the full roster in arrival order. Users for which keep
// returns false are left out; a nil keep keeps everyone.
func (u *UsersStore) Watch(ctx context.Context, keep func(User) bool) (*docstore.Feed[[]User], error) {
	sub, err := u.store.LiveQuery(ctx, docstore.Query{Collection: UsersCollection})
	if err != nil {
		return nil, err
	}
	return docstore.NewFeed(sub, func(s docstore.Snapshot) []User {
		users := make([]User, 0, len(s.Docs))
		for _, d := range s.Docs {
			user := decodeUser(d)
			if keep == nil || keep(user) {
				users = append(users, user)
			}
		}
		return users
	}), nil
}

func decodeUser(d docstore.Document) User {
	id := d.Fields.String(fieldUID)
	if id == "" {
		id = d.ID
	}
	return User{
		ID:          id,
		Email:       d.Fields.String(fieldEmail),
		DisplayName: d.Fields.String(fieldName),
		AvatarURL:   d.Fields.String(fieldPhotoURL),
		LastSeen:    d.Fields.Time(fieldLastSeen),
	}
}
