// Package directory serves the live roster of users a signed-in user can
// start a conversation with.
package directory

import (
	"context"
	"log/slog"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/normalize"
)

// Roster is a live roster subscription.
type Roster = docstore.Feed[[]data.User]

type Directory struct {
	users  *data.UsersStore
	fold   bool
	logger *slog.Logger
}

// New returns a Directory. With foldCase set, the current user is matched
// case-insensitively.
func New(users *data.UsersStore, foldCase bool, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{users: users, fold: foldCase, logger: logger.With("component", "directory")}
}

// Subscribe streams every known user except the one with excludeEmail, in
// arrival order. Each update carries the whole roster.
func (d *Directory) Subscribe(ctx context.Context, excludeEmail string) (*Roster, error) {
	feed, err := d.users.Watch(ctx, func(u data.User) bool {
		return !d.matches(u.Email, excludeEmail)
	})
	if err != nil {
		d.logger.Error("roster subscription failed", "err", err)
		return nil, chaterr.Directory(err)
	}
	return feed, nil
}

func (d *Directory) matches(a, b string) bool {
	if d.fold {
		return normalize.SameEmail(a, b)
	}
	return a == b
}
