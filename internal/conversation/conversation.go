// Package conversation derives the shared id of a two-party conversation
// and makes sure its record exists.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/normalize"
	"github.com/PaulBabatuyi/directchat/internal/observability"
)

// DeriveID returns low+"_"+high for the two emails. It is commutative and
// does no normalization.
func DeriveID(a, b string) (string, error) {
	low, high, err := order(a, b)
	if err != nil {
		return "", err
	}
	return low + "_" + high, nil
}

func order(a, b string) (string, string, error) {
	if err := validate(a); err != nil {
		return "", "", err
	}
	if err := validate(b); err != nil {
		return "", "", err
	}
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

func validate(email string) error {
	if email == "" {
		return chaterr.InvalidParticipant("participant email is empty")
	}
	if strings.ContainsAny(email, " \t\r\n/") {
		return chaterr.InvalidParticipant(fmt.Sprintf("invalid participant email %q", email))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return chaterr.InvalidParticipant(fmt.Sprintf("invalid participant email %q", email))
	}
	return nil
}

type Resolver struct {
	convs     *data.ConversationsStore
	fold      bool
	publisher events.Publisher
	logger    *slog.Logger
}

// NewResolver returns a Resolver. With foldCase set, emails are trimmed and
// lower-cased before the id is derived.
func NewResolver(convs *data.ConversationsStore, foldCase bool, publisher events.Publisher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		convs:     convs,
		fold:      foldCase,
		publisher: publisher,
		logger:    logger.With("component", "conversation"),
	}
}

// FoldsCase reports whether emails are case-folded before ids are derived.
func (r *Resolver) FoldsCase() bool { return r.fold }

// Resolve derives the conversation id for a and b and merge-upserts
// chats/{id} with the sorted participants and a fresh updatedAt.
func (r *Resolver) Resolve(ctx context.Context, a, b string) (id string, err error) {
	ctx, span := observability.StartSpan(ctx, "directchat/conversation", "conversation.resolve")
	defer func() { observability.EndSpan(span, err) }()

	if r.fold {
		a, b = normalize.Email(a), normalize.Email(b)
	}
	low, high, err := order(a, b)
	if err != nil {
		return "", err
	}
	id = low + "_" + high
	span.SetAttributes(attribute.String("conversation.id", id))

	if err := r.convs.Touch(ctx, id, []string{low, high}); err != nil {
		r.logger.Error("failed to persist conversation", "conversation_id", id, "err", err)
		return "", chaterr.ConversationPersist(err)
	}

	observability.IncConversationsResolved()
	events.Emit(ctx, r.publisher, r.logger, events.ConversationResolved, map[string]any{
		"conversation_id": id,
		"participants":    []string{low, high},
	})
	return id, nil
}
