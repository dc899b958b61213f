// Package stream opens live message windows and appends messages to a
// conversation.
package stream

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/identity"
	"github.com/PaulBabatuyi/directchat/internal/observability"
)

// DefaultWindow is how many of the most recent messages a stream tracks.
const DefaultWindow = 100

// Messages is a live message window, oldest first.
type Messages = docstore.Feed[[]data.Message]

type Service struct {
	msgs      *data.MessagesStore
	convs     *data.ConversationsStore
	window    int
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(msgs *data.MessagesStore, convs *data.ConversationsStore, window int, publisher events.Publisher, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		msgs:      msgs,
		convs:     convs,
		window:    window,
		publisher: publisher,
		logger:    logger.With("component", "stream"),
	}
}

// Open subscribes to the conversation's most recent messages.
func (s *Service) Open(ctx context.Context, conversationID string) (*Messages, error) {
	feed, err := s.msgs.WatchRecent(ctx, conversationID, s.window)
	if err != nil {
		s.logger.Error("message stream failed", "conversation_id", conversationID, "err", err)
		return nil, chaterr.MessageStream(err)
	}
	return feed, nil
}

// Send appends text to the conversation and then bumps its updatedAt.
// Whitespace-only text is ignored and returns an empty id. The two writes
// are not atomic: a failed bump after a successful append still reports a
// SendError while the message stays visible.
func (s *Service) Send(ctx context.Context, conversationID string, sender identity.Identity, text string) (id string, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}

	ctx, span := observability.StartSpan(ctx, "directchat/stream", "stream.send",
		attribute.String("conversation.id", conversationID))
	defer func() { observability.EndSpan(span, err) }()

	if conversationID == "" || sender.Email == "" {
		return "", chaterr.New(chaterr.KindSend, "no conversation or sender")
	}

	id, err = s.msgs.SaveMessage(ctx, conversationID, sender.Email, sender.UID, trimmed)
	if err != nil {
		s.logger.Error("failed to append message", "conversation_id", conversationID, "err", err)
		return "", chaterr.Send(err)
	}
	if err := s.convs.MarkActivity(ctx, conversationID); err != nil {
		s.logger.Error("failed to update conversation activity", "conversation_id", conversationID, "message_id", id, "err", err)
		return "", chaterr.Send(err)
	}

	observability.IncMessagesSent()
	events.Emit(ctx, s.publisher, s.logger, events.MessageSent, map[string]string{
		"conversation_id": conversationID,
		"message_id":      id,
		"sender":          sender.Email,
	})
	return id, nil
}
