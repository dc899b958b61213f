package main

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/auth"
	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/identity"
	"github.com/PaulBabatuyi/directchat/internal/observability"
)

// toStatus converts a chaterr error into a gRPC status.
func toStatus(err error) error {
	return status.Error(chaterr.GRPCCode(err), err.Error())
}

func identityFromClaims(c *auth.Claims) identity.Identity {
	return identity.Identity{UID: c.UserID, Email: c.Email, DisplayName: c.Name, AvatarURL: c.Picture}
}

// SignIn verifies the identity provider ID token, records the user and
// returns a session token.
func (s *Server) SignIn(ctx context.Context, req *api.SignInRequest) (*api.SignInResponse, error) {
	adapter := identity.NewAdapter(identity.Config{
		Provider:  s.env.Provider,
		Sessions:  s.env.Sessions,
		Users:     s.env.Users,
		Publisher: s.env.Publisher,
		Logger:    s.logger,
	})
	sess, err := adapter.SignIn(ctx, identity.Credential{IDToken: req.IDToken})
	if err != nil {
		return nil, toStatus(err)
	}
	defer adapter.SignOut()

	id := sess.Identity()
	user, err := s.env.Users.GetUser(ctx, id.UID)
	if err != nil {
		// the user record is best effort; answer from the identity
		s.logger.Warn("user record unavailable after sign-in", "uid", id.UID, "err", err)
		user = data.User{
			ID:          id.UID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
		}
	}
	return &api.SignInResponse{
		Token:     sess.Token(),
		ExpiresAt: sess.ExpiresAt(),
		User:      api.FromUser(user),
	}, nil
}

// ResolveConversation returns the conversation id shared with the peer.
func (s *Server) ResolveConversation(ctx context.Context, req *api.ResolveRequest) (*api.ResolveResponse, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	id, err := s.env.Resolver.Resolve(ctx, claims.Email, req.PeerEmail)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ResolveResponse{ConversationID: id}, nil
}

// authorize checks that the caller takes part in the conversation.
func (s *Server) authorize(ctx context.Context, email, conversationID string) error {
	if conversationID == "" {
		return status.Errorf(codes.InvalidArgument, "conversation_id is required")
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if errors.Is(err, docstore.ErrNotFound) {
		return status.Errorf(codes.NotFound, "conversation not found")
	}
	if err != nil {
		s.logger.Error("conversation lookup failed", "conversation_id", conversationID, "err", err)
		return status.Errorf(codes.Unavailable, "failed to read conversation")
	}
	if !conv.HasParticipant(email, s.env.Resolver.FoldsCase()) {
		return status.Errorf(codes.PermissionDenied, "not a participant of this conversation")
	}
	return nil
}

// SendMessage appends a message; blank text is skipped without a write.
func (s *Server) SendMessage(ctx context.Context, req *api.SendRequest) (*api.SendResponse, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	if err := s.authorize(ctx, claims.Email, req.ConversationID); err != nil {
		return nil, err
	}
	id, err := s.env.Stream.Send(ctx, req.ConversationID, identityFromClaims(claims), req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.SendResponse{MessageID: id, Skipped: id == ""}, nil
}

// WatchUsers streams the roster without the caller until the client goes away.
func (s *Server) WatchUsers(req *api.WatchUsersRequest, stream grpc.ServerStreamingServer[api.UsersSnapshot]) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	roster, err := s.env.Directory.Subscribe(ctx, claims.Email)
	if err != nil {
		return toStatus(err)
	}
	defer roster.Cancel()

	for {
		select {
		case users := <-roster.Updates():
			if err := stream.Send(&api.UsersSnapshot{Users: api.FromUsers(users)}); err != nil {
				return err
			}
		case <-roster.Done():
			if err := roster.Err(); err != nil {
				return toStatus(chaterr.Directory(err))
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// WatchMessages streams the conversation's recent message window.
func (s *Server) WatchMessages(req *api.WatchMessagesRequest, stream grpc.ServerStreamingServer[api.MessagesSnapshot]) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	if err := s.authorize(ctx, claims.Email, req.ConversationID); err != nil {
		return err
	}

	msgs, err := s.env.Stream.Open(ctx, req.ConversationID)
	if err != nil {
		return toStatus(err)
	}
	defer msgs.Cancel()

	for {
		select {
		case window := <-msgs.Updates():
			if err := stream.Send(&api.MessagesSnapshot{
				ConversationID: req.ConversationID,
				Messages:       api.FromMessages(window),
			}); err != nil {
				return err
			}
		case <-msgs.Done():
			if err := msgs.Err(); err != nil {
				return toStatus(chaterr.MessageStream(err))
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Session runs a chat client for the lifetime of the stream: every command
// received is applied and every view is sent back.
func (s *Server) Session(stream grpc.BidiStreamingServer[api.Command, api.View]) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	observability.IncSessions("grpc")
	defer observability.DecSessions("grpc")

	client := s.env.NewClient()
	go func() {
		_ = client.Run(ctx)
	}()

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- s.receiveCommands(ctx, stream, client)
	}()

	for {
		select {
		case v := <-client.Views():
			if err := stream.Send(api.FromView(v)); err != nil {
				return err
			}
		case err := <-recvErr:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) receiveCommands(ctx context.Context, stream grpc.BidiStreamingServer[api.Command, api.View], client *chat.Client) error {
	for {
		cmd, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		chatCmd, err := cmd.ToChat()
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}
		if err := client.Do(ctx, chatCmd); err != nil {
			return nil
		}
	}
}
