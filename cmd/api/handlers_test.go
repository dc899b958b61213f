package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/auth"
	"github.com/PaulBabatuyi/directchat/internal/config"
	"github.com/PaulBabatuyi/directchat/internal/docstore/memory"
	"github.com/PaulBabatuyi/directchat/internal/identity"
)

type staticProvider struct{ id identity.Identity }

func (p staticProvider) BeginInteractiveSignIn(context.Context, identity.Credential) (identity.Identity, error) {
	return p.id, nil
}

func newTestServer(t *testing.T) (*Server, *auth.JWTManager) {
	t.Helper()
	return newTestServerWithConfig(t, &config.Config{MessageWindow: 100, ErrorDismissAfter: time.Second})
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) (*Server, *auth.JWTManager) {
	t.Helper()
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	env, convs := newEnv(memory.New(), staticProvider{identity.Identity{UID: "uid-alice", Email: "alice@x.com"}}, jwtMgr, nil, cfg, nil)
	return newServer(env, convs, nil), jwtMgr
}

func withClaims(email string) context.Context {
	return context.WithValue(context.Background(), authContextKey{}, &auth.Claims{UserID: "uid-" + email, Email: email})
}

func TestSignInIssuesSession(t *testing.T) {
	srv, jwtMgr := newTestServer(t)
	resp, err := srv.SignIn(context.Background(), &api.SignInRequest{IDToken: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", resp.User.Email)
	assert.False(t, resp.User.LastSeen.IsZero(), "response carries the stored user record")

	claims, err := jwtMgr.VerifyToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "uid-alice", claims.UserID)
}

func TestResolveConversationRequiresClaims(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.ResolveConversation(context.Background(), &api.ResolveRequest{PeerEmail: "bob@x.com"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestResolveConversation(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.ResolveConversation(withClaims("bob@x.com"), &api.ResolveRequest{PeerEmail: "alice@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com_bob@x.com", resp.ConversationID)

	_, err = srv.ResolveConversation(withClaims("bob@x.com"), &api.ResolveRequest{PeerEmail: "nope"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSendMessageChecksParticipants(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := withClaims("alice@x.com")
	resolved, err := srv.ResolveConversation(ctx, &api.ResolveRequest{PeerEmail: "bob@x.com"})
	require.NoError(t, err)

	_, err = srv.SendMessage(withClaims("carol@x.com"), &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hi"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = srv.SendMessage(ctx, &api.SendRequest{ConversationID: "alice@x.com_zed@x.com", Text: "hi"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	sent, err := srv.SendMessage(ctx, &api.SendRequest{ConversationID: resolved.ConversationID, Text: " hi "})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.MessageID)
	assert.False(t, sent.Skipped)

	blank, err := srv.SendMessage(ctx, &api.SendRequest{ConversationID: resolved.ConversationID, Text: "  "})
	require.NoError(t, err)
	assert.True(t, blank.Skipped)
}

func TestParticipantCheckKeepsEmailCase(t *testing.T) {
	srv, _ := newTestServer(t)
	resolved, err := srv.ResolveConversation(withClaims("Alice@x.com"), &api.ResolveRequest{PeerEmail: "bob@x.com"})
	require.NoError(t, err)
	require.Equal(t, "Alice@x.com_bob@x.com", resolved.ConversationID)

	_, err = srv.SendMessage(withClaims("alice@x.com"), &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hello"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = srv.SendMessage(withClaims("Alice@x.com"), &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hello"})
	require.NoError(t, err)
}

func TestParticipantCheckFoldsCaseWhenEnabled(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, &config.Config{MessageWindow: 100, FoldEmailCase: true})
	resolved, err := srv.ResolveConversation(withClaims("Alice@x.com"), &api.ResolveRequest{PeerEmail: "bob@x.com"})
	require.NoError(t, err)
	require.Equal(t, "alice@x.com_bob@x.com", resolved.ConversationID)

	_, err = srv.SendMessage(withClaims("ALICE@x.com"), &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hello"})
	require.NoError(t, err)

	_, err = srv.SendMessage(withClaims("carol@x.com"), &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hello"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestAuthUnaryInterceptor(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	intercept := authUnaryInterceptor(jwtMgr)

	var got *auth.Claims
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = getClaimsFromContext(ctx)
		return nil, nil
	}

	// SignIn is open
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: api.SignInFullMethodName}, handler)
	require.NoError(t, err)

	protected := &grpc.UnaryServerInfo{FullMethod: api.SendMessageFullMethodName}
	_, err = intercept(context.Background(), nil, protected, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer junk"))
	_, err = intercept(bad, nil, protected, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, _, err := jwtMgr.IssueSession(identity.Identity{UID: "u1", Email: "alice@x.com"})
	require.NoError(t, err)
	good := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	_, err = intercept(good, nil, protected, handler)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@x.com", got.Email)
}
