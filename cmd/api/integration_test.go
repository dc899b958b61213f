package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/auth"
	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/config"
	"github.com/PaulBabatuyi/directchat/internal/docstore/memory"
	"github.com/PaulBabatuyi/directchat/internal/middleware"
)

const bufSize = 1024 * 1024

const idpSecret = "idp-secret"

func idToken(t *testing.T, uid, email string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.IDTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "idp"
	s, err := tok.SignedString([]byte(idpSecret))
	require.NoError(t, err)
	return s
}

func startServer(t *testing.T) (api.DirectChatClient, *grpc.ClientConn) {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:         "test-secret",
		SessionTTL:        time.Hour,
		IDPHMACKeys:       "idp:" + idpSecret,
		MessageWindow:     100,
		ErrorDismissAfter: time.Second,
		RateLimitRPM:      600,
	}
	sessions, err := newSessions(cfg)
	require.NoError(t, err)
	provider, err := newProvider(cfg)
	require.NoError(t, err)

	env, convs := newEnv(memory.New(), provider, sessions, nil, cfg, nil)
	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 10, time.Minute)
	t.Cleanup(limiter.Stop)

	s, err := newGRPCServer(cfg, sessions, limiter)
	require.NoError(t, err)
	registerService(s, newServer(env, convs, nil))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	// set up bufconn server
	lis := bufconn.Listen(bufSize)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	// Dialer via bufconn
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return api.NewDirectChatClient(conn), conn
}

func bearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestSignInResolveAndStream(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, err := client.SignIn(ctx, &api.SignInRequest{IDToken: idToken(t, "uid-alice", "alice@x.com")})
	require.NoError(t, err)
	require.NotEmpty(t, alice.Token)
	bob, err := client.SignIn(ctx, &api.SignInRequest{IDToken: idToken(t, "uid-bob", "bob@x.com")})
	require.NoError(t, err)

	_, err = client.SignIn(ctx, &api.SignInRequest{IDToken: "forged"})
	require.Error(t, err)

	aliceCtx := bearer(ctx, alice.Token)
	bobCtx := bearer(ctx, bob.Token)

	users, err := client.WatchUsers(aliceCtx, &api.WatchUsersRequest{})
	require.NoError(t, err)
	roster, err := users.Recv()
	require.NoError(t, err)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "bob@x.com", roster.Users[0].Email)

	resolved, err := client.ResolveConversation(aliceCtx, &api.ResolveRequest{PeerEmail: "bob@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com_bob@x.com", resolved.ConversationID)

	msgs, err := client.WatchMessages(bobCtx, &api.WatchMessagesRequest{ConversationID: resolved.ConversationID})
	require.NoError(t, err)
	first, err := msgs.Recv()
	require.NoError(t, err)
	assert.Empty(t, first.Messages)

	_, err = client.SendMessage(aliceCtx, &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hi"})
	require.NoError(t, err)
	_, err = client.SendMessage(bobCtx, &api.SendRequest{ConversationID: resolved.ConversationID, Text: "hey"})
	require.NoError(t, err)

	var got []api.Message
	for len(got) < 2 {
		snap, err := msgs.Recv()
		require.NoError(t, err)
		got = snap.Messages
	}
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "alice@x.com", got[0].SenderEmail)
	assert.Equal(t, "hey", got[1].Text)
	assert.Equal(t, "bob@x.com", got[1].SenderEmail)
}

func TestProtectedMethodsNeedToken(t *testing.T) {
	client, _ := startServer(t)
	_, err := client.ResolveConversation(context.Background(), &api.ResolveRequest{PeerEmail: "bob@x.com"})
	require.Error(t, err)
}

func TestSessionStream(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := client.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Send(&api.Command{Type: api.CmdSignIn, IDToken: idToken(t, "uid-alice", "alice@x.com")}))
	for {
		v, err := session.Recv()
		require.NoError(t, err)
		if v.SignedIn {
			assert.Equal(t, "alice@x.com", v.User.Email)
			break
		}
	}

	require.NoError(t, session.Send(&api.Command{Type: api.CmdSelectPeer, Email: "bob@x.com"}))
	for {
		v, err := session.Recv()
		require.NoError(t, err)
		if v.Phase == string(chat.PhaseStreaming) {
			assert.Equal(t, "alice@x.com_bob@x.com", v.ConversationID)
			break
		}
	}
	require.NoError(t, session.CloseSend())
}

func TestHealthService(t *testing.T) {
	_, conn := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
