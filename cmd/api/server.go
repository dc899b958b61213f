package main

import (
	"log/slog"

	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/data"
)

// Server implements the DirectChat service on top of the shared chat services.
type Server struct {
	env    *chat.Env
	convs  *data.ConversationsStore
	logger *slog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(env *chat.Env, convs *data.ConversationsStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{env: env, convs: convs, logger: logger.With("component", "grpc")}
}

// registerService registers the DirectChat service on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	api.RegisterDirectChatServer(s, srv)
}
