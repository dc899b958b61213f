package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/auth"
	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/config"
	"github.com/PaulBabatuyi/directchat/internal/conversation"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/directory"
	"github.com/PaulBabatuyi/directchat/internal/docstore"
	"github.com/PaulBabatuyi/directchat/internal/docstore/memory"
	"github.com/PaulBabatuyi/directchat/internal/docstore/mongodb"
	"github.com/PaulBabatuyi/directchat/internal/docstore/postgres"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/gateway"
	"github.com/PaulBabatuyi/directchat/internal/identity"
	"github.com/PaulBabatuyi/directchat/internal/middleware"
	"github.com/PaulBabatuyi/directchat/internal/observability"
	"github.com/PaulBabatuyi/directchat/internal/stream"
)

const serviceName = "directchat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	// Ensure indexes exist
	if ix, ok := store.(docstore.Indexer); ok {
		if err := ix.EnsureIndexes(ctx, data.Indexes()...); err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
	}

	publisher := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer func() { _ = publisher.Close() }()

	sessions, err := newSessions(cfg)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	env, convs := newEnv(store, provider, sessions, publisher, cfg, logger)

	// Small burst to allow a couple of quick retries. RATE_LIMIT_RPM controls
	// requests per minute for sign-in and session opens.
	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, 1*time.Minute)
	defer limiterStore.Stop()

	grpcServer, err := newGRPCServer(cfg, sessions, limiterStore)
	if err != nil {
		return err
	}
	registerService(grpcServer, newServer(env, convs, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: gateway.NewRouter(gateway.Config{
			Env:            env,
			Limiter:        limiterStore,
			ServiceName:    serviceName + "-gateway",
			AllowedOrigins: cfg.Origins(),
			Ready:          storeReady(store),
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP gateway listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", "err", err)
	}

	logger.Info("shutting down")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	grpcServer.GracefulStop()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.StoreDriver {
	case "mongodb":
		s, err := mongodb.New(ctx, cfg.MongoURI, mongodb.Options{
			Database:     cfg.MongoDatabase,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.PostgresDSN, postgres.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		return s, nil
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newSessions builds the session token manager. If JWT_KEYS is supplied
// tokens can be rotated; otherwise the single JWT_SECRET is used.
func newSessions(cfg *config.Config) (*auth.JWTManager, error) {
	if cfg.JWTKeys == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.SessionTTL), nil
	}
	keys, err := config.ParseKeys(cfg.JWTKeys)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_KEYS: %w", err)
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.SessionTTL), nil
}

func newProvider(cfg *config.Config) (*auth.IDTokenVerifier, error) {
	idcfg := auth.IDTokenConfig{Issuer: cfg.IDPIssuer, Audience: cfg.IDPAudience}
	if cfg.IDPHMACKeys != "" {
		keys, err := config.ParseKeys(cfg.IDPHMACKeys)
		if err != nil {
			return nil, fmt.Errorf("invalid IDP_HMAC_KEYS: %w", err)
		}
		idcfg.HMACKeys = keys
	}
	if cfg.IDPRSAPublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.IDPRSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read IDP_RSA_PUBLIC_KEY_FILE: %w", err)
		}
		idcfg.RSAPublicKeyPEM = pem
	}
	return auth.NewIDTokenVerifier(idcfg)
}

func newEnv(store docstore.Store, provider identity.Provider, sessions identity.Sessions, publisher events.Publisher, cfg *config.Config, logger *slog.Logger) (*chat.Env, *data.ConversationsStore) {
	users := data.NewUsersStore(store)
	convs := data.NewConversationsStore(store)
	return &chat.Env{
		Provider:     provider,
		Sessions:     sessions,
		Users:        users,
		Directory:    directory.New(users, cfg.FoldEmailCase, logger),
		Resolver:     conversation.NewResolver(convs, cfg.FoldEmailCase, publisher, logger),
		Stream:       stream.NewService(data.NewMessagesStore(store), convs, cfg.MessageWindow, publisher, logger),
		Publisher:    publisher,
		DismissAfter: cfg.ErrorDismissAfter,
		Logger:       logger,
	}, convs
}

func newGRPCServer(cfg *config.Config, sessions *auth.JWTManager, limiterStore *middleware.LimiterStore) (*grpc.Server, error) {
	limited := map[string]bool{
		api.SignInFullMethodName:  true,
		api.SessionFullMethodName: true,
	}

	serverOpts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}

	// If TLS certs are configured, create server credentials and require TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	} else if cfg.RequireTLS {
		return nil, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}

	// metrics -> auth -> rate limiter
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			observability.GRPCServerMetricsUnaryInterceptor(),
			authUnaryInterceptor(sessions),
			middleware.RateLimitUnaryInterceptor(limiterStore, limited, nil),
		),
		grpc.ChainStreamInterceptor(
			observability.GRPCServerMetricsStreamInterceptor(),
			authStreamInterceptor(sessions),
			middleware.RateLimitStreamInterceptor(limiterStore, limited, nil),
		),
	)
	return grpc.NewServer(serverOpts...), nil
}

// storeReady checks the store with a lookup that is expected to miss.
func storeReady(store docstore.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, data.UsersCollection, "healthz-check")
		if err == nil || errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return err
	}
}
