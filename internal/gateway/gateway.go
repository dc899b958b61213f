// Package gateway serves browsers: health, Prometheus metrics and a
// WebSocket that carries the same commands and views as the gRPC Session.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/PaulBabatuyi/directchat/internal/api"
	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/middleware"
	"github.com/PaulBabatuyi/directchat/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Config struct {
	Env         *chat.Env
	Limiter     *middleware.LimiterStore
	ServiceName string
	// AllowedOrigins lists the browser origins that may open /ws. "*"
	// allows any; empty allows only the gateway's own host.
	AllowedOrigins []string
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type handler struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewRouter returns the gateway's gin engine.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "directchat-gateway"
	}
	h := &handler{
		cfg:    cfg,
		logger: logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.AllowedOrigins),
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName), observability.HTTPMetricsMiddleware())

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := []gin.HandlerFunc{h.session}
	if cfg.Limiter != nil {
		ws = append([]gin.HandlerFunc{middleware.GinRateLimit(cfg.Limiter)}, ws...)
	}
	router.GET("/ws", ws...)
	return router
}

// checkOrigin returns nil for an empty list so the upgrader applies its
// same-host check. Requests without an Origin header are not from browsers
// and are let through.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *handler) health(c *gin.Context) {
	if h.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.cfg.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// session upgrades the connection and runs one chat client for it. Clients
// resume an earlier session by sending a restore command first.
func (h *handler) session(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger.With("conn_id", connID)
	observability.IncSessions("ws")
	defer observability.DecSessions("ws")
	logger.Info("websocket connected", "remote", c.ClientIP())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := h.cfg.Env.NewClient()
	go func() {
		_ = client.Run(ctx)
	}()

	go h.readCommands(ctx, cancel, conn, client, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			logger.Info("websocket closed")
			return
		case v := <-client.Views():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(api.FromView(v)); err != nil {
				logger.Warn("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *handler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *chat.Client, logger *slog.Logger) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd api.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		chatCmd, err := cmd.ToChat()
		if err != nil {
			logger.Warn("dropping websocket command", "err", err)
			continue
		}
		if err := client.Do(ctx, chatCmd); err != nil {
			return
		}
	}
}
