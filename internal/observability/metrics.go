package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directchat_grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "directchat_sessions_active",
			Help: "Number of connected chat clients.",
		},
		[]string{"transport"},
	)
	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "directchat_messages_sent_total",
			Help: "Total number of messages appended.",
		},
	)
	conversationsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "directchat_conversations_resolved_total",
			Help: "Total number of successful conversation resolutions.",
		},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directchat_errors_total",
			Help: "User-visible errors by kind.",
		},
		[]string{"kind"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "directchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		sessionsActive,
		messagesSentTotal,
		conversationsResolvedTotal,
		errorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		observeGRPC(info.FullMethod, err)
		return resp, err
	}
}

func GRPCServerMetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		observeGRPC(info.FullMethod, err)
		return err
	}
}

func observeGRPC(fullMethod string, err error) {
	service, method := splitFullMethod(fullMethod)
	grpcServerHandledTotal.WithLabelValues(service, method, status.Convert(err).Code().String()).Inc()
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncSessions(transport string) {
	sessionsActive.WithLabelValues(transport).Inc()
}

func DecSessions(transport string) {
	sessionsActive.WithLabelValues(transport).Dec()
}

func IncMessagesSent() {
	messagesSentTotal.Inc()
}

func IncConversationsResolved() {
	conversationsResolvedTotal.Inc()
}

func IncError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
