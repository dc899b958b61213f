package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestSplitFullMethod(t *testing.T) {
	svc, method := splitFullMethod("/directchat.v1.DirectChat/SendMessage")
	assert.Equal(t, "directchat.v1.DirectChat", svc)
	assert.Equal(t, "SendMessage", method)

	svc, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "unknown", method)
}

func TestGRPCMetricsInterceptorCountsCodes(t *testing.T) {
	counter := grpcServerHandledTotal.WithLabelValues("svc", "M", codes.NotFound.String())
	before := testutil.ToFloat64(counter)

	interceptor := GRPCServerMetricsUnaryInterceptor()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.NotFound, "nope")
		})
	require.Error(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "debug", "json").Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("dropped")
	assert.Empty(t, buf.String())

	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "directchat", "")
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test", "op")
	EndSpan(span, errors.New("boom"))
	assert.Equal(t, "", TraceID(ctx))
}
