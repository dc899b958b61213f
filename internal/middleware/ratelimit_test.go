package middleware

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "test@example.com"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// entries idle past the cutoff are evicted
	s.evictIdle(time.Now().Add(time.Second))
	assert.Equal(t, 0, s.Len())

	s.Stop()
	s.Stop()
}

func peerCtx(ip string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}})
}

func TestPeerKey(t *testing.T) {
	assert.Equal(t, "peer:10.0.0.1", PeerKey(peerCtx("10.0.0.1")))
	assert.Equal(t, "unknown", PeerKey(context.Background()))
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	s := NewLimiterStore(60, 2, time.Minute)
	defer s.Stop()

	intercept := RateLimitUnaryInterceptor(s, map[string]bool{"/svc/Limited": true}, nil)
	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	limited := &grpc.UnaryServerInfo{FullMethod: "/svc/Limited"}
	open := &grpc.UnaryServerInfo{FullMethod: "/svc/Open"}

	ctx := peerCtx("10.0.0.1")
	for i := 0; i < 2; i++ {
		_, err := intercept(ctx, nil, limited, ok)
		require.NoError(t, err)
	}
	_, err := intercept(ctx, nil, limited, ok)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other peers and unlisted methods are unaffected
	_, err = intercept(peerCtx("10.0.0.2"), nil, limited, ok)
	assert.NoError(t, err)
	_, err = intercept(ctx, nil, open, ok)
	assert.NoError(t, err)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestRateLimitStreamInterceptor(t *testing.T) {
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	intercept := RateLimitStreamInterceptor(s, map[string]bool{"/svc/Session": true}, nil)
	info := &grpc.StreamServerInfo{FullMethod: "/svc/Session"}
	handler := func(srv interface{}, ss grpc.ServerStream) error { return nil }
	ss := fakeStream{ctx: peerCtx("10.0.0.1")}

	require.NoError(t, intercept(nil, ss, info, handler))
	assert.Equal(t, codes.ResourceExhausted, status.Code(intercept(nil, ss, info, handler)))
}

func TestGinRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	r := gin.New()
	r.Use(GinRateLimit(s))
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
