package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/txnflow/api/controllers"
	"github.com/angelmondragon/txnflow/internal/deadletter"
	"github.com/angelmondragon/txnflow/internal/gateway"
	"github.com/angelmondragon/txnflow/internal/transactions"
	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
)

type stubTransactions struct{ calls int }

func (s *stubTransactions) Submit(context.Context, transactions.SubmitInput) (*transactions.SubmitResult, error) {
	s.calls++
	return &transactions.SubmitResult{TransactionID: "txn-1", Status: transactions.StatusAccepted}, nil
}

type stubDeadLetters struct{}

func (stubDeadLetters) Archive(context.Context, events.DeadLetterRecord) (bool, error) {
	return true, nil
}

func (stubDeadLetters) List(context.Context, deadletter.ListQuery) (*deadletter.Page, error) {
	return &deadletter.Page{Items: []deadletter.Record{}}, nil
}

type countingLimiter struct{ limit int64 }

func (l *countingLimiter) FixedWindowAllow(_ context.Context, _ string, limit int64, _ time.Duration) (bool, int64, error) {
	l.limit++
	return l.limit <= limit, l.limit, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: config.AppEnvDev},
		Gateway:   config.GatewayConfig{AllowedOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{Window: time.Minute, Limit: 1},
	}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "9.9.9.9:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const submitBody = `{"from":"acc1","to":"acc2","amount":100,"currency":"USD","userId":"u1"}`

func TestRouterSubmitAndRateLimit(t *testing.T) {
	svc := &stubTransactions{}
	h := NewRouter(testConfig(), logger.Nop(), svc, nil, &countingLimiter{}, nil)

	rec := serve(h, http.MethodPost, "/transactions", submitBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"transactionId":"txn-1","status":"accepted"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = serve(h, http.MethodPost, "/api/v1/transactions", submitBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, svc.calls)
}

func TestRouterHealthAndOptionalRoutes(t *testing.T) {
	ready := controllers.ReadinessCheck{Name: "pubsub", Ping: func(context.Context) error { return nil }}
	h := NewRouter(testConfig(), logger.Nop(), &stubTransactions{}, nil, nil, nil, ready)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/public/ping", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/dead-letters", "").Code)

	h = NewRouter(testConfig(), logger.Nop(), &stubTransactions{}, stubDeadLetters{}, nil, nil)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/v1/dead-letters", "").Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	h := NewRouter(testConfig(), logger.Nop(), &stubTransactions{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "https://client.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGatewayRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := gateway.NewHub(logger.Nop(), metrics.NewGatewayMetrics(reg))
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	h := NewGatewayRouter(hub, ws, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger.Nop())

	rec := serve(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"gateway","status":"ok","connections":0,"subscriptions":0}`, rec.Body.String())

	hub.Registry().Subscribe("c1", "txn:T")
	rec = serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txnflow_gateway_connections")

	assert.Equal(t, http.StatusSwitchingProtocols, serve(h, http.MethodGet, "/ws", "").Code)
}
