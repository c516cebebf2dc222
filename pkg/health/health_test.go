package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *Health, p Probe) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Handler(p)(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

// drive runs the only check of h n times.
func drive(h *Health, n int) {
	for range n {
		h.runCheck(context.Background(), h.checks[0])
	}
}

func TestPing(t *testing.T) {
	require.NoError(t, Ping(pingerFunc(passing))(context.Background()))

	err := Ping(pingerFunc(failing("connection refused")))(context.Background())
	assert.EqualError(t, err, "ping: connection refused")
}

func TestLiveness(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		code, body := serve(t, New(), Liveness)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
		assert.Empty(t, body.Checks)
	})

	t.Run("checks start healthy", func(t *testing.T) {
		h := New()
		h.Register(Liveness, Check{Name: "goroutines", Func: passing})
		h.Register(Readiness, Check{Name: "postgres", Func: failing("down")})

		code, body := serve(t, h, Liveness)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]string{"goroutines": "ok"}, body.Checks)
	})

	t.Run("below failure threshold", func(t *testing.T) {
		h := New()
		h.Register(Liveness, Check{Name: "flaky", Func: failing("temporary")})
		drive(h, 2)

		code, _ := serve(t, h, Liveness)
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("failing", func(t *testing.T) {
		h := New()
		h.Register(Liveness, Check{Name: "db", Func: failing("connection refused")})
		drive(h, 3)

		code, body := serve(t, h, Liveness)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["db"])
	})

	t.Run("custom threshold", func(t *testing.T) {
		h := New()
		h.Register(Liveness, Check{Name: "db", FailureThreshold: 1, Func: failing("refused")})
		drive(h, 1)

		code, _ := serve(t, h, Liveness)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}

func TestReadiness(t *testing.T) {
	h := New()
	h.Register(Readiness, Check{Name: "postgres", Func: passing})

	code, body := serve(t, h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", body.Checks["_ready"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, body = serve(t, h, Readiness)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"postgres": "ok"}, body.Checks)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = serve(t, h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadiness_OneFailing(t *testing.T) {
	h := New()
	h.Register(Readiness, Check{Name: "redis", Func: failing("dial tcp: refused")})
	h.Register(Readiness, Check{Name: "postgres", Func: passing})
	h.SetReady(true)
	drive(h, 3)

	w := httptest.NewRecorder()
	h.Handler(Readiness)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t,
		`{"status":"unhealthy","checks":{"postgres":"ok","redis":"dial tcp: refused"}}`,
		w.Body.String(),
	)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovery(t *testing.T) {
	down := true
	c := newCheck(Liveness, Check{Name: "flaky", SuccessThreshold: 2, Func: func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}})
	ctx := context.Background()

	for i := range 3 {
		healthy, changed := c.run(ctx)
		assert.Equal(t, i < 2, healthy)
		assert.Equal(t, i == 2, changed)
	}
	_, err := c.state()
	assert.EqualError(t, err, "down")

	down = false
	healthy, changed := c.run(ctx)
	assert.False(t, healthy, "one pass is below the success threshold")
	assert.False(t, changed)

	healthy, changed = c.run(ctx)
	assert.True(t, healthy)
	assert.True(t, changed)
	_, err = c.state()
	assert.NoError(t, err)
}

func TestCheck_Timeout(t *testing.T) {
	c := newCheck(Readiness, Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	healthy, _ := c.run(context.Background())
	assert.False(t, healthy)
	_, err := c.state()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransitionsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	down := true
	h := New()
	h.Register(Readiness, Check{Name: "redis", Func: func(context.Context) error {
		if down {
			return errors.New("refused")
		}
		return nil
	}})
	c := h.checks[0]

	for range 4 {
		h.runCheck(ctx, c)
	}
	down = false
	h.runCheck(ctx, c)
	h.runCheck(ctx, c)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Health check failing", entries[0].Message)
	assert.Equal(t, "redis", entries[0].ContextMap()["check"])
	assert.Equal(t, "readiness", entries[0].ContextMap()["probe"])
	assert.Equal(t, "Health check recovered", entries[1].Message)
}

func TestGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	h := New(WithMeterProvider(mp))
	h.Register(Readiness, Check{Name: "postgres", FailureThreshold: 1, Func: failing("down")})
	drive(h, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "spree.health.check", m.Name)
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}

func TestStartStop(t *testing.T) {
	var (
		mu   sync.Mutex
		runs int
	)
	h := New()
	h.Register(Liveness, Check{Name: "counter", Func: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{Name: "live", Func: failing("err")})
	h.Register(Readiness, Check{Name: "ready", Func: passing})
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				h.Handler(Liveness)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.Handler(Readiness)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestMaxGoroutines(t *testing.T) {
	assert.NoError(t, MaxGoroutines(100000)(context.Background()))
	assert.ErrorContains(t, MaxGoroutines(0)(context.Background()), "goroutines exceed 0")
}

func TestMaxGCPause(t *testing.T) {
	assert.NoError(t, MaxGCPause(time.Hour)(context.Background()))
}
