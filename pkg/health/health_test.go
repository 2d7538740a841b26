package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h *Health, path string) (int, statusResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func runN(h *Health, name string, n int) {
	for _, s := range h.checks {
		if s.Name == name {
			for range n {
				s.run(context.Background())
			}
		}
	}
}

func TestLive_AllPassing(t *testing.T) {
	h := New()
	h.Register(Check{Name: "a", Func: passing})
	h.Register(Check{Name: "b", Func: passing})

	code, body := get(t, h, LivePath)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New()
	h.Register(Check{Name: "postgres", Func: failing("connection refused")})

	runN(h, "postgres", 2)
	code, _ := get(t, h, LivePath)
	assert.Equal(t, http.StatusOK, code, "two failures stay below the default threshold")

	runN(h, "postgres", 1)
	code, body := get(t, h, LivePath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

func TestLive_CustomThreshold(t *testing.T) {
	h := New()
	h.Register(Check{Name: "redis", Func: failing("timeout"), FailureThreshold: 1})

	runN(h, "redis", 1)
	code, _ := get(t, h, LivePath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_RequiresSetReady(t *testing.T) {
	h := New()
	h.Register(Check{Name: "postgres", Kind: Readiness, Func: passing})

	code, body := get(t, h, ReadyPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, body = get(t, h, ReadyPath)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = get(t, h, ReadyPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_IgnoresLivenessChecks(t *testing.T) {
	h := New()
	h.Register(Check{Name: "goroutines", Kind: Liveness, Func: failing("too many"), FailureThreshold: 1})
	h.Register(Check{Name: "redis", Kind: Readiness, Func: failing("down"), FailureThreshold: 1})
	h.SetReady(true)
	runN(h, "goroutines", 1)

	code, _ := get(t, h, ReadyPath)
	assert.Equal(t, http.StatusOK, code)

	runN(h, "redis", 1)
	code, body := get(t, h, ReadyPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "down"}, body.Checks)
}

func TestCheckRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.Register(Check{Name: "postgres", Kind: Readiness, FailureThreshold: 1, SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	h.SetReady(true)

	runN(h, "postgres", 1)
	assert.False(t, h.IsReady())

	fail.Store(false)
	runN(h, "postgres", 1)
	assert.False(t, h.IsReady(), "one success is below the success threshold")
	runN(h, "postgres", 1)
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Register(Check{Name: "counter", Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(30 * time.Millisecond)
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Register(Check{Name: "a", Kind: Readiness, Func: passing})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.IsReady()
				_ = h.problems(Liveness)
			}
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	assert.EqualError(t, PingCheck(pinger{err: errors.New("refused")})(context.Background()), "refused")
}

func TestRuntimeChecks(t *testing.T) {
	assert.Empty(t, RuntimeChecks(RuntimeLimits{}))

	checks := RuntimeChecks(RuntimeLimits{MaxGoroutines: 1_000_000, MaxGCPause: time.Hour})
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.Equal(t, Liveness, c.Kind)
		assert.NoError(t, c.Func(context.Background()))
	}

	low := RuntimeChecks(RuntimeLimits{MaxGoroutines: 1})
	require.Len(t, low, 1)
	assert.Error(t, low[0].Func(context.Background()))
}
