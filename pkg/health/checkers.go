package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by connection pools, e.g. *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports unhealthy when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// RuntimeLimits bounds the process metrics checked by RuntimeChecks.
type RuntimeLimits struct {
	MaxGoroutines int
	MaxGCPause    time.Duration
}

// RuntimeChecks returns liveness checks for goroutine leaks and long GC
// pauses. Zero limits disable the corresponding check.
func RuntimeChecks(limits RuntimeLimits) []Check {
	var checks []Check
	if limits.MaxGoroutines > 0 {
		checks = append(checks, Check{
			Name: "goroutines",
			Kind: Liveness,
			Func: goroutineCount(limits.MaxGoroutines),
		})
	}
	if limits.MaxGCPause > 0 {
		checks = append(checks, Check{
			Name: "gc_pause",
			Kind: Liveness,
			Func: gcMaxPause(limits.MaxGCPause),
		})
	}
	return checks
}

func goroutineCount(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

func gcMaxPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, p := range stats.Pause {
			if p > limit {
				return errors.Errorf("GC pause %s exceeds %s", p, limit)
			}
		}
		return nil
	}
}
