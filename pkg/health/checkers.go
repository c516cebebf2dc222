package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is a dependency that can be probed, like *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks p.
func Ping(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return errors.Wrap(p.Ping(ctx), "ping")
	}
}

// MaxGoroutines fails while more than limit goroutines run.
func MaxGoroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines exceed %d", n, limit)
		}
		return nil
	}
}

// MaxGCPause fails when one of the recent stop-the-world pauses took longer
// than limit.
func MaxGCPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > limit {
				return errors.Errorf("gc pause %s exceeds %s", pause, limit)
			}
		}
		return nil
	}
}
