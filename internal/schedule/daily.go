package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Daily fires a job once per day when the local hour matches the target.
// The loop polls coarsely rather than computing the exact next fire time:
// that tolerates restarts and clock jumps without any persisted last-run
// state. After firing it oversleeps past the matching hour so the poll
// cannot re-trigger inside the same hour.
type Daily struct {
	hour     int
	poll     time.Duration
	postFire time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewDaily(hour int, logger *slog.Logger) *Daily {
	return &Daily{
		hour:     hour,
		poll:     time.Minute,
		postFire: 3700 * time.Second,
		now:      time.Now,
		log:      logger,
	}
}

// Run blocks until ctx is cancelled, invoking job once per matching hour.
func (d *Daily) Run(ctx context.Context, job func(context.Context)) {
	d.log.Info("daily schedule started", "hour", d.hour)
	for {
		if d.now().Hour() == d.hour {
			d.log.Info("daily schedule firing", "hour", d.hour)
			job(ctx)
			if !sleepCtx(ctx, d.postFire) {
				return
			}
			continue
		}
		if !sleepCtx(ctx, d.poll) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
