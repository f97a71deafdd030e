package tabauth

import (
	"context"
	"log"
	"sync"
	"time"
)

// upkeepLoop runs the two background timers: the periodic activity ping
// and the cleanup sweep. Both are idempotent (an early run only moves
// a timestamp or removes what is already stale) and both stop on
// Close.
type upkeepLoop struct {
	c *Coordinator

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func startUpkeepLoop(c *Coordinator) *upkeepLoop {
	u := &upkeepLoop{
		c:    c,
		done: make(chan struct{}),
	}
	u.wg.Add(1)
	go u.run()
	return u
}

func (u *upkeepLoop) run() {
	defer u.wg.Done()

	activity := time.NewTicker(u.c.config.Session.ActivityInterval)
	defer activity.Stop()
	cleanup := time.NewTicker(u.c.config.Session.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-activity.C:
			ctx := context.Background()
			stamped, err := u.c.registry.UpdateActivity(ctx)
			if err != nil {
				log.Print("tabauth: activity ping failed")
				continue
			}
			if stamped {
				u.c.metrics.Inc(MetricActivityUpdates)
			}
		case <-cleanup.C:
			ctx := context.Background()
			if _, err := u.c.CleanupOldSessions(ctx, u.c.config.Session.MaxSessionAge); err != nil {
				log.Print("tabauth: cleanup sweep failed")
			}
		case <-u.done:
			return
		}
	}
}

func (u *upkeepLoop) Close() {
	if u == nil {
		return
	}
	u.closeOnce.Do(func() {
		close(u.done)
		u.wg.Wait()
	})
}
