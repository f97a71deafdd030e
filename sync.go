package tabauth

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/prosecheck/tabauth/kv"
)

// syncLoop is this client's storage-change listener: it watches the two
// broadcast keys and applies local-only logouts when a broadcast
// concerns this client. Delivery is at-most-once per write and
// unordered relative to the writer's continued execution; a client that
// was down during the write simply observes the registry's final state
// on its next read.
type syncLoop struct {
	c    *Coordinator
	stop func()

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func startSyncLoop(c *Coordinator) (*syncLoop, error) {
	ch, stop, err := c.shared.Watch(context.Background(),
		c.config.Keys.LogoutSync,
		c.config.Keys.LogoutSyncAll,
	)
	if err != nil {
		return nil, err
	}

	s := &syncLoop{
		c:    c,
		stop: stop,
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ch)
	return s, nil
}

func (s *syncLoop) run(ch <-chan kv.Change) {
	defer s.wg.Done()

	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Op != kv.OpSet {
				continue
			}
			switch change.Key {
			case s.c.config.Keys.LogoutSync:
				s.handleLogoutSync(change.Value)
			case s.c.config.Keys.LogoutSyncAll:
				s.handleLogoutAll()
			}
		case <-s.done:
			return
		}
	}
}

func (s *syncLoop) handleLogoutSync(payload string) {
	var event LogoutSyncEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil || event.UserID == "" {
		// Malformed broadcast: absorb, same as malformed registry data.
		return
	}

	ctx := context.Background()
	cur, err := s.c.registry.CurrentUser(ctx)
	if err != nil {
		log.Print("tabauth: sync listener registry read failed")
		return
	}
	if cur == nil {
		return
	}
	// Only a broadcast for the same user from a different tab forces a
	// logout here; our own write arrives on this channel too and must
	// not re-trigger.
	if cur.UserID != event.UserID || cur.TabID == event.SessionID {
		return
	}

	s.c.localLogout(ctx, cur.TabID, cur.UserID)
}

func (s *syncLoop) handleLogoutAll() {
	ctx := context.Background()
	cur, err := s.c.registry.CurrentUser(ctx)
	if err != nil {
		log.Print("tabauth: sync listener registry read failed")
		return
	}
	if cur == nil {
		return
	}
	s.c.localLogout(ctx, cur.TabID, cur.UserID)
}

func (s *syncLoop) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.stop()
		close(s.done)
		s.wg.Wait()
	})
}
