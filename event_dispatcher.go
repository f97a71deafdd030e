package tabauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher decouples event emission from sink latency: Emit
// enqueues onto a buffered channel drained by a single goroutine, so a
// slow sink can never stall a login or logout. Dropped events are
// counted in total and per event type.
type eventDispatcher struct {
	cfg  EventsConfig
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped atomic.Uint64
	dropMu  sync.Mutex
	drops   map[EventType]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

func newEventDispatcher(cfg EventsConfig, sink Sink) *eventDispatcher {
	if cfg.Disabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		cfg:   cfg,
		sink:  sink,
		ch:    make(chan Event, cfg.BufferSize),
		done:  make(chan struct{}),
		drops: make(map[EventType]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *eventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain what was enqueued before Close.
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *eventDispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.BlockIfFull {
		select {
		case d.ch <- event:
		case <-ctx.Done():
			d.drop(event.Type)
		case <-d.done:
		}
		return
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.drop(event.Type)
	}
}

func (d *eventDispatcher) drop(t EventType) {
	d.dropped.Add(1)
	d.dropMu.Lock()
	d.drops[t]++
	d.dropMu.Unlock()
}

func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *eventDispatcher) DroppedByType() map[EventType]uint64 {
	if d == nil {
		return nil
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()

	if len(d.drops) == 0 {
		return nil
	}
	out := make(map[EventType]uint64, len(d.drops))
	for t, n := range d.drops {
		out[t] = n
	}
	return out
}
