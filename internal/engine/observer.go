package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PolicyEvent describes one executed policy.
type PolicyEvent struct {
	Policy    int
	Action    string
	Tier      int
	ExitCode  int
	Succeeded bool
	Changed   int
	Duration  time.Duration
}

type Observer interface {
	ObservePolicy(ev PolicyEvent)
}

type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) ObservePolicy(ev PolicyEvent) {
	if l == nil || l.logger == nil {
		return
	}
	level := slog.LevelInfo
	if !ev.Succeeded {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "policy executed",
		"policy", ev.Policy,
		"action", ev.Action,
		"tier", ev.Tier,
		"exit_code", ev.ExitCode,
		"changed", ev.Changed,
		"duration_ms", float64(ev.Duration.Microseconds())/1000.0,
	)
}

// MultiObserver fans an event out to several observers.
type MultiObserver []Observer

func (m MultiObserver) ObservePolicy(ev PolicyEvent) {
	for _, o := range m {
		if o != nil {
			o.ObservePolicy(ev)
		}
	}
}

// AsyncObserver hands events to next on its own goroutine. Events that do
// not fit in the buffer are dropped and counted.
type AsyncObserver struct {
	next    Observer
	events  chan PolicyEvent
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewAsyncObserver(next Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 1
	}

	o := &AsyncObserver{
		next:   next,
		events: make(chan PolicyEvent, buffer),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next != nil {
				o.next.ObservePolicy(ev)
			}
		}
	}()

	return o
}

func (o *AsyncObserver) ObservePolicy(ev PolicyEvent) {
	if o == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}

func (o *AsyncObserver) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (o *AsyncObserver) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}
