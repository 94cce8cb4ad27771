package ingest

import (
	"log/slog"
	"sync"
)

// event is one queued notification. deliver runs only if the event's run is
// still current when it reaches the front of the queue, unless the event is
// pinned; always runs regardless.
type event struct {
	gen     uint64
	pinned  bool
	name    string
	deliver func()
	always  func()
}

// dispatcher delivers events on a single goroutine so listeners observe them
// in the order they were posted.
type dispatcher struct {
	events  chan event
	current func() uint64
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newDispatcher(queueSize int, current func() uint64, logger *slog.Logger) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		events:  make(chan event, queueSize),
		current: current,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		d.handle(ev)
	}
}

func (d *dispatcher) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("ingest_listener_panic",
				slog.String("event", ev.name),
				slog.Any("panic", r))
		}
		if ev.always != nil {
			ev.always()
		}
	}()
	if !ev.pinned && ev.gen != d.current() {
		d.logger.Debug("ingest_event_dropped",
			slog.String("event", ev.name),
			slog.Uint64("generation", ev.gen))
		return
	}
	if ev.deliver != nil {
		ev.deliver()
	}
}

// post queues ev. After close the event is not delivered but its always hook still runs.
func (d *dispatcher) post(ev event) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		if ev.always != nil {
			ev.always()
		}
		return
	}
	d.events <- ev
	d.mu.RUnlock()
}

// close stops accepting events and waits for the queue to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}
