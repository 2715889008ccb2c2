package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the buffer
	// is full.
	DropIfFull bool
}

// Dispatcher queues events and delivers them to a sink in order. A nil
// *Dispatcher accepts and discards events.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	onDrop func()

	dropped atomic.Uint64
	// mu orders every enqueue before Close stops the loop.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// OnDrop registers a callback run for every dropped event.
func OnDrop(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink, opts ...DispatcherOption) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, max(cfg.BufferSize, 1)),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ctx := context.Background()

	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			d.drain(ctx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		default:
			return
		}
	}
}

// Emit queues event. Without DropIfFull it waits for buffer space until ctx
// is done. Events emitted once Close has started are counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop()
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.drop()
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop()
	}
}

func (d *Dispatcher) drop() {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop()
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// goroutine to exit. It waits for in-flight Emit calls first. It is
// idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
		<-d.done
	})
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
