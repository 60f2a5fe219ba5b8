package bookmark

import (
	"log/slog"
	"sync"
)

// Broker delivers events to subscribers on its own goroutine, in publish
// order. Publish never blocks, so a store may publish while its caller holds
// locks that subscribers also take.
type Broker struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Event
	subs       map[int]func(Event)
	nextID     int
	delivering bool
	closed     bool
	done       chan struct{}
	logger     *slog.Logger
}

// NewBroker starts a broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		subs:   make(map[int]func(Event)),
		done:   make(chan struct{}),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Subscribe registers fn and returns a func that unregisters it.
func (b *Broker) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish queues events for delivery. Events published after Close are dropped.
func (b *Broker) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, events...)
	b.cond.Broadcast()
}

// Wait blocks until every queued event has been delivered. It must not be
// called from a subscriber.
func (b *Broker) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) > 0 || b.delivering {
		b.cond.Wait()
	}
}

// Close delivers what is queued and stops the broker.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

func (b *Broker) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.delivering = true
		subs := make([]func(Event), 0, len(b.subs))
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
		b.mu.Unlock()

		for _, fn := range subs {
			b.deliver(fn, ev)
		}

		b.mu.Lock()
		b.delivering = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

func (b *Broker) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bookmark event subscriber panicked", "event", ev.Kind.String(), "id", ev.Node.ID, "panic", r)
		}
	}()
	fn(ev)
}
