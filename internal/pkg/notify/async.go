package notify

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

type queued struct {
	ctx   context.Context
	event loyalty.Event
}

// Async hands events to a background worker so slow delivery never holds up
// the engine. When the buffer is full new events are dropped and logged.
// While no worker runs, events are delivered directly.
type Async struct {
	next    loyalty.Notifier
	queue   chan queued
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewAsync buffers up to size events in front of next.
func NewAsync(next loyalty.Notifier, size int) *Async {
	if size < 1 {
		size = 1
	}
	return &Async{next: next, queue: make(chan queued, size)}
}

// Start launches the delivery worker.
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.stopCh = make(chan struct{})
	a.running = true
	a.wg.Add(1)
	go a.worker()
	log.Info("[Notify] Async delivery started")
}

// Stop drains queued events and waits for the worker to exit.
func (a *Async) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	close(a.stopCh)
	a.running = false
	a.wg.Wait()
	log.Info("[Notify] Async delivery stopped")
}

func (a *Async) Notify(ctx context.Context, event loyalty.Event) {
	a.mu.Lock()
	running := a.running
	if running {
		a.enqueue(ctx, event)
	}
	a.mu.Unlock()
	if !running {
		a.next.Notify(ctx, event)
	}
}

func (a *Async) enqueue(ctx context.Context, event loyalty.Event) {
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		log.Warnf("[Notify] Queue full, dropping %s event for %s", event.EventType(), event.Customer())
	}
}

func (a *Async) worker() {
	defer a.wg.Done()
	for {
		select {
		case q := <-a.queue:
			a.next.Notify(q.ctx, q.event)
		case <-a.stopCh:
			for {
				select {
				case q := <-a.queue:
					a.next.Notify(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}
