package escalate

import (
	"log"
	"sync"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Escalator
//
// Publish-subscribe boundary between the detection pipeline and
// everything downstream of it: telemetry, the dashboard feed, webhook
// notifiers, persistence. The request thread pays for one bounded
// enqueue per subscriber and nothing else.
//
// Delivery is best-effort fanout. Each subscriber owns a bounded queue
// drained by its own goroutine; when a queue is full, the oldest pending
// signal for that subscriber is dropped to admit the new one. A slow
// subscriber loses data, never slows a request.
// ──────────────────────────────────────────────────────────────────────

// Event is the fanout unit: the request-side signal always, the
// operation-side extension when response analysis ran.
type Event struct {
	Request   models.RequestCompleteSignal    `json:"request"`
	Operation *models.OperationCompleteSignal `json:"operation,omitempty"` // nil for request-only events
}

// Subscriber consumes escalation events on its own goroutine. Handle may
// block; it only ever delays this subscriber's own queue.
type Subscriber interface {
	Name() string
	Handle(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc struct {
	SubName string
	Fn      func(Event)
}

func (s SubscriberFunc) Name() string   { return s.SubName }
func (s SubscriberFunc) Handle(e Event) { s.Fn(e) }

// DefaultQueueSize bounds a subscriber's pending events.
const DefaultQueueSize = 512

type subscription struct {
	sub   Subscriber
	queue chan Event
	done  chan struct{}
}

// Escalator fans detection completions out to its subscribers.
type Escalator struct {
	mu        sync.RWMutex
	subs      []*subscription
	queueSize int
	closed    bool

	dropMu  sync.Mutex
	dropped map[string]int64
}

// NewEscalator creates an escalator with the given per-subscriber queue
// bound (0 selects DefaultQueueSize).
func NewEscalator(queueSize int) *Escalator {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Escalator{queueSize: queueSize, dropped: make(map[string]int64)}
}

// Subscribe registers a consumer and starts its drain goroutine.
func (e *Escalator) Subscribe(sub Subscriber) {
	s := &subscription{
		sub:   sub,
		queue: make(chan Event, e.queueSize),
		done:  make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.subs = append(e.subs, s)
	e.mu.Unlock()

	go func() {
		defer close(s.done)
		for ev := range s.queue {
			s.sub.Handle(ev)
		}
	}()
	log.Printf("[Escalator] Subscriber registered: %s", sub.Name())
}

// Publish hands the event to every subscriber queue without blocking.
// After Close it is a no-op. The read lock is held across the sends so
// Close cannot tear down a queue mid-publish; every send is non-blocking,
// so the hold is bounded.
func (e *Escalator) Publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	for _, s := range e.subs {
		for {
			select {
			case s.queue <- ev:
			default:
				// Full queue: drop the oldest pending event and retry.
				select {
				case <-s.queue:
					e.countDrop(s.sub.Name())
				default:
				}
				continue
			}
			break
		}
	}
}

// Dropped reports how many events each subscriber has lost to overflow.
func (e *Escalator) Dropped() map[string]int64 {
	e.dropMu.Lock()
	defer e.dropMu.Unlock()
	out := make(map[string]int64, len(e.dropped))
	for k, v := range e.dropped {
		out[k] = v
	}
	return out
}

// Close stops accepting subscribers, drains the queues and waits for the
// drain goroutines to finish.
func (e *Escalator) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.mu.Unlock()

	for _, s := range subs {
		close(s.queue)
		<-s.done
	}
}

func (e *Escalator) countDrop(name string) {
	e.dropMu.Lock()
	e.dropped[name]++
	n := e.dropped[name]
	e.dropMu.Unlock()
	if n == 1 || n%1000 == 0 {
		log.Printf("[Escalator] Subscriber %s overflowed, %d events dropped so far", name, n)
	}
}
