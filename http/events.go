package http

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
)

// PaymentEventType identifies the stage of an auto-payment.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent describes one auto-payment step taken by a Transport.
type PaymentEvent struct {
	ID        string
	Type      PaymentEventType
	Timestamp time.Time
	URL       string
	Amount    string
	Recipient string
	Asset     string
	Network   string
	TxID      string
	Error     error
	Duration  time.Duration
}

// eventQueueSize bounds the events waiting for delivery.
const eventQueueSize = 64

// Events fans payment events out to any number of subscribers. The zero
// value is ready to use.
//
// Events are queued and delivered in order by a single goroutine, so a slow
// subscriber never holds up a payment. When the queue is full new events are
// dropped and counted.
type Events struct {
	feed event.Feed

	once    sync.Once
	queue   chan PaymentEvent
	dropped atomic.Uint64
}

// Subscribe delivers events to ch until the subscription is unsubscribed.
func (e *Events) Subscribe(ch chan<- PaymentEvent) event.Subscription {
	return e.feed.Subscribe(ch)
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Events) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Events) dispatch() {
	e.once.Do(func() {
		e.queue = make(chan PaymentEvent, eventQueueSize)
		go func() {
			for ev := range e.queue {
				e.feed.Send(ev)
			}
		}()
	})
}

// send stamps ev and queues it without blocking.
func (e *Events) send(ev PaymentEvent) {
	if e == nil {
		return
	}
	ev.ID = uuid.NewString()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.dispatch()
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}
