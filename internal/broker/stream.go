package broker

import (
	"sync"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

// subscriptionBuffer bounds how far a listener may lag behind before
// publishes start blocking on it.
const subscriptionBuffer = 16

// Stream is a multicast point for lifecycle events: no history (a
// listener subscribing after an event was emitted never receives it),
// exactly-once in-order delivery per listener, and independent
// listeners. A Stream never terminates on its own.
//
// Independence has one limit: a listener that lags more than
// subscriptionBuffer events blocks Publish, and with it every
// co-listener, until it drains or cancels. Listeners must keep
// receiving or Cancel.
type Stream struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewStream() *Stream {
	return &Stream{subs: make(map[uint64]*Subscription)}
}

// Subscription is one listener's attachment to a Stream. Receive from C;
// the channel is closed when the subscription is cancelled. Cancellation
// is the subscriber's responsibility on every exit path.
type Subscription struct {
	C <-chan quiz.LifecycleEvent

	ch     chan quiz.LifecycleEvent
	done   chan struct{}
	cancel sync.Once
	stream *Stream
	id     uint64
}

// Subscribe attaches a new listener. The listener receives every event
// published after this call, in publish order.
func (s *Stream) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		ch:     make(chan quiz.LifecycleEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		stream: s,
		id:     s.nextID,
	}
	sub.C = sub.ch
	s.subs[sub.id] = sub
	s.nextID++
	return sub
}

// Publish delivers the event to every active listener. A listener that
// cancels mid-delivery is skipped; the others are unaffected.
func (s *Stream) Publish(e quiz.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		}
	}
}

// ListenerCount returns the number of active subscriptions.
func (s *Stream) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Done is closed when the subscription is cancelled. Select on it
// alongside C to stop promptly without draining buffered events.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Cancel detaches the listener. Idempotent. After Cancel returns, no
// later Publish reaches this subscription; C is closed so range loops
// terminate.
func (sub *Subscription) Cancel() {
	sub.cancel.Do(func() {
		close(sub.done)
		sub.stream.mu.Lock()
		delete(sub.stream.subs, sub.id)
		sub.stream.mu.Unlock()
		close(sub.ch)
	})
}
