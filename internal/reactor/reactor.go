// Package reactor keeps a view current against lifecycle broadcasts. A
// reactor owns a refresh callback and a set of stream subscriptions;
// every event received on any watched stream triggers one refresh. The
// event is only a trigger: the view re-reads its data from its own
// source, so a missed field in the broadcast can never show stale
// state.
package reactor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/broker"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

// Reactor invokes refresh for every event on its watched streams until
// Close is called. Once Close returns, refresh never runs again.
type Reactor struct {
	refresh func()
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	subs   []*broker.Subscription
	wg     sync.WaitGroup
}

// New builds a reactor around a refresh callback. The callback runs on
// the reactor's goroutines and must not call back into the reactor.
func New(refresh func(), logger zerolog.Logger) *Reactor {
	return &Reactor{refresh: refresh, log: logger}
}

// Watch subscribes the reactor to each stream and starts pumping its
// events into the refresh callback. Watching after Close is a no-op.
func (r *Reactor) Watch(streams ...*broker.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, s := range streams {
		sub := s.Subscribe()
		r.subs = append(r.subs, sub)
		r.wg.Add(1)
		go r.pump(sub)
	}
}

func (r *Reactor) pump(sub *broker.Subscription) {
	defer r.wg.Done()
	for e := range sub.C {
		r.react(e)
	}
}

// react runs the refresh under the reactor's lock. Close takes the same
// lock before flipping closed, so a refresh is either fully done before
// Close returns or never starts.
func (r *Reactor) react(e quiz.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.log.Debug().
		Stringer("kind", e.Kind).
		Str("quiz_id", string(e.QuizID)).
		Msg("refreshing view")
	r.refresh()
}

// Close cancels every subscription and waits for the pumps to drain.
// Idempotent. No refresh runs after Close returns.
func (r *Reactor) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	r.wg.Wait()
}
