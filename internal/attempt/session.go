// Package attempt owns one user's timed pass at one quiz: the answer
// buffer, the countdown, and the single-shot submission. Manual submit
// and timer expiry race by design; a guard makes sure exactly one
// submission leaves the session no matter which fires first.
package attempt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

// Phase is the session's lifecycle state.
type Phase int

const (
	NotStarted Phase = iota
	Running
	Submitting
	Submitted
	Failed
)

var phaseNames = map[Phase]string{
	NotStarted: "not_started",
	Running:    "running",
	Submitting: "submitting",
	Submitted:  "submitted",
	Failed:     "failed",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

var (
	ErrNotRunning     = errors.New("attempt not running")
	ErrAlreadyStarted = errors.New("attempt already started")
	ErrBadQuestion    = errors.New("question index out of range")
	ErrBadAnswer      = errors.New("answer does not belong to question")
)

// Submitter is the external submission collaborator.
type Submitter interface {
	SubmitAttempt(ctx context.Context, quizID quiz.ID, sub quiz.Submission) error
}

// Options tunes a session. Zero values fall back to one-second ticks
// and a three-attempt submission ceiling.
type Options struct {
	TickInterval      time.Duration
	MaxSubmitAttempts int
	Logger            zerolog.Logger
	// OnChange fires after every observable state change (tick, phase
	// move). Read state through the session's accessors; do not call
	// back into the session synchronously from it.
	OnChange func()
}

// Session is one in-progress attempt. Owned by the screen presenting
// it; tear it down with Abandon when the screen goes away.
type Session struct {
	quiz      quiz.Quiz
	submitter Submitter
	opts      Options
	log       zerolog.Logger

	mu        sync.Mutex
	phase     Phase
	remaining int
	selected  []quiz.ID // one slot per question; "" = unanswered
	fired     bool      // single-shot submission guard
	attempts  int
	expired   bool // one automatic retry is spent after expiry
	elapsed   int  // seconds, fixed at trigger time
	countdown *Countdown
	lastErr   error
	ctx       context.Context
}

func NewSession(q quiz.Quiz, submitter Submitter, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MaxSubmitAttempts <= 0 {
		opts.MaxSubmitAttempts = 3
	}
	return &Session{
		quiz:      q,
		submitter: submitter,
		opts:      opts,
		log:       opts.Logger,
		phase:     NotStarted,
		remaining: q.DurationSeconds,
		selected:  make([]quiz.ID, len(q.Questions)),
	}
}

// Start moves the session to Running and starts the countdown.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != NotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.phase = Running
	s.ctx = ctx
	cd := NewCountdown(s.opts.TickInterval, s.tick)
	s.countdown = cd
	s.mu.Unlock()

	cd.Start()
	s.notify()
	return nil
}

// SelectAnswer records the current choice for a question; the last
// write per question wins. An empty answerID clears the selection.
func (s *Session) SelectAnswer(question int, answerID quiz.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Running {
		return ErrNotRunning
	}
	if question < 0 || question >= len(s.quiz.Questions) {
		return ErrBadQuestion
	}
	if answerID != "" && !hasAnswer(s.quiz.Questions[question], answerID) {
		return ErrBadAnswer
	}
	s.selected[question] = answerID
	return nil
}

func hasAnswer(q quiz.Question, id quiz.ID) bool {
	for _, a := range q.Answers {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Submit is the manual submission trigger. If the timer already fired
// (or a submission is in flight) it is a no-op.
func (s *Session) Submit() error {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return nil
	}
	if s.phase != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cd := s.arm()
	s.mu.Unlock()

	// Stop the countdown before any network interaction; a tick racing
	// this submit sees the guard and does nothing.
	if cd != nil {
		cd.Stop()
	}
	s.notify()
	go s.submit()
	return nil
}

// tick is the countdown callback: decrement, fire at zero. Returns
// false to end the countdown.
func (s *Session) tick() bool {
	s.mu.Lock()
	if s.fired || s.phase != Running {
		s.mu.Unlock()
		return false
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.mu.Unlock()
		s.notify()
		return true
	}
	// Time is up: the timer is the submission trigger.
	s.arm()
	s.mu.Unlock()
	s.notify()
	go s.submit()
	return false
}

// arm trips the single-shot guard and freezes the submission inputs.
// Caller holds s.mu. Returns the countdown to stop, if any.
func (s *Session) arm() *Countdown {
	s.fired = true
	s.phase = Submitting
	s.elapsed = s.quiz.DurationSeconds - s.remaining
	cd := s.countdown
	s.countdown = nil
	return cd
}

// submit hands the frozen payload to the collaborator and settles the
// outcome. Runs off the caller's goroutine; the countdown is already
// stopped.
func (s *Session) submit() {
	s.mu.Lock()
	s.attempts++
	sub := s.buildSubmission()
	ctx := s.ctx
	s.mu.Unlock()

	err := s.submitter.SubmitAttempt(ctx, s.quiz.ID, sub)

	s.mu.Lock()
	if err == nil {
		s.phase = Submitted
		s.lastErr = nil
		s.mu.Unlock()
		s.notify()
		return
	}

	s.lastErr = err
	s.log.Warn().Err(err).Int("attempt", s.attempts).Msg("submission failed")

	if s.attempts >= s.opts.MaxSubmitAttempts {
		s.phase = Failed
		s.mu.Unlock()
		s.notify()
		return
	}

	if s.remaining <= 0 {
		// Time already expired: one automatic retry, then give up.
		if s.expired {
			s.phase = Failed
			s.mu.Unlock()
			s.notify()
			return
		}
		s.expired = true
		s.mu.Unlock()
		s.notify()
		go s.submit()
		return
	}

	// Back to Running; the countdown resumes from its last value so the
	// user can retry before time runs out.
	s.phase = Failed
	s.mu.Unlock()
	s.notify()

	s.mu.Lock()
	s.phase = Running
	s.fired = false
	cd := NewCountdown(s.opts.TickInterval, s.tick)
	s.countdown = cd
	s.mu.Unlock()

	cd.Start()
	s.notify()
}

// Abandon cancels the countdown when the owning screen is torn down.
// Safe in any phase; a submission already in flight is not recalled.
func (s *Session) Abandon() {
	s.mu.Lock()
	cd := s.countdown
	s.countdown = nil
	s.mu.Unlock()
	if cd != nil {
		cd.Stop()
	}
}

func (s *Session) buildSubmission() quiz.Submission {
	answers := make([]quiz.QuestionAnswers, len(s.quiz.Questions))
	for i, q := range s.quiz.Questions {
		qa := quiz.QuestionAnswers{QuestionID: q.ID, AnswerIDs: []quiz.ID{}}
		if sel := s.selected[i]; sel != "" {
			qa.AnswerIDs = []quiz.ID{sel}
		}
		answers[i] = qa
	}
	return quiz.Submission{Answers: answers, TimeSpentSeconds: s.elapsed}
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// --- accessors ---

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Selected returns the current answer choice for a question ("" if
// unanswered).
func (s *Session) Selected(question int) quiz.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if question < 0 || question >= len(s.selected) {
		return ""
	}
	return s.selected[question]
}

// LastError returns the most recent submission error, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Quiz returns the quiz under attempt.
func (s *Session) Quiz() quiz.Quiz { return s.quiz }
