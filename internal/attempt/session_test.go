package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []quiz.Submission
	errs []error // scripted outcomes, popped per call; nil after
}

func (f *fakeSubmitter) SubmitAttempt(_ context.Context, _ quiz.ID, sub quiz.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSubmitter) submission(i int) quiz.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func testQuiz(duration int) quiz.Quiz {
	return quiz.Quiz{
		ID:              "quiz-1",
		Title:           "Capitals",
		DurationSeconds: duration,
		Questions: []quiz.Question{
			{ID: "q1", Text: "Capital of France?", Answers: []quiz.Answer{
				{ID: "a1", Text: "Paris"},
				{ID: "a2", Text: "Lyon"},
			}},
			{ID: "q2", Text: "Capital of Peru?", Answers: []quiz.Answer{
				{ID: "a3", Text: "Lima"},
				{ID: "a4", Text: "Cusco"},
			}},
		},
	}
}

func newTestSession(q quiz.Quiz, sub Submitter, maxAttempts int) *Session {
	return NewSession(q, sub, Options{
		TickInterval:      time.Millisecond,
		MaxSubmitAttempts: maxAttempts,
		Logger:            zerolog.Nop(),
	})
}

func waitPhase(t *testing.T, s *Session, want Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Phase() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached %v (stuck at %v)", want, s.Phase())
}

// setRemaining rewinds the countdown for deterministic timing tests.
func setRemaining(s *Session, remaining int) {
	s.mu.Lock()
	s.remaining = remaining
	s.mu.Unlock()
}

func TestTimerExpirySubmitsExactlyOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestSession(testQuiz(3), sub, 3)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitPhase(t, s, Submitted)

	// Let any stray tick surface before counting.
	time.Sleep(20 * time.Millisecond)
	if n := sub.calls(); n != 1 {
		t.Fatalf("expected exactly one submission, got %d", n)
	}
	got := sub.submission(0)
	if got.TimeSpentSeconds != 3 {
		t.Errorf("time spent: expected full duration 3, got %d", got.TimeSpentSeconds)
	}
	for i, qa := range got.Answers {
		if len(qa.AnswerIDs) != 0 {
			t.Errorf("question %d: unanswered must submit empty ids, got %v", i, qa.AnswerIDs)
		}
	}
	if s.Remaining() != 0 {
		t.Errorf("remaining after expiry: %d", s.Remaining())
	}
}

func TestManualSubmitPayloadScenario(t *testing.T) {
	// duration=600s, Q1 answered a1, Q2 unanswered, manual submit at
	// remaining=550 -> time_spent_seconds=50.
	sub := &fakeSubmitter{}
	s := NewSession(testQuiz(600), sub, Options{
		TickInterval: time.Hour, // timer must not interfere
		Logger:       zerolog.Nop(),
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SelectAnswer(0, "a1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	setRemaining(s, 550)

	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitPhase(t, s, Submitted)

	if n := sub.calls(); n != 1 {
		t.Fatalf("expected one submission, got %d", n)
	}
	got := sub.submission(0)
	if got.TimeSpentSeconds != 50 {
		t.Errorf("time spent: expected 50, got %d", got.TimeSpentSeconds)
	}
	if len(got.Answers) != 2 {
		t.Fatalf("expected 2 answer entries, got %d", len(got.Answers))
	}
	if got.Answers[0].QuestionID != "q1" || len(got.Answers[0].AnswerIDs) != 1 || got.Answers[0].AnswerIDs[0] != "a1" {
		t.Errorf("q1 entry: %+v", got.Answers[0])
	}
	if got.Answers[1].QuestionID != "q2" || len(got.Answers[1].AnswerIDs) != 0 {
		t.Errorf("q2 entry must be empty selection: %+v", got.Answers[1])
	}
}

func TestManualSubmitBeatsTimer(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestSession(testQuiz(5), sub, 3)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitPhase(t, s, Submitted)

	// Even with the 1ms timer racing, the guard admits one submission.
	time.Sleep(20 * time.Millisecond)
	if n := sub.calls(); n != 1 {
		t.Errorf("expected exactly one submission, got %d", n)
	}
	// A second manual submit is a silent no-op.
	if err := s.Submit(); err != nil {
		t.Errorf("repeat submit should be a no-op, got %v", err)
	}
	if n := sub.calls(); n != 1 {
		t.Errorf("repeat submit fired again: %d calls", n)
	}
}

func TestSubmitFailureReturnsToRunningThenSucceeds(t *testing.T) {
	sub := &fakeSubmitter{errs: []error{errors.New("boom")}}
	s := NewSession(testQuiz(600), sub, Options{
		TickInterval: time.Hour,
		Logger:       zerolog.Nop(),
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	setRemaining(s, 400)
	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Failed is transient; the session resumes Running for a retry.
	waitPhase(t, s, Running)
	if s.LastError() == nil {
		t.Error("expected a recorded submission error")
	}

	if err := s.Submit(); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	waitPhase(t, s, Submitted)
	if n := sub.calls(); n != 2 {
		t.Errorf("expected 2 submission calls, got %d", n)
	}
}

func TestSubmitRetryCeiling(t *testing.T) {
	boom := errors.New("boom")
	sub := &fakeSubmitter{errs: []error{boom, boom, boom, boom}}
	s := NewSession(testQuiz(600), sub, Options{
		TickInterval:      time.Hour,
		MaxSubmitAttempts: 3,
		Logger:            zerolog.Nop(),
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	setRemaining(s, 500)

	for i := 0; i < 2; i++ {
		if err := s.Submit(); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		waitPhase(t, s, Running)
	}
	if err := s.Submit(); err != nil {
		t.Fatalf("final submit: %v", err)
	}
	waitPhase(t, s, Failed)

	time.Sleep(20 * time.Millisecond)
	if n := sub.calls(); n != 3 {
		t.Errorf("expected the ceiling of 3 attempts, got %d", n)
	}
	if s.Phase() != Failed {
		t.Errorf("Failed must be terminal once the ceiling is hit, got %v", s.Phase())
	}
}

func TestExpiredFailureRetriesOnceThenGivesUp(t *testing.T) {
	boom := errors.New("boom")
	sub := &fakeSubmitter{errs: []error{boom, boom}}
	s := newTestSession(testQuiz(1), sub, 5)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitPhase(t, s, Failed)

	time.Sleep(20 * time.Millisecond)
	if n := sub.calls(); n != 2 {
		t.Errorf("expected expiry submit + one automatic retry, got %d", n)
	}
}

func TestExpiredFailureAutoRetrySucceeds(t *testing.T) {
	sub := &fakeSubmitter{errs: []error{errors.New("boom")}}
	s := newTestSession(testQuiz(1), sub, 5)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitPhase(t, s, Submitted)
	if n := sub.calls(); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestSelectAnswerValidation(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewSession(testQuiz(600), sub, Options{TickInterval: time.Hour, Logger: zerolog.Nop()})

	if err := s.SelectAnswer(0, "a1"); err != ErrNotRunning {
		t.Errorf("select before start: expected ErrNotRunning, got %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tests := []struct {
		name     string
		question int
		answer   quiz.ID
		wantErr  error
	}{
		{name: "Valid", question: 0, answer: "a1"},
		{name: "LastWriteWins", question: 0, answer: "a2"},
		{name: "Clear", question: 0, answer: ""},
		{name: "BadIndex", question: 7, answer: "a1", wantErr: ErrBadQuestion},
		{name: "NegativeIndex", question: -1, answer: "a1", wantErr: ErrBadQuestion},
		{name: "WrongQuestion", question: 1, answer: "a1", wantErr: ErrBadAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SelectAnswer(tt.question, tt.answer); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if got := s.Selected(0); got != "" {
		t.Errorf("cleared selection should be empty, got %q", got)
	}
}

func TestStartTwice(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewSession(testQuiz(600), sub, Options{TickInterval: time.Hour, Logger: zerolog.Nop()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestAbandonStopsTimerAndSubmission(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestSession(testQuiz(600), sub, 3)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Abandon()
	s.Abandon() // idempotent

	time.Sleep(20 * time.Millisecond)
	if n := sub.calls(); n != 0 {
		t.Errorf("abandoned session still submitted %d times", n)
	}
}

func TestRemainingNeverGoesBackward(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestSession(testQuiz(50), sub, 3)

	var mu sync.Mutex
	var samples []int
	s.opts.OnChange = func() {
		mu.Lock()
		samples = append(samples, s.Remaining())
		mu.Unlock()
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitPhase(t, s, Submitted)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(samples); i++ {
		if samples[i] > samples[i-1] {
			t.Fatalf("remaining went backward: %d then %d", samples[i-1], samples[i])
		}
	}
}
