package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

var (
	ErrQuizNotFound  = errors.New("quiz not found")
	ErrBadTransition = errors.New("quiz not in a state allowing this transition")
)

// Result mirrors the platform's graded-attempt document.
type Result struct {
	QuizID           quiz.ID   `json:"quiz_id"`
	QuizTitle        string    `json:"quiz_title,omitempty"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// LeaderboardEntry is one leaderboard row, best first.
type LeaderboardEntry struct {
	UserID           string `json:"user_id"`
	Score            int    `json:"score"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

type scoreRow struct {
	userID string
	result Result
}

// Store is the dev gateway's in-memory quiz and result state. Every
// moderation transition is reported through the lifecycle callback so
// the hub can broadcast it.
type Store struct {
	log zerolog.Logger

	mu      sync.RWMutex
	quizzes map[quiz.ID]*quiz.Quiz
	order   []quiz.ID
	results map[string][]Result
	byQuiz  map[quiz.ID][]scoreRow

	onLifecycle func(kind quiz.Kind, q quiz.Quiz, actor principal)
}

func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		log:     logger,
		quizzes: make(map[quiz.ID]*quiz.Quiz),
		results: make(map[string][]Result),
		byQuiz:  make(map[quiz.ID][]scoreRow),
	}
}

// OnLifecycle installs the moderation-event callback. Must be set
// before the store is shared.
func (s *Store) OnLifecycle(fn func(kind quiz.Kind, q quiz.Quiz, actor principal)) {
	s.onLifecycle = fn
}

func (s *Store) emit(kind quiz.Kind, q quiz.Quiz, actor principal) {
	if s.onLifecycle != nil {
		s.onLifecycle(kind, q, actor)
	}
}

// Create stores a new quiz in PENDING state, filling in missing IDs.
func (s *Store) Create(q quiz.Quiz, author principal) quiz.Quiz {
	if q.ID == "" {
		q.ID = quiz.ID(uuid.NewString())
	}
	for i := range q.Questions {
		if q.Questions[i].ID == "" {
			q.Questions[i].ID = quiz.ID(uuid.NewString())
		}
		for j := range q.Questions[i].Answers {
			if q.Questions[i].Answers[j].ID == "" {
				q.Questions[i].Answers[j].ID = quiz.ID(uuid.NewString())
			}
		}
	}
	q.Status = quiz.StatusPending
	q.AuthorID = quiz.ID(author.userID)

	s.mu.Lock()
	stored := q
	s.quizzes[q.ID] = &stored
	s.order = append(s.order, q.ID)
	s.mu.Unlock()

	s.log.Info().Str("quiz_id", string(q.ID)).Str("title", q.Title).Msg("quiz created")
	s.emit(quiz.Created, q, author)
	return q
}

// Approve moves a pending quiz to APPROVED.
func (s *Store) Approve(id quiz.ID, actor principal) (quiz.Quiz, error) {
	return s.transition(id, quiz.StatusApproved, quiz.Approved, actor)
}

// Reject moves a pending quiz to REJECTED.
func (s *Store) Reject(id quiz.ID, actor principal) (quiz.Quiz, error) {
	return s.transition(id, quiz.StatusRejected, quiz.Rejected, actor)
}

func (s *Store) transition(id quiz.ID, to quiz.Status, kind quiz.Kind, actor principal) (quiz.Quiz, error) {
	s.mu.Lock()
	q, ok := s.quizzes[id]
	if !ok {
		s.mu.Unlock()
		return quiz.Quiz{}, ErrQuizNotFound
	}
	if q.Status != quiz.StatusPending {
		s.mu.Unlock()
		return quiz.Quiz{}, ErrBadTransition
	}
	q.Status = to
	out := *q
	s.mu.Unlock()

	s.log.Info().Str("quiz_id", string(id)).Stringer("kind", kind).Msg("quiz moderated")
	s.emit(kind, out, actor)
	return out, nil
}

// Delete removes a quiz in any state.
func (s *Store) Delete(id quiz.ID, actor principal) error {
	s.mu.Lock()
	q, ok := s.quizzes[id]
	if !ok {
		s.mu.Unlock()
		return ErrQuizNotFound
	}
	out := *q
	delete(s.quizzes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.log.Info().Str("quiz_id", string(id)).Msg("quiz deleted")
	s.emit(quiz.Deleted, out, actor)
	return nil
}

// Get returns one quiz by ID.
func (s *Store) Get(id quiz.ID) (quiz.Quiz, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[id]
	if !ok {
		return quiz.Quiz{}, false
	}
	return *q, true
}

// List returns quizzes in creation order, optionally filtered by status.
func (s *Store) List(status quiz.Status) []quiz.Quiz {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]quiz.Quiz, 0, len(s.order))
	for _, id := range s.order {
		q := s.quizzes[id]
		if status != "" && q.Status != status {
			continue
		}
		out = append(out, *q)
	}
	return out
}

// ByAuthor returns quizzes created by one user, in creation order.
func (s *Store) ByAuthor(userID string) []quiz.Quiz {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]quiz.Quiz, 0)
	for _, id := range s.order {
		q := s.quizzes[id]
		if q.AuthorID == quiz.ID(userID) {
			out = append(out, *q)
		}
	}
	return out
}

// SubmitResult grades a submission against the stored quiz. A question
// scores when the selected answer set exactly matches the correct set;
// an empty selection on a question with correct answers scores zero.
func (s *Store) SubmitResult(userID string, quizID quiz.ID, sub quiz.Submission) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quizzes[quizID]
	if !ok {
		return Result{}, ErrQuizNotFound
	}

	selected := make(map[quiz.ID][]quiz.ID, len(sub.Answers))
	for _, qa := range sub.Answers {
		selected[qa.QuestionID] = qa.AnswerIDs
	}

	score := 0
	for _, question := range q.Questions {
		if answersMatch(question, selected[question.ID]) {
			score++
		}
	}

	res := Result{
		QuizID:           quizID,
		QuizTitle:        q.Title,
		Score:            score,
		TotalQuestions:   len(q.Questions),
		TimeSpentSeconds: sub.TimeSpentSeconds,
		SubmittedAt:      time.Now().UTC(),
	}
	s.results[userID] = append(s.results[userID], res)
	s.byQuiz[quizID] = append(s.byQuiz[quizID], scoreRow{userID: userID, result: res})
	return res, nil
}

func answersMatch(q quiz.Question, selected []quiz.ID) bool {
	correct := make(map[quiz.ID]bool)
	for _, a := range q.Answers {
		if a.Correct {
			correct[a.ID] = true
		}
	}
	if len(selected) != len(correct) {
		return false
	}
	for _, id := range selected {
		if !correct[id] {
			return false
		}
	}
	return true
}

// ResultsFor returns one user's graded attempts, oldest first.
func (s *Store) ResultsFor(userID string) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, len(s.results[userID]))
	copy(out, s.results[userID])
	return out
}

// Leaderboard returns per-quiz rows ordered by score, ties broken by
// time spent.
func (s *Store) Leaderboard(quizID quiz.ID) []LeaderboardEntry {
	s.mu.RLock()
	rows := make([]scoreRow, len(s.byQuiz[quizID]))
	copy(rows, s.byQuiz[quizID])
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].result.Score != rows[j].result.Score {
			return rows[i].result.Score > rows[j].result.Score
		}
		return rows[i].result.TimeSpentSeconds < rows[j].result.TimeSpentSeconds
	})

	out := make([]LeaderboardEntry, len(rows))
	for i, r := range rows {
		out[i] = LeaderboardEntry{
			UserID:           r.userID,
			Score:            r.result.Score,
			TimeSpentSeconds: r.result.TimeSpentSeconds,
		}
	}
	return out
}
