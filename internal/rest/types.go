package rest

import (
	"time"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

// Result is one graded attempt as reported by the platform.
type Result struct {
	QuizID           quiz.ID   `json:"quiz_id"`
	QuizTitle        string    `json:"quiz_title,omitempty"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// LeaderboardEntry is one row of a per-quiz leaderboard, best first.
type LeaderboardEntry struct {
	UserID           string `json:"user_id"`
	Score            int    `json:"score"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}
