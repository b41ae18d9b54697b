// Package quiz holds the domain types shared by the live coordination
// layer: quizzes with their questions and answer candidates, lifecycle
// events, and the canonical identifier type.
package quiz

// Status is a quiz's moderation state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Answer is one selectable candidate for a question.
type Answer struct {
	ID      ID     `json:"_id"`
	Text    string `json:"text"`
	Correct bool   `json:"is_correct,omitempty"`
}

// Question carries an ordered set of answer candidates.
type Question struct {
	ID      ID       `json:"_id"`
	Text    string   `json:"text"`
	Answers []Answer `json:"answers"`
}

// Quiz is the full quiz document as served by the Query collaborator.
type Quiz struct {
	ID              ID         `json:"_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status,omitempty"`
	AuthorID        ID         `json:"author_id,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Questions       []Question `json:"questions"`
}

// QuestionAnswers is one question's selected answer IDs in a submission.
// An unanswered question submits an empty AnswerIDs slice, never a
// guessed default; scoring depends on that.
type QuestionAnswers struct {
	QuestionID ID   `json:"question_id"`
	AnswerIDs  []ID `json:"answer_ids"`
}

// Submission is the outbound attempt payload.
type Submission struct {
	Answers          []QuestionAnswers `json:"answers"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
}
