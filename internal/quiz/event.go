package quiz

import (
	"encoding/json"
	"time"
)

// Kind classifies quiz lifecycle events.
type Kind int

const (
	Created Kind = iota
	Approved
	Rejected
	Deleted
)

var kindNames = map[Kind]string{
	Created:  "created",
	Approved: "approved",
	Rejected: "rejected",
	Deleted:  "deleted",
}

var kindFromName = map[string]Kind{
	"created":  Created,
	"approved": Approved,
	"rejected": Rejected,
	"deleted":  Deleted,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// LifecycleEvent records one quiz moderation state change. Events are
// produced only by the server; the client never synthesizes one.
// Treat as immutable once delivered.
type LifecycleEvent struct {
	Kind       Kind      `json:"kind"`
	QuizID     ID        `json:"quizId"`
	Title      string    `json:"title,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Topic names carried on the wire for each lifecycle kind.
const (
	TopicCreated  = "new_quiz_created"
	TopicApproved = "quiz_approved"
	TopicRejected = "quiz_rejected"
	TopicDeleted  = "quiz_deleted"
)

// Topics lists the lifecycle topics in a stable order.
func Topics() []string {
	return []string{TopicCreated, TopicApproved, TopicRejected, TopicDeleted}
}

// KindForTopic maps a wire topic name to its lifecycle kind.
func KindForTopic(topic string) (Kind, bool) {
	switch topic {
	case TopicCreated:
		return Created, true
	case TopicApproved:
		return Approved, true
	case TopicRejected:
		return Rejected, true
	case TopicDeleted:
		return Deleted, true
	}
	return 0, false
}
